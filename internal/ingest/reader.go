package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/normalize"
)

// LoadTargets reads the tracked-item registry, a JSON object mapping item ids
// to source URLs. Entries come back in document order; blank ids or URLs are
// skipped.
func LoadTargets(path string) ([]domain.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTargets(f)
}

// ReadTargets decodes a registry document from r.
func ReadTargets(r io.Reader) ([]domain.Target, error) {
	dec := json.NewDecoder(normalize.StripBOM(r))

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("registry: expected object, got %v", tok)
	}

	var targets []domain.Target
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		key := tok.(string)

		var url string
		if err := dec.Decode(&url); err != nil {
			return nil, fmt.Errorf("registry entry %q: %w", key, err)
		}

		// Validation (Fail-Soft)
		id := strings.TrimSpace(key)
		url = strings.TrimSpace(url)
		if id == "" || url == "" || seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, domain.Target{ItemID: id, URL: url})
	}
	return targets, nil
}

// Registry reads the tracked-item registry file afresh on every call, so
// edits made by other tools are picked up by the next execution. A missing
// file is an empty registry.
type Registry struct {
	Path   string
	Logger *slog.Logger
}

func (r Registry) Targets() ([]domain.Target, error) {
	targets, err := LoadTargets(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		logger := r.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Registry file not found, tracking nothing", "path", r.Path)
		return nil, nil
	}
	return targets, err
}
