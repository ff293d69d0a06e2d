package storage

import (
	"log/slog"
	"os"
	"sync"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/normalize"
)

// HistoryStore owns the deduplicated price history file. The whole file is
// rewritten on every merge; fine for the few thousand rows a tracker
// accumulates, an append log with compaction would be the next step.
type HistoryStore struct {
	path   string
	logger *slog.Logger

	writeMu sync.Mutex // serializes merges

	mu      sync.RWMutex
	records []domain.Record
}

type dedupKey struct {
	itemID, title, price, url, date, time string
}

func keyOf(r domain.Record) dedupKey {
	d, t := normalize.DateTime(r.CapturedAt)
	return dedupKey{
		itemID: r.ItemID,
		title:  r.Title,
		price:  normalize.PriceKey(r.Price),
		url:    r.URL,
		date:   d,
		time:   t,
	}
}

// Open loads the history at path and runs the cleaning pass over it. A
// missing file is an empty history.
func Open(path string, logger *slog.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HistoryStore{path: path, logger: logger}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		logger.Info("History file not found, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, &domain.StoreIOError{Op: "open", Path: path, Err: err}
	}
	loaded, err := readCSV(f)
	f.Close()
	if err != nil {
		return nil, &domain.StoreIOError{Op: "read", Path: path, Err: err}
	}

	s.records = loaded.records
	removed, err := s.cleanup(loaded.skipped, loaded.legacy)
	if err != nil {
		return nil, err
	}
	logger.Info("History loaded", "path", path, "records", len(s.records), "removed", removed)
	return s, nil
}

// Path returns the backing file location.
func (s *HistoryStore) Path() string { return s.path }

// All returns a copy of the history in persisted order.
func (s *HistoryStore) All() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Merge appends batch after the existing records and keeps the first record
// seen for every dedup key, so earlier insertions win regardless of their
// timestamps. On a write failure the in-memory history is left untouched.
func (s *HistoryStore) Merge(batch []domain.Record) (domain.MergeResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing := s.All()
	combined := make([]domain.Record, 0, len(existing)+len(batch))
	combined = append(combined, existing...)
	combined = append(combined, batch...)

	kept, dropped := dedup(combined)
	res := domain.MergeResult{
		Accepted:     len(kept) - len(existing) + countBefore(dropped, len(existing)),
		DedupedCount: len(dropped),
	}

	if err := writeAtomic(s.path, kept); err != nil {
		return domain.MergeResult{}, err
	}

	s.mu.Lock()
	s.records = kept
	s.mu.Unlock()
	return res, nil
}

// CleanupInvalid removes records that fail the snapshot rules together with
// exact duplicates, rewriting the file only when something was removed.
func (s *HistoryStore) CleanupInvalid() (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.cleanup(0, false)
}

func (s *HistoryStore) cleanup(skipped int, rewrite bool) (int, error) {
	current := s.All()
	valid := current[:0:0]
	for _, r := range current {
		if err := normalize.Validate(r); err != nil {
			s.logger.Debug("Dropping invalid history row", "item", r.ItemID, "err", err)
			continue
		}
		r.Category = normalize.Category(r.ItemID)
		valid = append(valid, r)
	}
	kept, dropped := dedup(valid)
	removed := skipped + (len(current) - len(valid)) + len(dropped)

	if removed > 0 || rewrite {
		if err := writeAtomic(s.path, kept); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	s.records = kept
	s.mu.Unlock()
	return removed, nil
}

// dedup keeps the first occurrence of every key and returns the positions
// of discarded records.
func dedup(in []domain.Record) ([]domain.Record, []int) {
	seen := make(map[dedupKey]struct{}, len(in))
	kept := make([]domain.Record, 0, len(in))
	var dropped []int
	for i, r := range in {
		k := keyOf(r)
		if _, ok := seen[k]; ok {
			dropped = append(dropped, i)
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, r)
	}
	return kept, dropped
}

func countBefore(positions []int, n int) int {
	c := 0
	for _, p := range positions {
		if p < n {
			c++
		}
	}
	return c
}
