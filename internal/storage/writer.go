package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
)

// ErrChangeLogClosed is returned by Publish after Close.
var ErrChangeLogClosed = errors.New("change log closed")

// ChangeLogEntry is one line of the change log.
type ChangeLogEntry struct {
	PublishedAt time.Time             `json:"published_at"`
	Changes     []domain.WindowChange `json:"changes"`
}

// ChangeLog appends every published change set to an NDJSON file. A single
// goroutine owns the file; Publish only hands entries over the channel.
type ChangeLog struct {
	FilePath string

	entries   chan ChangeLogEntry
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
	now       func() time.Time
}

func NewChangeLog(path string, logger *slog.Logger) *ChangeLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeLog{
		FilePath: path,
		entries:  make(chan ChangeLogEntry, 16),
		done:     make(chan struct{}),
		logger:   logger,
		now:      time.Now,
	}
}

// Start drains published entries into the file until Close is called.
func (c *ChangeLog) Start(wg *sync.WaitGroup) {
	defer wg.Done()

	var enc *json.Encoder
	if err := os.MkdirAll(filepath.Dir(c.FilePath), 0755); err != nil {
		c.logger.Error("Change log unavailable", "path", c.FilePath, "err", err)
	} else if f, err := os.OpenFile(c.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err != nil {
		c.logger.Error("Change log unavailable", "path", c.FilePath, "err", err)
	} else {
		defer f.Close()
		enc = json.NewEncoder(f)
	}

	write := func(entry ChangeLogEntry) {
		if enc == nil {
			return
		}
		if err := enc.Encode(entry); err != nil {
			c.logger.Warn("Change log write failed", "err", err)
		}
	}

	for {
		select {
		case entry := <-c.entries:
			write(entry)
		case <-c.done:
			// flush what was queued before Close
			for {
				select {
				case entry := <-c.entries:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// Publish queues a change set for the log. After Close it returns
// ErrChangeLogClosed.
func (c *ChangeLog) Publish(ctx context.Context, changes []domain.WindowChange) error {
	select {
	case <-c.done:
		return ErrChangeLogClosed
	default:
	}

	entry := ChangeLogEntry{PublishedAt: c.now().UTC(), Changes: changes}
	select {
	case c.entries <- entry:
		return nil
	case <-c.done:
		return ErrChangeLogClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops Start once the queued entries are written. It is safe to call
// more than once.
func (c *ChangeLog) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
