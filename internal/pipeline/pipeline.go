// Package pipeline runs one ingestion pass: fetch every tracked item,
// normalize the snapshots, merge them into the history and recompute the
// trailing-window price changes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qepting91/price-tracker/internal/aggregate"
	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/normalize"
)

// TargetSource provides the tracked items for an execution.
type TargetSource interface {
	Targets() ([]domain.Target, error)
}

// Store is the subset of the history store the pipeline needs.
type Store interface {
	Merge(batch []domain.Record) (domain.MergeResult, error)
	All() []domain.Record
}

// Publisher receives the recomputed window changes after each execution.
type Publisher interface {
	Publish(ctx context.Context, changes []domain.WindowChange) error
}

// Publishers fans a change set out to several publishers. Every publisher
// is called; their errors are joined.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, changes []domain.WindowChange) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, changes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config holds pipeline configuration.
type Config struct {
	Workers      int           // Concurrent fetches (default: 4)
	FetchTimeout time.Duration // Per-item fetch timeout (default: 20s)
	Window       time.Duration // Trailing window (default: 48h)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		FetchTimeout: 20 * time.Second,
		Window:       aggregate.DefaultWindow,
	}
}

// Result describes one execution.
type Result struct {
	RunID       string                      `json:"run_id"`
	StartedAt   time.Time                   `json:"started_at"`
	FinishedAt  time.Time                   `json:"finished_at"`
	Targets     int                         `json:"targets"`
	Fetched     int                         `json:"fetched"`
	FetchErrors int                         `json:"fetch_errors"`
	ParseErrors int                         `json:"parse_errors"`
	Rejected    map[domain.RejectReason]int `json:"rejected,omitempty"`
	Merge       domain.MergeResult          `json:"merge"`
	Changes     []domain.WindowChange       `json:"changes"`
}

// Pipeline wires the fetcher, normalizer, store and aggregator together.
type Pipeline struct {
	cfg       Config
	targets   TargetSource
	fetcher   domain.Fetcher
	store     Store
	publisher Publisher
	logger    *slog.Logger

	mu     sync.RWMutex
	latest Result
}

// New creates a Pipeline. publisher may be nil.
func New(cfg Config, targets TargetSource, fetcher domain.Fetcher, store Store, publisher Publisher, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		targets:   targets,
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Execute runs one pass and discards the result; it satisfies the
// scheduler's Runner interface.
func (p *Pipeline) Execute(ctx context.Context) error {
	_, err := p.Run(ctx)
	return err
}

type fetchResult struct {
	snap domain.Snapshot
	err  error
}

// Run executes Fetch → Normalize → Merge → Aggregate once. Per-item failures
// are logged and skipped; only registry and store failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := p.logger.With("run", res.RunID)

	targets, err := p.targets.Targets()
	if err != nil {
		return res, fmt.Errorf("loading registry: %w", err)
	}
	res.Targets = len(targets)
	logger.Info("Starting ingestion", "targets", len(targets))

	results := p.fetchAll(ctx, targets)

	snaps := make([]domain.Snapshot, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			if errors.Is(r.err, domain.ErrParse) {
				res.ParseErrors++
			} else {
				res.FetchErrors++
			}
			logger.Warn("Fetch failed", "item", targets[i].ItemID, "err", r.err)
			continue
		}
		snaps = append(snaps, r.snap)
	}
	res.Fetched = len(snaps)

	batch, rejected := normalize.Batch(snaps)
	if len(rejected) > 0 {
		res.Rejected = rejected
		logger.Warn("Snapshots rejected", "rejected", rejected)
	}

	res.Merge, err = p.store.Merge(batch)
	if err != nil {
		logger.Error("History merge failed", "err", err)
		return res, err
	}

	res.Changes = aggregate.Changes(p.store.All(), p.cfg.Window)
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, res.Changes); err != nil {
			logger.Warn("Publishing window changes failed", "err", err)
		}
	}
	res.FinishedAt = time.Now()

	p.mu.Lock()
	p.latest = res
	p.mu.Unlock()

	logger.Info("Ingestion complete",
		"fetched", res.Fetched,
		"accepted", res.Merge.Accepted,
		"deduped", res.Merge.DedupedCount,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res, nil
}

// fetchAll fans targets out to a bounded worker pool and returns results in
// target order.
func (p *Pipeline) fetchAll(ctx context.Context, targets []domain.Target) []fetchResult {
	results := make([]fetchResult, len(targets))
	jobQueue := make(chan int, len(targets))
	for i := range targets {
		jobQueue <- i
	}
	close(jobQueue)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers && w < len(targets); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobQueue {
				results[i] = p.fetchOne(ctx, targets[i])
			}
		}()
	}
	wg.Wait()
	return results
}

func (p *Pipeline) fetchOne(ctx context.Context, t domain.Target) (fr fetchResult) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			fr = fetchResult{err: fmt.Errorf("%w: fetcher panic: %v", domain.ErrFetch, r)}
		}
	}()

	snap, err := p.fetcher.Fetch(ctx, t)
	if err != nil && !errors.Is(err, domain.ErrFetch) && !errors.Is(err, domain.ErrParse) {
		err = fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	return fetchResult{snap: snap, err: err}
}

// Latest returns the result of the most recent successful execution.
func (p *Pipeline) Latest() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Changes recomputes the window changes from the current history.
func (p *Pipeline) Changes() []domain.WindowChange {
	return aggregate.Changes(p.store.All(), p.cfg.Window)
}
