// Package scheduler drives the ingestion pipeline on a recurring cadence.
//
// The Scheduler:
//   - Owns the cadence, the running flag and the next fire time behind one mutex
//   - Polls at a short fixed resolution and fires when a trigger is due
//   - Allows at most one execution at a time; due ticks that find the run-lock
//     held are skipped, never queued
//   - Never cancels an in-flight execution on Stop
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Runner executes one pipeline pass.
type Runner interface {
	Execute(ctx context.Context) error
}

// RunnerFunc is a function adapter for Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Controller is the command surface front ends drive the scheduler through.
type Controller interface {
	Start()
	Stop()
	SetCadence(c Cadence) error
	RunNow(ctx context.Context) (bool, error)
	Status() Status
}

// Status is a read-only view of the scheduler.
type Status struct {
	Running   bool       `json:"running"`
	Executing bool       `json:"executing"`
	Cadence   Cadence    `json:"cadence"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextFire  *time.Time `json:"next_fire,omitempty"`
	Runs      int64      `json:"runs"`
	Skipped   int64      `json:"skipped"`
}

// DefaultResolution is how often the polling loop checks for due triggers.
const DefaultResolution = time.Second

// Scheduler triggers a Runner on a Cadence.
type Scheduler struct {
	runner     Runner
	logger     *slog.Logger
	resolution time.Duration
	now        func() time.Time

	mu       sync.Mutex
	cadence  Cadence
	running  bool
	nextFire time.Time
	lastRun  time.Time
	lastErr  error
	execCtx  context.Context

	runLock atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithResolution sets the polling period.
func WithResolution(d time.Duration) Option {
	return func(s *Scheduler) { s.resolution = d }
}

// WithClock replaces time.Now; fixed times are evaluated in the returned
// time's location.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithContext sets the context executions run under until Run installs its
// own, so an early Start still observes shutdown.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.execCtx = ctx }
}

// New creates a stopped Scheduler. An invalid cadence is rejected.
func New(cadence Cadence, runner Runner, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if err := cadence.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:     runner,
		logger:     logger,
		resolution: DefaultResolution,
		now:        time.Now,
		cadence:    cadence.normalized(),
		execCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run is the polling loop. It blocks until ctx is cancelled, then stops the
// scheduler and waits for any execution in progress, manual ones included.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.execCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	s.logger.Info("Scheduler loop started", "resolution", s.resolution)
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			s.wg.Wait()
			s.waitIdle()
			s.logger.Info("Scheduler loop stopped")
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// Start arms triggers for the current cadence and fires one execution
// right away. It is a no-op while running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	now := s.now()
	s.running = true
	s.nextFire = s.cadence.Next(now)
	next, cadence := s.nextFire, s.cadence
	s.mu.Unlock()

	s.logger.Info("Scheduler started", "cadence", cadence.String(), "next_fire", next)
	s.dispatch("start")
}

// Stop disarms all triggers. An execution in progress runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.nextFire = time.Time{}
	s.logger.Info("Scheduler stopped")
}

// SetCadence replaces the cadence. While running, triggers are rearmed
// without firing; while stopped the cadence applies from the next Start.
func (s *Scheduler) SetCadence(c Cadence) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c = c.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cadence = c
	if s.running {
		s.nextFire = c.Next(s.now())
	}
	s.logger.Info("Cadence updated", "cadence", c.String(), "running", s.running)
	return nil
}

// RunNow executes the pipeline synchronously unless an execution is already
// in progress, in which case it returns false without doing anything.
func (s *Scheduler) RunNow(ctx context.Context) (bool, error) {
	return s.execute(ctx, "manual")
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:   s.running,
		Executing: s.runLock.Load(),
		Cadence:   s.cadence,
		Runs:      s.runs.Load(),
		Skipped:   s.skipped.Load(),
	}
	st.Cadence.Times = append([]string(nil), s.cadence.Times...)
	if !s.lastRun.IsZero() {
		t := s.lastRun
		st.LastRun = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if !s.nextFire.IsZero() {
		t := s.nextFire
		st.NextFire = &t
	}
	return st
}

// tick fires when the armed trigger is due. The following trigger is
// computed from now, so missed or skipped ticks do not pile up.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	if !s.running || s.nextFire.IsZero() || now.Before(s.nextFire) {
		s.mu.Unlock()
		return
	}
	s.nextFire = s.cadence.Next(now)
	s.mu.Unlock()

	s.dispatch("tick")
}

func (s *Scheduler) dispatch(trigger string) {
	s.mu.Lock()
	ctx := s.execCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, trigger)
	}()
}

// execute is the single entry point for every execution; the run-lock makes
// it at-most-one.
func (s *Scheduler) execute(ctx context.Context, trigger string) (ran bool, err error) {
	if !s.runLock.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Info("Execution skipped, previous run still in progress", "trigger", trigger)
		return false, nil
	}
	defer s.runLock.Store(false)

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		s.mu.Lock()
		s.lastRun = start
		s.lastErr = err
		s.mu.Unlock()
		s.runs.Add(1)
		if err != nil {
			s.logger.Error("Execution failed", "trigger", trigger, "err", err)
		}
	}()

	s.logger.Debug("Execution started", "trigger", trigger)
	ran = true
	err = s.runner.Execute(ctx)
	return ran, err
}

// Wait blocks until executions dispatched by Start or by ticks have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// waitIdle blocks until the run-lock is free. RunNow executions are not
// tracked by wg since their callers own them.
func (s *Scheduler) waitIdle() {
	for s.runLock.Load() {
		time.Sleep(10 * time.Millisecond)
	}
}
