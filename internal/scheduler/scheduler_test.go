package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// countingRunner counts executions; when gate is set each execution
// announces itself on started and blocks until gate is closed.
type countingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
	err     error
}

func newBlockingRunner() *countingRunner {
	return &countingRunner{started: make(chan struct{}, 10), gate: make(chan struct{})}
}

func (r *countingRunner) Execute(ctx context.Context) error {
	r.calls.Add(1)
	if r.gate != nil {
		r.started <- struct{}{}
		<-r.gate
	}
	return r.err
}

func newTestScheduler(t *testing.T, c Cadence, r Runner) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	s, err := New(c, r, nil, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestCadence_Validate(t *testing.T) {
	tests := []struct {
		name  string
		c     Cadence
		field string
	}{
		{"interval ok", Every(15, Minutes), ""},
		{"hours ok", Every(2, Hours), ""},
		{"zero value", Every(0, Minutes), "value"},
		{"negative value", Every(-3, Hours), "value"},
		{"bad unit", Every(5, "days"), "unit"},
		{"times ok", At("09:00", "23:59", "00:00"), ""},
		{"no times", At(), "fixed_times"},
		{"bad hour", At("24:00"), "fixed_times"},
		{"bad minute", At("09:60"), "fixed_times"},
		{"single digit hour", At("9:00"), "fixed_times"},
		{"garbage", At("noon"), "fixed_times"},
		{"unknown mode", Cadence{Mode: "cron"}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *domain.ScheduleConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestCadence_Next(t *testing.T) {
	assert.Equal(t, t0.Add(15*time.Minute), Every(15, Minutes).Next(t0))
	assert.Equal(t, t0.Add(2*time.Hour), Every(2, Hours).Next(t0))

	daily := At("19:00", "09:00", "13:00")
	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), daily.Next(t0))
	// a time exactly now is not "next"
	assert.Equal(t, time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC), daily.Next(time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)))
	// wraps to tomorrow, including across a month end
	assert.Equal(t, time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), daily.Next(time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC)))
}

func TestCadence_NormalizedTimes(t *testing.T) {
	c := At(" 19:00", "09:00", "19:00").normalized()
	assert.Equal(t, []string{"09:00", "19:00"}, c.Times)

	iv := Cadence{Mode: ModeInterval, Value: 5, Unit: Minutes, Times: []string{"09:00"}}.normalized()
	assert.Nil(t, iv.Times)
}

func TestNew_RejectsInvalidCadence(t *testing.T) {
	_, err := New(Every(0, Minutes), &countingRunner{}, nil)
	var cfgErr *domain.ScheduleConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestStart_FiresImmediately(t *testing.T) {
	r := &countingRunner{}
	s, _ := newTestScheduler(t, Every(1, Hours), r)

	s.Start()
	s.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	st := s.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.NextFire)
	assert.Equal(t, t0.Add(time.Hour), *st.NextFire)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, t0, *st.LastRun)

	// already running: no-op
	s.Start()
	s.Wait()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestTick_FiresWhenDue(t *testing.T) {
	r := &countingRunner{}
	s, _ := newTestScheduler(t, Every(1, Hours), r)
	s.Start()
	s.Wait()

	s.tick(t0.Add(30 * time.Minute))
	s.Wait()
	assert.Equal(t, int32(1), r.calls.Load())

	s.tick(t0.Add(time.Hour + time.Second))
	s.Wait()
	assert.Equal(t, int32(2), r.calls.Load())
	assert.Equal(t, t0.Add(2*time.Hour+time.Second), *s.Status().NextFire)
}

func TestTick_IgnoredWhileStopped(t *testing.T) {
	r := &countingRunner{}
	s, _ := newTestScheduler(t, Every(1, Minutes), r)

	s.tick(t0.Add(time.Hour))
	s.Wait()
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestTick_SkippedNotQueuedWhileLocked(t *testing.T) {
	r := newBlockingRunner()
	s, _ := newTestScheduler(t, Every(10, Minutes), r)

	s.Start()
	<-r.started

	// due while the start execution still holds the run-lock
	s.tick(t0.Add(10 * time.Minute))
	assert.Eventually(t, func() bool { return s.Status().Skipped == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, t0.Add(20*time.Minute), *s.Status().NextFire)

	close(r.gate)
	s.Wait()
	assert.Equal(t, int32(1), r.calls.Load())

	// nothing was queued: the next opportunity is the next due tick
	s.tick(t0.Add(15 * time.Minute))
	s.Wait()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRunNow_RunLockExclusive(t *testing.T) {
	r := newBlockingRunner()
	s, _ := newTestScheduler(t, Every(1, Hours), r)

	done := make(chan bool)
	go func() {
		ran, _ := s.RunNow(context.Background())
		done <- ran
	}()
	<-r.started
	assert.True(t, s.Status().Executing)

	ran, err := s.RunNow(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)

	close(r.gate)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.False(t, s.Status().Executing)
	assert.Equal(t, int64(1), s.Status().Skipped)

	// the lock is free again
	ran, err = s.RunNow(context.Background())
	assert.True(t, ran)
	assert.NoError(t, err)
}

func TestRunNow_ReleasesLockOnErrorAndPanic(t *testing.T) {
	boom := errors.New("store unavailable")
	s, _ := newTestScheduler(t, Every(1, Hours), RunnerFunc(func(ctx context.Context) error {
		return boom
	}))
	ran, err := s.RunNow(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "store unavailable", s.Status().LastError)

	s.runner = RunnerFunc(func(ctx context.Context) error { panic("nil fetcher") })
	ran, err = s.RunNow(context.Background())
	assert.True(t, ran)
	assert.ErrorContains(t, err, "nil fetcher")

	s.runner = RunnerFunc(func(ctx context.Context) error { return nil })
	ran, err = s.RunNow(context.Background())
	assert.True(t, ran)
	assert.NoError(t, err)
	assert.Empty(t, s.Status().LastError)
}

func TestSetCadence_WhileRunningRearmsWithoutFiring(t *testing.T) {
	r := &countingRunner{}
	s, clock := newTestScheduler(t, Every(1, Hours), r)
	s.Start()
	s.Wait()

	clock.Set(t0.Add(time.Minute))
	require.NoError(t, s.SetCadence(Every(5, Minutes)))
	s.Wait()

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, Every(5, Minutes), st.Cadence)
	assert.Equal(t, t0.Add(6*time.Minute), *st.NextFire)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestSetCadence_WhileStoppedAppliesOnStart(t *testing.T) {
	r := &countingRunner{}
	s, _ := newTestScheduler(t, Every(1, Hours), r)

	require.NoError(t, s.SetCadence(At("13:00")))
	st := s.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.NextFire)
	assert.Equal(t, int32(0), r.calls.Load())

	s.Start()
	s.Wait()
	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), *s.Status().NextFire)
}

func TestSetCadence_InvalidKeepsPrevious(t *testing.T) {
	s, _ := newTestScheduler(t, Every(1, Hours), &countingRunner{})
	s.Start()
	s.Wait()
	before := s.Status()

	err := s.SetCadence(At("25:00"))
	var cfgErr *domain.ScheduleConfigError
	require.True(t, errors.As(err, &cfgErr))

	after := s.Status()
	assert.Equal(t, before.Cadence, after.Cadence)
	assert.Equal(t, before.NextFire, after.NextFire)
}

func TestStop_DoesNotInterruptExecution(t *testing.T) {
	r := newBlockingRunner()
	s, _ := newTestScheduler(t, Every(1, Minutes), r)

	s.Start()
	<-r.started
	s.Stop()

	st := s.Status()
	assert.False(t, st.Running)
	assert.True(t, st.Executing)
	assert.Nil(t, st.NextFire)

	close(r.gate)
	s.Wait()
	assert.Equal(t, int64(1), s.Status().Runs)

	// stopping twice is harmless and ticks no longer fire
	s.Stop()
	s.tick(t0.Add(time.Hour))
	s.Wait()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRun_LoopStopsOnCancel(t *testing.T) {
	r := &countingRunner{}
	s, err := New(Every(1, Minutes), r, nil, WithResolution(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Start()
	assert.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop")
	}
	assert.False(t, s.Status().Running)
}

func TestRun_ShutdownWaitsForManualExecution(t *testing.T) {
	r := newBlockingRunner()
	s, err := New(Every(1, Minutes), r, nil, WithResolution(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	go s.RunNow(context.Background())
	<-r.started

	cancel()
	select {
	case <-done:
		t.Fatal("loop returned while a manual execution was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop")
	}
	assert.Equal(t, int64(1), s.Status().Runs)
}

func TestWithContext_EarlyStartSeesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan context.Context, 1)
	runner := RunnerFunc(func(ctx context.Context) error {
		seen <- ctx
		return nil
	})

	s, err := New(Every(1, Minutes), runner, nil, WithContext(ctx))
	require.NoError(t, err)

	// Start before Run has installed its context
	s.Start()
	s.Wait()

	got := <-seen
	cancel()
	assert.ErrorIs(t, got.Err(), context.Canceled)
}
