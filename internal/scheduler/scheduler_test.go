package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// always is due on every evaluation.
type always struct{}

func (always) First(now time.Time) time.Time       { return now }
func (always) Next(start, end time.Time) time.Time { return start }

func startScheduler(t *testing.T, jobs []Job, opts ...Option) (*Scheduler, context.CancelFunc, <-chan error) {
	t.Helper()
	s, err := New(jobs, append([]Option{WithTick(5 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, cancel, done
}

func TestNewValidatesJobs(t *testing.T) {
	run := func(context.Context) error { return nil }
	tests := []struct {
		name string
		jobs []Job
	}{
		{"missing name", []Job{{Cadence: always{}, Run: run}}},
		{"missing cadence", []Job{{Name: "a", Run: run}}},
		{"missing run", []Job{{Name: "a", Cadence: always{}}}},
		{"negative jitter", []Job{{Name: "a", Cadence: always{}, Run: run, Jitter: -time.Second}}},
		{"duplicate", []Job{{Name: "a", Cadence: always{}, Run: run}, {Name: "a", Cadence: always{}, Run: run}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.jobs)
			assert.Error(t, err)
		})
	}
}

func TestRunningJobIsSkippedNotQueued(t *testing.T) {
	var starts atomic.Int32
	release := make(chan struct{})
	startScheduler(t, []Job{{
		Name:    "slow",
		Cadence: always{},
		Run: func(ctx context.Context) error {
			starts.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}})

	require.Eventually(t, func() bool { return starts.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), starts.Load(), "ticks while running must not start or queue runs")

	close(release)
	require.Eventually(t, func() bool { return starts.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestJobsRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() {
		wg.Wait()
		close(both)
	}()
	var once [2]sync.Once
	job := func(i int) Job {
		return Job{
			Name:    []string{"a", "b"}[i],
			Cadence: always{},
			Run: func(ctx context.Context) error {
				once[i].Do(wg.Done)
				select {
				case <-both:
				case <-ctx.Done():
				}
				return nil
			},
		}
	}
	startScheduler(t, []Job{job(0), job(1)})

	select {
	case <-both:
	case <-time.After(time.Second):
		t.Fatal("jobs did not overlap")
	}
}

func TestBlockingJobRunsAlone(t *testing.T) {
	var running, maxWithBlocking atomic.Int32
	var blockingActive atomic.Bool
	var blockingRuns atomic.Int32

	track := func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		if blockingActive.Load() && n > maxWithBlocking.Load() {
			maxWithBlocking.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		return nil
	}
	startScheduler(t, []Job{
		{Name: "a", Cadence: always{}, Run: track},
		{Name: "b", Cadence: always{}, Run: track},
		{Name: "exclusive", Cadence: always{}, Blocking: true, Run: func(ctx context.Context) error {
			blockingActive.Store(true)
			defer blockingActive.Store(false)
			blockingRuns.Add(1)
			if running.Load() != 0 {
				maxWithBlocking.Store(99)
			}
			time.Sleep(5 * time.Millisecond)
			if running.Load() != 0 {
				maxWithBlocking.Store(99)
			}
			return nil
		}},
	})

	require.Eventually(t, func() bool { return blockingRuns.Load() >= 2 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, maxWithBlocking.Load())
}

func TestContinuousJobRestartsAfterCompletion(t *testing.T) {
	var runs atomic.Int32
	// A long tick proves restarts are driven by completion, not the ticker.
	s, err := New([]Job{{
		Name:    "open",
		Cadence: Continuous{},
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}}, WithTick(time.Hour))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestContinuousJobWithoutWorkDoesNotSpin(t *testing.T) {
	var runs atomic.Int32
	s, err := New([]Job{{
		Name:    "open",
		Cadence: Continuous{},
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}}, WithTick(time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	assert.Equal(t, int32(1), runs.Load())
}

func TestJitterDelaysFirstRun(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	var runs atomic.Int32
	s, err := New([]Job{{
		Name:    "full",
		Cadence: always{},
		Jitter:  time.Hour,
		Run:     func(context.Context) error { runs.Add(1); return nil },
	}}, WithClock(func() time.Time { return now }), WithJitterSource(func(n int64) int64 { return n - 1 }), WithTick(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	assert.Zero(t, runs.Load())
	assert.Equal(t, now.Add(time.Hour-1), s.byName["full"].next)
}

func TestRunOnce(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	s, err := New([]Job{
		{Name: "ok", Cadence: always{}, Run: func(context.Context) error { calls++; return nil }},
		{Name: "fails", Cadence: always{}, Run: func(context.Context) error { return boom }},
		{Name: "panics", Cadence: always{}, Run: func(context.Context) error { panic("bad") }},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx, "ok"))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, s.RunOnce(ctx, "fails"), boom)
	assert.ErrorContains(t, s.RunOnce(ctx, "panics"), "panicked")
	assert.ErrorIs(t, s.RunOnce(ctx, "missing"), ErrUnknownJob)
	assert.Equal(t, []string{"ok", "fails", "panics"}, s.Jobs())
}

func TestRunOnceRespectsLock(t *testing.T) {
	locker := NewLocalLocker()
	release, ok, err := locker.TryLock(context.Background(), "ok", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ran := false
	s, err := New([]Job{{Name: "ok", Cadence: always{}, Run: func(context.Context) error { ran = true; return nil }}},
		WithLocker(locker, time.Minute))
	require.NoError(t, err)

	assert.ErrorIs(t, s.RunOnce(context.Background(), "ok"), ErrAlreadyRunning)
	assert.False(t, ran)

	release()
	require.NoError(t, s.RunOnce(context.Background(), "ok"))
	assert.True(t, ran)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	release, ok, err := l.TryLock(ctx, "k", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "k", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()
	_, ok, err = l.TryLock(ctx, "k", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}
