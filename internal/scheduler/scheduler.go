// Package scheduler launches periodic jobs from a single ticking loop.
//
// Each job is single-flight: a job still running when it becomes due again is
// skipped, never queued. Jobs run concurrently with each other unless one is
// marked Blocking: a due blocking job waits for running jobs to drain, and
// nothing else starts until it has finished.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownJob is returned by RunOnce for a name that was never registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning is returned by RunOnce when the job is running here or elsewhere.
	ErrAlreadyRunning = errors.New("job already running")
)

// Job is one scheduled entry point.
type Job struct {
	Name     string
	Cadence  Cadence
	Jitter   time.Duration // random delay in [0, Jitter) added to every due time
	Blocking bool
	Run      func(ctx context.Context) error
}

type jobState struct {
	Job
	next    time.Time
	running bool
}

// Scheduler evaluates every job on each tick and launches the due ones.
type Scheduler struct {
	jobs    []*jobState
	byName  map[string]*jobState
	tick    time.Duration
	locker  Locker
	lockTTL time.Duration
	now     func() time.Time
	jitter  func(n int64) int64
	logger  *zap.Logger

	mu   sync.Mutex
	wg   sync.WaitGroup
	wake chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets the evaluation interval (default one minute).
func WithTick(d time.Duration) Option { return func(s *Scheduler) { s.tick = d } }

// WithLocker sets the cross-process locker and how long a lock may be held.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) { s.locker, s.lockTTL = l, ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithJitterSource overrides the random source used for jitter; f returns a value in [0, n).
func WithJitterSource(f func(n int64) int64) Option { return func(s *Scheduler) { s.jitter = f } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New validates jobs and builds a scheduler.
func New(jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		byName:  make(map[string]*jobState, len(jobs)),
		tick:    time.Minute,
		locker:  NewLocalLocker(),
		lockTTL: 15 * time.Minute,
		now:     time.Now,
		jitter:  rand.Int63n,
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, j := range jobs {
		switch {
		case j.Name == "":
			return nil, errors.New("job without name")
		case j.Cadence == nil:
			return nil, fmt.Errorf("job %s: no cadence", j.Name)
		case j.Run == nil:
			return nil, fmt.Errorf("job %s: no run function", j.Name)
		case j.Jitter < 0:
			return nil, fmt.Errorf("job %s: negative jitter", j.Name)
		}
		if _, dup := s.byName[j.Name]; dup {
			return nil, fmt.Errorf("job %s registered twice", j.Name)
		}
		js := &jobState{Job: j}
		s.jobs = append(s.jobs, js)
		s.byName[j.Name] = js
	}
	return s, nil
}

// Run evaluates jobs on every tick until ctx is done, then waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	for _, js := range s.jobs {
		js.next = s.withJitter(js, js.Cadence.First(now))
		s.logger.Info("job scheduled", zap.String("job", js.Name), zap.Time("next", js.next))
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for running jobs")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.evaluate(ctx)
		case <-s.wake:
			s.evaluate(ctx)
		}
	}
}

// RunOnce runs the named job now, outside its cadence, honouring single-flight.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if js.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	js.running = true
	s.mu.Unlock()

	ran, err := s.execute(ctx, js)
	s.mu.Lock()
	js.running = false
	s.mu.Unlock()
	if !ran && err == nil {
		return ErrAlreadyRunning
	}
	return err
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, js := range s.jobs {
		names = append(names, js.Name)
	}
	return names
}

func (s *Scheduler) evaluate(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	anyRunning, blockingRunning, blockingDue := false, false, false
	for _, js := range s.jobs {
		if js.running {
			anyRunning = true
			blockingRunning = blockingRunning || js.Blocking
		} else if js.Blocking && !now.Before(js.next) {
			blockingDue = true
		}
	}
	for _, js := range s.jobs {
		if now.Before(js.next) {
			continue
		}
		switch {
		case js.running:
			s.logger.Debug("job still running, skipping", zap.String("job", js.Name))
			continue
		case blockingRunning:
			continue
		case js.Blocking && anyRunning:
			s.logger.Debug("blocking job waiting for other jobs", zap.String("job", js.Name))
			continue
		case !js.Blocking && blockingDue:
			// Let running jobs drain so the due blocking job can start.
			continue
		}
		js.running = true
		anyRunning = true
		blockingRunning = js.Blocking
		s.wg.Add(1)
		go s.launch(ctx, js)
	}
}

func (s *Scheduler) launch(ctx context.Context, js *jobState) {
	defer s.wg.Done()
	start := s.now()
	_, _ = s.execute(ctx, js)
	end := s.now()

	s.mu.Lock()
	js.running = false
	js.next = s.withJitter(js, js.Cadence.Next(start, end))
	wait := js.next.Sub(s.now())
	s.mu.Unlock()

	// Others may have waited on this job; re-evaluate now, and again when
	// this job is due if that comes before the next tick.
	s.poke()
	if wait > 0 && wait < s.tick {
		time.AfterFunc(wait, s.poke)
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// execute takes the job lock and runs the job. ran is false when the lock was held elsewhere.
func (s *Scheduler) execute(ctx context.Context, js *jobState) (ran bool, err error) {
	release, ok, err := s.locker.TryLock(ctx, js.Name, s.lockTTL)
	if err != nil {
		s.logger.Warn("acquire job lock failed", zap.String("job", js.Name), zap.Error(err))
		return false, fmt.Errorf("lock %s: %w", js.Name, err)
	}
	if !ok {
		s.logger.Info("job running on another instance, skipping", zap.String("job", js.Name))
		return false, nil
	}
	defer release()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", js.Name, r)
			s.logger.Error("job panicked", zap.String("job", js.Name), zap.Any("panic", r))
		}
	}()
	err = js.Run(ctx)
	fields := []zap.Field{zap.String("job", js.Name), zap.Duration("duration", s.now().Sub(start))}
	if err != nil {
		s.logger.Error("job failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("job finished", fields...)
	}
	return true, err
}

func (s *Scheduler) withJitter(js *jobState, t time.Time) time.Time {
	if js.Jitter <= 0 {
		return t
	}
	return t.Add(time.Duration(s.jitter(int64(js.Jitter))))
}
