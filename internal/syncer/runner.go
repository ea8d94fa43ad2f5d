package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/internal/recordings"
	"github.com/aura-webinar/recording-sync/internal/remote"
)

// ErrOverrun is returned when a tier run exceeds its timeout.
var ErrOverrun = errors.New("tier run overran its timeout")

// Tier is one of the differently paced reconciliation policies.
type Tier string

const (
	TierOpen   Tier = "open"
	TierRecent Tier = "recent"
	TierMedium Tier = "medium"
	TierFull   Tier = "full"
)

// Tiers lists every tier in scheduling order.
var Tiers = []Tier{TierOpen, TierRecent, TierMedium, TierFull}

// MeetingSource reports which meetings are in progress and records status changes.
type MeetingSource interface {
	OpenMeetingKeys(ctx context.Context, now time.Time) ([]string, error)
	UpdateStatus(ctx context.Context, meetingKey, status string, endTime *time.Time) error
}

// Config tunes tier runs.
type Config struct {
	Concurrency int           // concurrent remote calls per run
	RunTimeout  time.Duration // a run exceeding this is aborted
	BatchLimit  int           // candidates checked per run
	RecentAge   time.Duration // recordings younger than this belong to the recent tier
	MediumAge   time.Duration // recordings between RecentAge and this belong to the medium tier
	// Minimum time since the last check before a recording is checked again, per tier.
	RecentStaleAfter time.Duration
	MediumStaleAfter time.Duration
	FullStaleAfter   time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      5,
		RunTimeout:       10 * time.Minute,
		BatchLimit:       1000,
		RecentAge:        48 * time.Hour,
		MediumAge:        14 * 24 * time.Hour,
		RecentStaleAfter: time.Minute,
		MediumStaleAfter: 8 * time.Hour,
		FullStaleAfter:   48 * time.Hour,
	}
}

// Report summarises one tier run.
type Report struct {
	Tier       Tier
	Started    time.Time
	Duration   time.Duration
	Discovered int
	Candidates int
	Created    int
	Updated    int
	Deleted    int
	Undeleted  int
	Checked    int
	Stale      int
	Failures   int
	Overrun    bool
}

func (r Report) fields() []zap.Field {
	return []zap.Field{
		zap.String("tier", string(r.Tier)),
		zap.Duration("duration", r.Duration),
		zap.Int("discovered", r.Discovered),
		zap.Int("candidates", r.Candidates),
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("deleted", r.Deleted),
		zap.Int("undeleted", r.Undeleted),
		zap.Int("checked", r.Checked),
		zap.Int("stale", r.Stale),
		zap.Int("failures", r.Failures),
	}
}

// tally counts outcomes from concurrent workers.
type tally struct {
	discovered, candidates                        atomic.Int64
	created, updated, deleted, undeleted, checked atomic.Int64
	stale, failures                               atomic.Int64
}

func (t *tally) record(a Action) {
	switch a {
	case ActionCreated:
		t.created.Add(1)
	case ActionUpdated:
		t.updated.Add(1)
	case ActionDeleted:
		t.deleted.Add(1)
	case ActionUndeleted:
		t.undeleted.Add(1)
	case ActionChecked:
		t.checked.Add(1)
	case ActionStale:
		t.stale.Add(1)
	}
}

func (t *tally) report(tier Tier, started time.Time, d time.Duration) Report {
	return Report{
		Tier:       tier,
		Started:    started,
		Duration:   d,
		Discovered: int(t.discovered.Load()),
		Candidates: int(t.candidates.Load()),
		Created:    int(t.created.Load()),
		Updated:    int(t.updated.Load()),
		Deleted:    int(t.deleted.Load()),
		Undeleted:  int(t.undeleted.Load()),
		Checked:    int(t.checked.Load()),
		Stale:      int(t.stale.Load()),
		Failures:   int(t.failures.Load()),
	}
}

// Runner executes tier runs.
type Runner struct {
	store      recordings.Store
	remote     remote.Client
	meetings   MeetingSource
	reconciler *Reconciler
	cfg        Config
	now        func() time.Time
	logger     *zap.Logger
}

// NewRunner creates a tier runner. meetings may be nil, which leaves the open tier empty.
func NewRunner(store recordings.Store, client remote.Client, meetings MeetingSource, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.RecentAge <= 0 {
		cfg.RecentAge = def.RecentAge
	}
	if cfg.MediumAge <= cfg.RecentAge {
		cfg.MediumAge = def.MediumAge
	}
	return &Runner{
		store:      store,
		remote:     client,
		meetings:   meetings,
		reconciler: NewReconciler(store, logger),
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// SetNotifier publishes visible changes made by tier runs and on-demand checks.
func (r *Runner) SetNotifier(n Notifier) { r.reconciler.notify = n }

// RunTier runs one tier to completion, timeout or credential failure.
// Per-recording failures are counted in the report and do not fail the run.
func (r *Runner) RunTier(ctx context.Context, tier Tier) (Report, error) {
	started := r.now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	var t tally
	err := r.runTier(ctx, tier, started, &t)
	rep := t.report(tier, started, r.now().Sub(started))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rep.Overrun = true
		r.logger.Warn("tier run overran, aborted", append(rep.fields(), zap.Duration("timeout", r.cfg.RunTimeout))...)
		return rep, fmt.Errorf("%s tier: %w", tier, ErrOverrun)
	}
	if err != nil {
		r.logger.Error("tier run aborted", append(rep.fields(), zap.Error(err))...)
		return rep, err
	}
	if rep.Failures > 0 {
		r.logger.Warn("tier run finished with failures", rep.fields()...)
	} else {
		r.logger.Info("tier run finished", rep.fields()...)
	}
	return rep, nil
}

func (r *Runner) runTier(ctx context.Context, tier Tier, now time.Time, t *tally) error {
	q := recordings.TierQuery{Limit: r.cfg.BatchLimit}
	var discover func(context.Context) ([]models.RemoteRecording, error)

	switch tier {
	case TierOpen:
		if r.meetings == nil {
			return nil
		}
		keys, err := r.meetings.OpenMeetingKeys(ctx, now)
		if err != nil {
			return fmt.Errorf("open meetings: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}
		q.MeetingKeys = keys
		q.CheckedBefore = now
		defer r.refreshMeetings(ctx, keys, t)
	case TierRecent:
		after := now.Add(-r.cfg.RecentAge)
		q.CreatedAfter = &after
		q.CheckedBefore = now.Add(-r.cfg.RecentStaleAfter)
		discover = func(ctx context.Context) ([]models.RemoteRecording, error) {
			return r.remote.ListRecordingsSince(ctx, after)
		}
	case TierMedium:
		after, before := now.Add(-r.cfg.MediumAge), now.Add(-r.cfg.RecentAge)
		q.CreatedAfter, q.CreatedBefore = &after, &before
		q.CheckedBefore = now.Add(-r.cfg.MediumStaleAfter)
	case TierFull:
		q.CheckedBefore = now.Add(-r.cfg.FullStaleAfter)
		discover = r.remote.ListAllRecordings
	default:
		return fmt.Errorf("unknown tier %q", tier)
	}

	seen := make(map[models.RemoteKey]bool)
	if discover != nil {
		if err := r.discover(ctx, discover, seen, t); err != nil {
			return err
		}
	}

	candidates, err := r.store.ListForTier(ctx, q)
	if err != nil {
		return fmt.Errorf("list %s candidates: %w", tier, err)
	}
	return r.check(ctx, candidates, seen, t)
}

// discover reconciles every recording the service lists, creating unknown ones.
func (r *Runner) discover(ctx context.Context, list func(context.Context) ([]models.RemoteRecording, error), seen map[models.RemoteKey]bool, t *tally) error {
	snaps, err := list(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrAuth) || ctx.Err() != nil {
			return fmt.Errorf("list remote recordings: %w", err)
		}
		t.failures.Add(1)
		r.logger.Warn("list remote recordings failed, checking known recordings only", zap.Error(err))
		return nil
	}
	t.discovered.Add(int64(len(snaps)))
	for i := range snaps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snap := &snaps[i]
		seen[snap.RemoteKey()] = true
		change, err := r.reconciler.Reconcile(ctx, uuid.Nil, snap, time.Time{})
		if err != nil {
			t.failures.Add(1)
			continue
		}
		t.record(change.Action)
	}
	return nil
}

// check fetches each candidate individually through a bounded pool.
func (r *Runner) check(ctx context.Context, candidates []models.Recording, seen map[models.RemoteKey]bool, t *tally) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := range candidates {
		rec := candidates[i]
		if seen[rec.RemoteKey()] {
			continue
		}
		t.candidates.Add(1)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			change, err := r.checkOne(gctx, &rec)
			switch {
			case err == nil:
				t.record(change.Action)
				return nil
			case errors.Is(err, remote.ErrAuth):
				return err
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				t.failures.Add(1)
				r.logger.Debug("recording check failed", zap.String("recording_id", rec.ID.String()), zap.Error(err))
				return nil
			}
		})
	}
	return g.Wait()
}

func (r *Runner) checkOne(ctx context.Context, rec *models.Recording) (Change, error) {
	checkedAt := r.now()
	snap, err := r.remote.FetchRecording(ctx, rec.MeetingKey, rec.RecordingID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return Change{}, fmt.Errorf("fetch %s: %w", rec.RemoteKey(), err)
	}
	return r.reconciler.Reconcile(ctx, rec.ID, snap, checkedAt)
}

// CheckRecording re-checks a single recording now.
func (r *Runner) CheckRecording(ctx context.Context, id uuid.UUID) (Change, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return Change{}, err
	}
	return r.checkOne(ctx, rec)
}

// refreshMeetings asks the service for the state of open meetings so ended ones leave the open set.
func (r *Runner) refreshMeetings(ctx context.Context, keys []string, t *tally) {
	mc, ok := r.remote.(remote.MeetingClient)
	if !ok || ctx.Err() != nil {
		return
	}
	var mu sync.Mutex
	var ended []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			m, err := mc.FetchMeeting(gctx, key)
			if errors.Is(err, remote.ErrNotFound) {
				now := r.now()
				m = &models.RemoteMeeting{MeetingKey: key, Status: models.MeetingStatusEnded, EndTime: &now}
			} else if err != nil {
				t.failures.Add(1)
				return nil
			}
			if m.Status == models.MeetingStatusInProgress {
				return nil
			}
			if err := r.meetings.UpdateStatus(gctx, key, m.Status, m.EndTime); err != nil {
				t.failures.Add(1)
				r.logger.Warn("update meeting status failed", zap.String("meeting_key", key), zap.Error(err))
				return nil
			}
			mu.Lock()
			ended = append(ended, key)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(ended) > 0 {
		r.logger.Info("meetings no longer in progress", zap.Strings("meeting_keys", ended))
	}
}
