// Package syncer reconciles local recordings against the conferencing service.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/internal/recordings"
)

// Action is the effect a reconcile call had on the store.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionUndeleted Action = "undeleted"
	ActionChecked   Action = "checked" // no attribute change, last_status_check refreshed
	ActionStale     Action = "stale"   // a newer check already landed
	ActionIgnored   Action = "ignored" // remote says not found and nothing is known locally
)

// Change describes one applied reconciliation.
type Change struct {
	Action    Action
	Recording *models.Recording
}

// Visible reports whether the change altered what an admin sees.
func (c Change) Visible() bool {
	switch c.Action {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionUndeleted:
		return c.Recording != nil
	}
	return false
}

// Notifier is told about every visible change.
type Notifier interface {
	RecordingChanged(ctx context.Context, c Change)
}

// Reconciler merges remote snapshots into the recording store.
type Reconciler struct {
	store  recordings.Store
	notify Notifier // optional
	now    func() time.Time
	logger *zap.Logger
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store recordings.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, now: time.Now, logger: logger}
}

// Reconcile applies a remote answer for one recording. localID may be uuid.Nil
// when the recording is not known yet; snap is nil when the service answered
// not found. checkedAt is when the answer was requested; a snapshot's own
// FetchedAt takes precedence.
//
// A write that loses a concurrent race is retried once against fresh data.
func (r *Reconciler) Reconcile(ctx context.Context, localID uuid.UUID, snap *models.RemoteRecording, checkedAt time.Time) (Change, error) {
	if snap != nil && !snap.FetchedAt.IsZero() {
		checkedAt = snap.FetchedAt
	}
	if checkedAt.IsZero() {
		checkedAt = r.now()
	}

	change, err := r.apply(ctx, localID, snap, checkedAt)
	if err == nil {
		r.announce(ctx, change)
		return change, nil
	}
	if errors.Is(err, recordings.ErrStale) {
		return Change{Action: ActionStale}, nil
	}
	r.logger.Debug("reconcile write failed, retrying with fresh data", zap.String("recording_id", keyOf(localID, snap)), zap.Error(err))
	change, err = r.apply(ctx, localID, snap, checkedAt)
	if errors.Is(err, recordings.ErrStale) {
		return Change{Action: ActionStale}, nil
	}
	if err != nil {
		r.logger.Warn("reconcile gave up", zap.String("recording_id", keyOf(localID, snap)), zap.Error(err))
		return Change{}, fmt.Errorf("reconcile %s: %w", keyOf(localID, snap), err)
	}
	r.announce(ctx, change)
	return change, nil
}

func (r *Reconciler) announce(ctx context.Context, c Change) {
	if r.notify != nil && c.Visible() {
		r.notify.RecordingChanged(ctx, c)
	}
}

func (r *Reconciler) apply(ctx context.Context, localID uuid.UUID, snap *models.RemoteRecording, checkedAt time.Time) (Change, error) {
	local, err := r.load(ctx, localID, snap)
	if err != nil {
		return Change{}, err
	}
	if local != nil && checkedAt.Before(local.LastStatusCheck) {
		return Change{Action: ActionStale, Recording: local}, nil
	}

	if snap == nil {
		switch {
		case local == nil:
			return Change{Action: ActionIgnored}, nil
		case !local.Deleted:
			rec, err := r.store.MarkDeleted(ctx, local.ID, checkedAt)
			if err != nil {
				return Change{}, err
			}
			r.logger.Info("recording removed remotely, soft-deleted", zap.String("recording_id", local.ID.String()), zap.String("remote_key", local.RemoteKey().String()))
			return Change{Action: ActionDeleted, Recording: rec}, nil
		default:
			if err := r.store.Touch(ctx, local.ID, checkedAt); err != nil {
				return Change{}, err
			}
			return Change{Action: ActionChecked, Recording: local}, nil
		}
	}

	if local == nil {
		rec := &models.Recording{}
		rec.ApplySnapshot(snap)
		created, err := r.store.Upsert(ctx, rec, checkedAt)
		if err != nil {
			return Change{}, err
		}
		r.logger.Info("recording discovered", zap.String("recording_id", created.ID.String()), zap.String("remote_key", snap.RemoteKey().String()))
		return Change{Action: ActionCreated, Recording: created}, nil
	}

	// An admin delete holds while the recording is still listed remotely.
	held := local.Deleted && local.DeletedByAdmin
	if (!local.Deleted || held) && local.SameContent(snap) {
		if err := r.store.Touch(ctx, local.ID, checkedAt); err != nil {
			return Change{}, err
		}
		return Change{Action: ActionChecked, Recording: local}, nil
	}

	action := ActionUpdated
	if local.Deleted && !held {
		action = ActionUndeleted
	}
	next := *local
	next.ApplySnapshot(snap)
	next.Deleted = held
	rec, err := r.store.Upsert(ctx, &next, checkedAt)
	if err != nil {
		return Change{}, err
	}
	if action == ActionUndeleted {
		r.logger.Info("recording reappeared remotely, undeleted", zap.String("recording_id", rec.ID.String()))
	}
	return Change{Action: action, Recording: rec}, nil
}

// load finds the local recording by id, falling back to the snapshot's remote key.
func (r *Reconciler) load(ctx context.Context, localID uuid.UUID, snap *models.RemoteRecording) (*models.Recording, error) {
	if localID != uuid.Nil {
		rec, err := r.store.Get(ctx, localID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, recordings.ErrNotFound) {
			return nil, err
		}
	}
	if snap == nil {
		return nil, nil
	}
	rec, err := r.store.FindByRemoteKey(ctx, snap.MeetingKey, snap.RecordingID)
	if errors.Is(err, recordings.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func keyOf(localID uuid.UUID, snap *models.RemoteRecording) string {
	if snap != nil {
		return snap.RemoteKey().String()
	}
	return localID.String()
}
