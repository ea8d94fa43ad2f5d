package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/internal/syncer"
)

// EventRecordingChanged is the only event type on the feed.
const EventRecordingChanged = "recording_changed"

// Event is one feed message, sent to websocket clients as-is.
type Event struct {
	Event          string    `json:"event"`
	RecordingID    string    `json:"recording_id"`
	MeetingKey     string    `json:"meeting_key"`
	Action         string    `json:"action"`
	Deleted        bool      `json:"deleted"`
	DeletedByAdmin bool      `json:"deleted_by_admin"`
	TimeModified   time.Time `json:"time_modified"`
}

// Publisher delivers events to admin servers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ChangePublisher turns sync changes into feed events.
type ChangePublisher struct {
	pub    Publisher
	logger *zap.Logger
}

// NewChangePublisher creates a syncer.Notifier backed by pub.
func NewChangePublisher(pub Publisher, logger *zap.Logger) *ChangePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangePublisher{pub: pub, logger: logger}
}

// RecordingChanged publishes c. A failed publish is logged; the sync carries on.
func (p *ChangePublisher) RecordingChanged(ctx context.Context, c syncer.Change) {
	p.publish(ctx, string(c.Action), c.Recording)
}

// AdminChanged publishes an admin delete or undelete.
func (p *ChangePublisher) AdminChanged(ctx context.Context, action string, rec *models.Recording) {
	p.publish(ctx, action, rec)
}

func (p *ChangePublisher) publish(ctx context.Context, action string, rec *models.Recording) {
	ev := Event{
		Event:          EventRecordingChanged,
		RecordingID:    rec.ID.String(),
		MeetingKey:     rec.MeetingKey,
		Action:         action,
		Deleted:        rec.Deleted,
		DeletedByAdmin: rec.DeletedByAdmin,
		TimeModified:   rec.TimeModified,
	}
	if err := p.pub.Publish(ctx, ev); err != nil {
		p.logger.Warn("publish recording change", zap.String("recording_id", ev.RecordingID), zap.Error(err))
	}
}
