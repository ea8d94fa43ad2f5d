// Package remote talks to the web-conferencing service that owns the recordings.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/aura-webinar/recording-sync/internal/models"
)

var (
	// ErrNotFound means the service has no such recording (removed, or access revoked).
	// It is a reconciliation signal, not a failure.
	ErrNotFound = errors.New("remote: not found")
	// ErrUnavailable is a transient transport or service failure.
	ErrUnavailable = errors.New("remote: unavailable")
	// ErrAuth is a credential or configuration failure.
	ErrAuth = errors.New("remote: authentication failed")
)

// Client is the subset of the conferencing API the sync core consumes.
type Client interface {
	FetchRecording(ctx context.Context, meetingKey, recordingID string) (*models.RemoteRecording, error)
	ListRecordingsSince(ctx context.Context, since time.Time) ([]models.RemoteRecording, error)
	ListAllRecordings(ctx context.Context) ([]models.RemoteRecording, error)
}

// MeetingClient is implemented by clients that can also report meeting state.
type MeetingClient interface {
	FetchMeeting(ctx context.Context, meetingKey string) (*models.RemoteMeeting, error)
}

// IsRetryable reports whether err should be retried on a later tick.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrAuth)
}
