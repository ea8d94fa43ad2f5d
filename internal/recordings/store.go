package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/recording-sync/internal/models"
)

var (
	// ErrNotFound is returned when no recording matches.
	ErrNotFound = errors.New("recording not found")
	// ErrConflict is returned when the row changed since it was read, or when
	// creating a row whose remote key already exists.
	ErrConflict = errors.New("recording changed concurrently")
	// ErrStale is returned when a reconciliation write carries a check time older
	// than the one already stored.
	ErrStale = errors.New("recording checked more recently")
)

// Store holds recordings and their soft-delete state.
//
// A non-zero checkedAt marks the call as part of a reconciliation pass: the
// write advances last_status_check to checkedAt and is refused with ErrStale
// if the stored check is newer.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	FindByRemoteKey(ctx context.Context, meetingKey, recordingID string) (*models.Recording, error)
	// Upsert creates rec when rec.ID is uuid.Nil, otherwise replaces its mutable
	// attributes and deleted flag provided rec.TimeModified still matches the row.
	Upsert(ctx context.Context, rec *models.Recording, checkedAt time.Time) (*models.Recording, error)
	ListForTier(ctx context.Context, q TierQuery) ([]models.Recording, error)
	MarkDeleted(ctx context.Context, id uuid.UUID, checkedAt time.Time) (*models.Recording, error)
	MarkUndeleted(ctx context.Context, id uuid.UUID, checkedAt time.Time) (*models.Recording, error)
	// Touch advances last_status_check only.
	Touch(ctx context.Context, id uuid.UUID, checkedAt time.Time) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, f ListFilter) ([]models.Recording, int, error)
}

// TierQuery selects non-deleted recordings due for a status check.
type TierQuery struct {
	CheckedBefore time.Time  // zero: any
	CreatedAfter  *time.Time // inclusive
	CreatedBefore *time.Time // exclusive
	MeetingKeys   []string   // nil: any meeting; empty: none
	Limit         int
}

// ListFilter drives the admin listing.
type ListFilter struct {
	IncludeDeleted bool
	Search         string
	Sort           string // column name, "-" prefix for descending
	Offset         int
	Limit          int
}

// Sortable admin listing columns mapped to storage columns.
var sortColumns = map[string]string{
	"name":         "name",
	"time_created": "time_created",
	"duration":     "duration_seconds",
	"file_size":    "file_size_bytes",
	"deleted":      "deleted",
}

const defaultSort = "-time_created"

// sortSpec resolves a listing sort key to (column, descending).
func sortSpec(sort string) (string, bool) {
	desc := false
	key := sort
	if len(key) > 0 && key[0] == '-' {
		desc = true
		key = key[1:]
	}
	col, ok := sortColumns[key]
	if !ok {
		return sortSpec(defaultSort)
	}
	return col, desc
}
