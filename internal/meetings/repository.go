// Package meetings stores conferencing sessions and tells the sync tiers which are open.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/recording-sync/internal/models"
)

// ErrNotFound is returned when no meeting matches.
var ErrNotFound = errors.New("meeting not found")

const meetingColumns = `id, meeting_key, name, activity_id, creator_webex_id, start_time, end_time, duration_minutes, status, time_modified`

// Repository handles meeting persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meeting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(&m.ID, &m.MeetingKey, &m.Name, &m.ActivityID, &m.CreatorWebexID, &m.StartTime, &m.EndTime,
		&m.DurationMinutes, &m.Status, &m.TimeModified)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// openMeetingsQuery mirrors models.Meeting.IsOpen.
const openMeetingsQuery = `SELECT meeting_key FROM meetings
		WHERE status = 'in_progress'
		   OR (status <> 'ended' AND start_time <= $1 AND (end_time IS NULL OR end_time > $1))
		ORDER BY start_time`

// OpenMeetingKeys returns the keys of meetings in progress at now.
func (r *Repository) OpenMeetingKeys(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, openMeetingsQuery, now)
	if err != nil {
		return nil, fmt.Errorf("query open meetings: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetByKeys returns the meetings with the given keys, indexed by key. Unknown keys are absent.
func (r *Repository) GetByKeys(ctx context.Context, keys []string) (map[string]models.Meeting, error) {
	out := make(map[string]models.Meeting, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE meeting_key = ANY($1)`
	rows, err := r.pool.Query(ctx, q, keys)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out[m.MeetingKey] = *m
	}
	return out, rows.Err()
}

// Upsert inserts a meeting or updates the one with the same key.
func (r *Repository) Upsert(ctx context.Context, m *models.Meeting) error {
	q := `INSERT INTO meetings (id, meeting_key, name, activity_id, creator_webex_id, start_time, end_time, duration_minutes, status, time_modified)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (meeting_key) DO UPDATE SET
			name = EXCLUDED.name, activity_id = EXCLUDED.activity_id, creator_webex_id = EXCLUDED.creator_webex_id,
			start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, duration_minutes = EXCLUDED.duration_minutes,
			status = EXCLUDED.status, time_modified = NOW()
		RETURNING ` + meetingColumns
	got, err := scanMeeting(r.pool.QueryRow(ctx, q, m.MeetingKey, m.Name, m.ActivityID, m.CreatorWebexID, m.StartTime,
		m.EndTime, m.DurationMinutes, m.Status))
	if err != nil {
		return fmt.Errorf("upsert meeting: %w", err)
	}
	*m = *got
	return nil
}

// UpdateStatus records a status change reported by the conferencing service.
func (r *Repository) UpdateStatus(ctx context.Context, meetingKey, status string, endTime *time.Time) error {
	const q = `UPDATE meetings SET status = $2, end_time = COALESCE($3, end_time), time_modified = NOW()
		WHERE meeting_key = $1`
	tag, err := r.pool.Exec(ctx, q, meetingKey, status, endTime)
	if err != nil {
		return fmt.Errorf("update meeting status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
