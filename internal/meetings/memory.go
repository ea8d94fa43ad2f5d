package meetings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/recording-sync/internal/models"
)

// MemoryRepository keeps meetings in process; used with the memory store driver.
type MemoryRepository struct {
	mu    sync.RWMutex
	byKey map[string]models.Meeting
	now   func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byKey: make(map[string]models.Meeting), now: time.Now}
}

// OpenMeetingKeys returns the keys of meetings in progress at now, earliest start first.
func (r *MemoryRepository) OpenMeetingKeys(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []models.Meeting
	for _, m := range r.byKey {
		if m.IsOpen(now) {
			open = append(open, m)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].StartTime.Before(open[j].StartTime) })
	keys := make([]string, 0, len(open))
	for _, m := range open {
		keys = append(keys, m.MeetingKey)
	}
	return keys, nil
}

// GetByKeys returns the known meetings among keys.
func (r *MemoryRepository) GetByKeys(ctx context.Context, keys []string) (map[string]models.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.Meeting, len(keys))
	for _, k := range keys {
		if m, ok := r.byKey[k]; ok {
			out[k] = m
		}
	}
	return out, nil
}

// Upsert stores m, keeping the id of an existing meeting with the same key.
func (r *MemoryRepository) Upsert(ctx context.Context, m *models.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byKey[m.MeetingKey]; ok {
		m.ID = cur.ID
	} else if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.TimeModified = r.now()
	r.byKey[m.MeetingKey] = *m
	return nil
}

// UpdateStatus records a status change for a known meeting.
func (r *MemoryRepository) UpdateStatus(ctx context.Context, meetingKey, status string, endTime *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byKey[meetingKey]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	if endTime != nil {
		m.EndTime = endTime
	}
	m.TimeModified = r.now()
	r.byKey[meetingKey] = m
	return nil
}
