package recordings

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/recording-sync/internal/models"
)

// MemoryStore is an in-process Store. Each record has its own lock; the maps
// are guarded by a read-write lock taken only for lookups, inserts and purges.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*entry
	byKey map[models.RemoteKey]uuid.UUID
	now   func() time.Time
}

type entry struct {
	mu   sync.Mutex
	rec  models.Recording
	gone bool
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		byID:  make(map[uuid.UUID]*entry),
		byKey: make(map[models.RemoteKey]uuid.UUID),
		now:   now,
	}
}

// nextModified returns a modification time strictly after prev.
func (s *MemoryStore) nextModified(prev time.Time) time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (s *MemoryStore) entry(id uuid.UUID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a copy of the recording with the given id.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

// FindByRemoteKey returns the recording for (meetingKey, recordingID).
func (s *MemoryStore) FindByRemoteKey(ctx context.Context, meetingKey, recordingID string) (*models.Recording, error) {
	s.mu.RLock()
	id, ok := s.byKey[models.RemoteKey{MeetingKey: meetingKey, RecordingID: recordingID}]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Upsert creates or compare-and-updates a recording.
func (s *MemoryStore) Upsert(ctx context.Context, rec *models.Recording, checkedAt time.Time) (*models.Recording, error) {
	if rec.ID == uuid.Nil {
		return s.create(rec, checkedAt)
	}
	e, err := s.entry(rec.ID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrNotFound
	}
	if !checkedAt.IsZero() && checkedAt.Before(e.rec.LastStatusCheck) {
		return nil, ErrStale
	}
	if !e.rec.TimeModified.Equal(rec.TimeModified) {
		return nil, ErrConflict
	}
	cur := &e.rec
	if cur.HostID == "" {
		cur.HostID = rec.HostID
	}
	cur.Name = rec.Name
	cur.DurationSeconds = rec.DurationSeconds
	cur.FileSizeBytes = rec.FileSizeBytes
	cur.FileURL = rec.FileURL
	cur.StreamURL = rec.StreamURL
	cur.Deleted = rec.Deleted
	cur.DeletedByAdmin = rec.DeletedByAdmin
	cur.TimeModified = s.nextModified(cur.TimeModified)
	if !checkedAt.IsZero() {
		cur.LastStatusCheck = checkedAt
	}
	out := *cur
	return &out, nil
}

func (s *MemoryStore) create(rec *models.Recording, checkedAt time.Time) (*models.Recording, error) {
	key := rec.RemoteKey()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[key]; exists {
		return nil, ErrConflict
	}
	e := &entry{rec: *rec}
	e.rec.ID = uuid.New()
	e.rec.TimeModified = s.nextModified(time.Time{})
	e.rec.LastStatusCheck = checkedAt
	s.byID[e.rec.ID] = e
	s.byKey[key] = e.rec.ID
	out := e.rec
	return &out, nil
}

// ListForTier returns non-deleted recordings matching q, oldest-checked first.
func (s *MemoryStore) ListForTier(ctx context.Context, q TierQuery) ([]models.Recording, error) {
	var keys map[string]bool
	if q.MeetingKeys != nil {
		if len(q.MeetingKeys) == 0 {
			return nil, nil
		}
		keys = make(map[string]bool, len(q.MeetingKeys))
		for _, k := range q.MeetingKeys {
			keys[k] = true
		}
	}
	var out []models.Recording
	for _, rec := range s.snapshot() {
		switch {
		case rec.Deleted:
		case !q.CheckedBefore.IsZero() && !rec.LastStatusCheck.Before(q.CheckedBefore):
		case q.CreatedAfter != nil && rec.TimeCreated.Before(*q.CreatedAfter):
		case q.CreatedBefore != nil && !rec.TimeCreated.Before(*q.CreatedBefore):
		case keys != nil && !keys[rec.MeetingKey]:
		default:
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastStatusCheck.Equal(out[j].LastStatusCheck) {
			return out[i].LastStatusCheck.Before(out[j].LastStatusCheck)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MarkDeleted soft-deletes a recording; a no-op when already deleted. A zero
// checkedAt is an admin delete and also sets DeletedByAdmin.
func (s *MemoryStore) MarkDeleted(ctx context.Context, id uuid.UUID, checkedAt time.Time) (*models.Recording, error) {
	return s.setDeleted(id, true, checkedAt)
}

// MarkUndeleted clears the soft-delete flag; a no-op when not deleted. Admin
// deletes are only undone with a zero checkedAt.
func (s *MemoryStore) MarkUndeleted(ctx context.Context, id uuid.UUID, checkedAt time.Time) (*models.Recording, error) {
	return s.setDeleted(id, false, checkedAt)
}

func (s *MemoryStore) setDeleted(id uuid.UUID, deleted bool, checkedAt time.Time) (*models.Recording, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, ErrNotFound
	}
	admin := checkedAt.IsZero()
	switch {
	case admin:
		if e.rec.Deleted == deleted && e.rec.DeletedByAdmin == deleted {
			break
		}
		e.rec.Deleted = deleted
		e.rec.DeletedByAdmin = deleted
		e.rec.TimeModified = s.nextModified(e.rec.TimeModified)
	case e.rec.Deleted != deleted && !e.rec.DeletedByAdmin:
		if checkedAt.Before(e.rec.LastStatusCheck) {
			return nil, ErrStale
		}
		e.rec.Deleted = deleted
		e.rec.TimeModified = s.nextModified(e.rec.TimeModified)
		e.rec.LastStatusCheck = checkedAt
	}
	out := e.rec
	return &out, nil
}

// Touch advances last_status_check to checkedAt if it is newer.
func (s *MemoryStore) Touch(ctx context.Context, id uuid.UUID, checkedAt time.Time) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return ErrNotFound
	}
	if checkedAt.After(e.rec.LastStatusCheck) {
		e.rec.LastStatusCheck = checkedAt
	}
	return nil
}

// PurgeOlderThan removes deleted recordings last modified before cutoff.
func (s *MemoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.byID {
		e.mu.Lock()
		if e.rec.Deleted && e.rec.TimeModified.Before(cutoff) {
			e.gone = true
			delete(s.byID, id)
			delete(s.byKey, e.rec.RemoteKey())
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}

// List returns one page of recordings for the admin listing and the total match count.
func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]models.Recording, int, error) {
	search := strings.ToLower(f.Search)
	var out []models.Recording
	for _, rec := range s.snapshot() {
		if rec.Deleted && !f.IncludeDeleted {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rec.Name), search) {
			continue
		}
		out = append(out, rec)
	}
	col, desc := sortSpec(f.Sort)
	sort.SliceStable(out, func(i, j int) bool {
		less, greater := compareColumn(col, &out[i], &out[j]), compareColumn(col, &out[j], &out[i])
		if !less && !greater {
			return out[i].ID.String() < out[j].ID.String()
		}
		if desc {
			return greater
		}
		return less
	})
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func compareColumn(col string, a, b *models.Recording) bool {
	switch col {
	case "name":
		return a.Name < b.Name
	case "duration_seconds":
		return a.DurationSeconds < b.DurationSeconds
	case "file_size_bytes":
		return a.FileSizeBytes < b.FileSizeBytes
	case "deleted":
		return !a.Deleted && b.Deleted
	default:
		return a.TimeCreated.Before(b.TimeCreated)
	}
}

func (s *MemoryStore) snapshot() []models.Recording {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	out := make([]models.Recording, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.gone {
			out = append(out, e.rec)
		}
		e.mu.Unlock()
	}
	return out
}
