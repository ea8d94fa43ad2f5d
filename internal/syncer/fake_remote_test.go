package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/internal/remote"
)

// fakeRemote is an in-memory conferencing service.
type fakeRemote struct {
	mu       sync.Mutex
	records  map[models.RemoteKey]models.RemoteRecording
	errs     map[models.RemoteKey]error
	meetings map[string]models.RemoteMeeting
	listErr  error
	fetchErr error
	block    bool // FetchRecording waits for ctx cancellation

	fetches  atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	since    time.Time
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  make(map[models.RemoteKey]models.RemoteRecording),
		errs:     make(map[models.RemoteKey]error),
		meetings: make(map[string]models.RemoteMeeting),
	}
}

func (f *fakeRemote) put(r models.RemoteRecording) {
	f.mu.Lock()
	f.records[r.RemoteKey()] = r
	f.mu.Unlock()
}

func (f *fakeRemote) failKey(meetingKey, recordingID string, err error) {
	f.mu.Lock()
	f.errs[models.RemoteKey{MeetingKey: meetingKey, RecordingID: recordingID}] = err
	f.mu.Unlock()
}

func (f *fakeRemote) FetchRecording(ctx context.Context, meetingKey, recordingID string) (*models.RemoteRecording, error) {
	f.fetches.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, remote.ErrUnavailable
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, remote.ErrUnavailable
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	key := models.RemoteKey{MeetingKey: meetingKey, RecordingID: recordingID}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	r, ok := f.records[key]
	if !ok {
		return nil, remote.ErrNotFound
	}
	r.FetchedAt = time.Now()
	return &r, nil
}

func (f *fakeRemote) ListRecordingsSince(ctx context.Context, since time.Time) ([]models.RemoteRecording, error) {
	f.mu.Lock()
	f.since = since
	f.mu.Unlock()
	all, err := f.ListAllRecordings(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.RemoteRecording
	for _, r := range all {
		if !r.TimeCreated.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) ListAllRecordings(ctx context.Context) ([]models.RemoteRecording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	now := time.Now()
	out := make([]models.RemoteRecording, 0, len(f.records))
	for _, r := range f.records {
		r.FetchedAt = now
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) FetchMeeting(ctx context.Context, meetingKey string) (*models.RemoteMeeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[meetingKey]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &m, nil
}

// fakeMeetings is an in-memory MeetingSource.
type fakeMeetings struct {
	mu      sync.Mutex
	open    []string
	updated map[string]string
	calls   atomic.Int32
}

func (m *fakeMeetings) OpenMeetingKeys(ctx context.Context, now time.Time) ([]string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.open...), nil
}

func (m *fakeMeetings) UpdateStatus(ctx context.Context, meetingKey, status string, endTime *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = make(map[string]string)
	}
	m.updated[meetingKey] = status
	return nil
}

func snapshotNow(meetingKey, recordingID string) models.RemoteRecording {
	return models.RemoteRecording{
		MeetingKey:  meetingKey,
		RecordingID: recordingID,
		Name:        recordingID,
		TimeCreated: time.Now().Add(-time.Hour),
	}
}
