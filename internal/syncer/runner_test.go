package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/internal/recordings"
	"github.com/aura-webinar/recording-sync/internal/remote"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 3
	cfg.RunTimeout = 5 * time.Second
	return cfg
}

// seedAt stores a recording created at created and last checked at checked.
func seedAt(t *testing.T, store recordings.Store, meetingKey, recordingID string, created, checked time.Time) *models.Recording {
	t.Helper()
	rec, err := store.Upsert(context.Background(), &models.Recording{
		MeetingKey:  meetingKey,
		RecordingID: recordingID,
		Name:        recordingID,
		TimeCreated: created,
	}, checked)
	require.NoError(t, err)
	return rec
}

func remoteCopy(rec *models.Recording, name string) models.RemoteRecording {
	return models.RemoteRecording{
		MeetingKey:  rec.MeetingKey,
		RecordingID: rec.RecordingID,
		Name:        name,
		TimeCreated: rec.TimeCreated,
	}
}

func TestRecentTierDiscoversAndChecks(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	ctx := context.Background()

	gone := seedAt(t, store, "MK1", "gone", now.Add(-time.Hour), now.Add(-time.Hour))
	kept := seedAt(t, store, "MK1", "kept", now.Add(-2*time.Hour), now.Add(-time.Hour))
	fresh := seedAt(t, store, "MK1", "fresh", now.Add(-time.Hour), now)
	old := seedAt(t, store, "MK9", "old", now.Add(-72*time.Hour), now.Add(-time.Hour))
	rem.put(remoteCopy(kept, "kept"))
	rem.put(models.RemoteRecording{MeetingKey: "MK2", RecordingID: "new", Name: "Lecture 5", DurationSeconds: 1800, TimeCreated: now.Add(-30 * time.Minute)})

	rep, err := NewRunner(store, rem, nil, testConfig(), nil).RunTier(ctx, TierRecent)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Discovered)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Checked, "kept is confirmed during discovery")
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Deleted)
	assert.Zero(t, rep.Failures)
	assert.False(t, rep.Overrun)
	assert.WithinDuration(t, now.Add(-48*time.Hour), rem.since, time.Minute)

	created, err := store.FindByRemoteKey(ctx, "MK2", "new")
	require.NoError(t, err)
	assert.Equal(t, "Lecture 5", created.Name)

	got, err := store.Get(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	got, err = store.Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.True(t, got.LastStatusCheck.After(now.Add(-time.Minute)))

	got, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted, "recently checked recordings are not due")

	got, err = store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted, "recordings outside the window belong to other tiers")
}

func TestMediumTierChecksOnlyItsWindow(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()

	seedAt(t, store, "MK1", "recent", now.Add(-time.Hour), now.Add(-24*time.Hour))
	mid := seedAt(t, store, "MK1", "mid", now.Add(-5*24*time.Hour), now.Add(-24*time.Hour))
	seedAt(t, store, "MK1", "ancient", now.Add(-30*24*time.Hour), now.Add(-24*time.Hour))
	rem.put(remoteCopy(mid, "mid renamed"))

	rep, err := NewRunner(store, rem, nil, testConfig(), nil).RunTier(context.Background(), TierMedium)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, int32(1), rem.fetches.Load())
}

func TestFullTierUndeletesReappearedRecordings(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	ctx := context.Background()

	rec := seedAt(t, store, "MK1", "R1", now.Add(-90*24*time.Hour), now.Add(-72*time.Hour))
	_, err := store.MarkDeleted(ctx, rec.ID, now.Add(-72*time.Hour))
	require.NoError(t, err)
	rem.put(remoteCopy(rec, "back again"))

	rep, err := NewRunner(store, rem, nil, testConfig(), nil).RunTier(ctx, TierFull)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Undeleted)
	assert.Zero(t, rep.Candidates, "keys reconciled during discovery are not fetched again")

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.Equal(t, "back again", got.Name)
}

func TestAdminDeleteSurvivesDiscovery(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	ctx := context.Background()
	runner := NewRunner(store, rem, nil, testConfig(), nil)

	rec := seedAt(t, store, "MK1", "R1", now.Add(-time.Hour), now.Add(-time.Hour))
	_, err := store.MarkDeleted(ctx, rec.ID, time.Time{})
	require.NoError(t, err)
	rem.put(remoteCopy(rec, "still listed"))

	rep, err := runner.RunTier(ctx, TierRecent)
	require.NoError(t, err)
	assert.Zero(t, rep.Undeleted)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.True(t, got.DeletedByAdmin)
	assert.Equal(t, "still listed", got.Name)

	_, err = store.MarkUndeleted(ctx, rec.ID, time.Time{})
	require.NoError(t, err)
	_, err = runner.RunTier(ctx, TierRecent)
	require.NoError(t, err)

	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.False(t, got.DeletedByAdmin)
}

func TestUnavailableIsCountedAndRunContinues(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	ctx := context.Background()

	var recs []*models.Recording
	for _, id := range []string{"a", "b", "c"} {
		rec := seedAt(t, store, "MK1", id, now.Add(-5*24*time.Hour), now.Add(-24*time.Hour))
		rem.put(remoteCopy(rec, id))
		recs = append(recs, rec)
	}
	rem.failKey("MK1", "b", remote.ErrUnavailable)

	rep, err := NewRunner(store, rem, nil, testConfig(), nil).RunTier(ctx, TierMedium)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Candidates)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Failures)

	got, err := store.Get(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, recs[1].LastStatusCheck, got.LastStatusCheck, "failed item stays due")
}

func TestAuthErrorAbortsRun(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	seedAt(t, store, "MK1", "a", now.Add(-5*24*time.Hour), now.Add(-24*time.Hour))
	rem.fetchErr = remote.ErrAuth

	_, err := NewRunner(store, rem, nil, testConfig(), nil).RunTier(context.Background(), TierMedium)
	require.ErrorIs(t, err, remote.ErrAuth)
}

func TestAuthErrorDuringDiscoveryAbortsRun(t *testing.T) {
	rem := newFakeRemote()
	rem.listErr = remote.ErrAuth

	_, err := NewRunner(recordings.NewMemoryStore(nil), rem, nil, testConfig(), nil).RunTier(context.Background(), TierFull)
	require.ErrorIs(t, err, remote.ErrAuth)
}

func TestDiscoveryOutageStillChecksKnownRecordings(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	rec := seedAt(t, store, "MK1", "a", now.Add(-time.Hour), now.Add(-time.Hour))
	rem.put(remoteCopy(rec, "a"))
	rem.listErr = remote.ErrUnavailable

	rep, err := NewRunner(store, rem, nil, testConfig(), nil).RunTier(context.Background(), TierRecent)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failures)
	assert.Equal(t, 1, rep.Checked)
}

func TestRunTimeoutMarksOverrun(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	rem.block = true
	seedAt(t, store, "MK1", "a", now.Add(-5*24*time.Hour), now.Add(-24*time.Hour))

	cfg := testConfig()
	cfg.RunTimeout = 20 * time.Millisecond
	rep, err := NewRunner(store, rem, nil, cfg, nil).RunTier(context.Background(), TierMedium)
	require.ErrorIs(t, err, ErrOverrun)
	assert.True(t, rep.Overrun)
}

func TestRemoteConcurrencyIsBounded(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	rem.delay = 5 * time.Millisecond
	for i := 0; i < 20; i++ {
		seedAt(t, store, "MK1", string(rune('a'+i)), now.Add(-5*24*time.Hour), now.Add(-24*time.Hour))
	}

	cfg := testConfig()
	rep, err := NewRunner(store, rem, nil, cfg, nil).RunTier(context.Background(), TierMedium)
	require.NoError(t, err)
	assert.Equal(t, 20, rep.Deleted)
	assert.LessOrEqual(t, rem.maxSeen.Load(), int32(cfg.Concurrency))
}

func TestBatchLimitCapsCandidates(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	for i := 0; i < 5; i++ {
		seedAt(t, store, "MK1", string(rune('a'+i)), now.Add(-5*24*time.Hour), now.Add(-24*time.Hour))
	}

	cfg := testConfig()
	cfg.BatchLimit = 2
	rep, err := NewRunner(store, rem, nil, cfg, nil).RunTier(context.Background(), TierMedium)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
}

func TestOpenTierChecksOpenMeetingsAndRefreshesStatus(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	meetings := &fakeMeetings{open: []string{"LIVE", "DONE"}}
	ctx := context.Background()

	live := seedAt(t, store, "LIVE", "a", now.Add(-10*time.Minute), now.Add(-time.Second))
	other := seedAt(t, store, "OTHER", "b", now.Add(-10*time.Minute), now.Add(-time.Hour))
	rem.put(remoteCopy(live, "a (processing)"))
	rem.meetings["LIVE"] = models.RemoteMeeting{MeetingKey: "LIVE", Status: models.MeetingStatusInProgress}
	ended := now.Add(-time.Minute)
	rem.meetings["DONE"] = models.RemoteMeeting{MeetingKey: "DONE", Status: models.MeetingStatusEnded, EndTime: &ended}

	rep, err := NewRunner(store, rem, meetings, testConfig(), nil).RunTier(ctx, TierOpen)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Updated)

	got, err := store.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.LastStatusCheck, got.LastStatusCheck)

	assert.Equal(t, map[string]string{"DONE": models.MeetingStatusEnded}, meetings.updated)
}

func TestOpenTierWithoutMeetingsIsEmpty(t *testing.T) {
	rep, err := NewRunner(recordings.NewMemoryStore(nil), newFakeRemote(), &fakeMeetings{}, testConfig(), nil).RunTier(context.Background(), TierOpen)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)
}

func TestCheckRecording(t *testing.T) {
	now := time.Now()
	store := recordings.NewMemoryStore(nil)
	rem := newFakeRemote()
	rec := seedAt(t, store, "MK1", "a", now.Add(-time.Hour), now)

	change, err := NewRunner(store, rem, nil, testConfig(), nil).CheckRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, change.Action)
}

func TestUnknownTier(t *testing.T) {
	_, err := NewRunner(recordings.NewMemoryStore(nil), newFakeRemote(), nil, testConfig(), nil).RunTier(context.Background(), Tier("hourly"))
	assert.Error(t, err)
}
