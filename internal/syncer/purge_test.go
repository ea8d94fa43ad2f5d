package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/internal/recordings"
)

func TestPurgeHonoursRetention(t *testing.T) {
	now := t0
	clock := now
	store := recordings.NewMemoryStore(func() time.Time { return clock })
	ctx := context.Background()

	deleteAt := func(id string, at time.Time) *models.Recording {
		clock = at
		rec := seed(t, store, "MK1", id, at)
		rec, err := store.MarkDeleted(ctx, rec.ID, at)
		require.NoError(t, err)
		return rec
	}
	expired := deleteAt("expired", now.Add(-31*24*time.Hour))
	retained := deleteAt("retained", now.Add(-29*24*time.Hour))
	clock = now.Add(-90 * 24 * time.Hour)
	live := seed(t, store, "MK1", "live", clock)
	clock = now

	p := NewPurger(store, 30*24*time.Hour, nil)
	p.now = func() time.Time { return now }
	n, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, recordings.ErrNotFound)
	_, err = store.Get(ctx, retained.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, live.ID)
	assert.NoError(t, err, "live recordings are never purged")
}

func TestPurgerDefaultsRetention(t *testing.T) {
	p := NewPurger(recordings.NewMemoryStore(nil), 0, nil)
	assert.Equal(t, DefaultRetention, p.retention)
}
