package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/internal/recordings"
)

// DefaultRetention is how long soft-deleted recordings are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Purger permanently removes recordings soft-deleted longer than the retention period.
type Purger struct {
	store     recordings.Store
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewPurger creates a purger. A non-positive retention uses DefaultRetention.
func NewPurger(store recordings.Store, retention time.Duration, logger *zap.Logger) *Purger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Purger{store: store, retention: retention, now: time.Now, logger: logger}
}

// Run purges once and returns the number of removed recordings.
func (p *Purger) Run(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge recordings: %w", err)
	}
	p.logger.Info("purged deleted recordings", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}
