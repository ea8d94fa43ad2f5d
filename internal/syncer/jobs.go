package syncer

import (
	"context"
	"time"

	"github.com/aura-webinar/recording-sync/internal/scheduler"
)

// Job names.
const (
	JobOpenSync   = "open-sync"
	JobRecentSync = "recent-sync"
	JobMediumSync = "medium-sync"
	JobFullSync   = "full-sync"
	JobPurge      = "purge"
)

// Schedule holds the cadence settings of the sync jobs.
type Schedule struct {
	OpenGap        time.Duration // pause between consecutive open-tier runs
	RecentInterval time.Duration
	MediumInterval time.Duration
	FullEveryDays  int
	FullHour       int
	PurgeHour      int
	Jitter         time.Duration // applied to full-sync and purge
	Location       *time.Location
}

// DefaultSchedule returns the production cadences.
func DefaultSchedule() Schedule {
	return Schedule{
		OpenGap:        scheduler.MinContinuousGap,
		RecentInterval: time.Minute,
		MediumInterval: 8 * time.Hour,
		FullEveryDays:  2,
		FullHour:       3,
		PurgeHour:      2,
		Jitter:         59 * time.Minute,
		Location:       time.UTC,
	}
}

// Jobs builds the scheduler entries for every tier and the purge.
func Jobs(r *Runner, p *Purger, s Schedule) []scheduler.Job {
	tier := func(t Tier) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := r.RunTier(ctx, t)
			return err
		}
	}
	return []scheduler.Job{
		{Name: JobOpenSync, Cadence: scheduler.Continuous{Gap: s.OpenGap}, Run: tier(TierOpen)},
		{Name: JobRecentSync, Cadence: scheduler.Every{Interval: s.RecentInterval}, Run: tier(TierRecent)},
		{Name: JobMediumSync, Cadence: scheduler.Every{Interval: s.MediumInterval}, Run: tier(TierMedium)},
		{
			Name:    JobFullSync,
			Cadence: scheduler.DaysAt{Days: s.FullEveryDays, Hour: s.FullHour, Location: s.Location},
			Jitter:  s.Jitter,
			Run:     tier(TierFull),
		},
		{
			Name:    JobPurge,
			Cadence: scheduler.DaysAt{Days: 1, Hour: s.PurgeHour, Location: s.Location},
			Jitter:  s.Jitter,
			Run: func(ctx context.Context) error {
				_, err := p.Run(ctx)
				return err
			},
		},
	}
}
