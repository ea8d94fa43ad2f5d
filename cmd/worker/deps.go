package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/config"
	"github.com/aura-webinar/recording-sync/internal/meetings"
	"github.com/aura-webinar/recording-sync/internal/realtime"
	"github.com/aura-webinar/recording-sync/internal/recordings"
	"github.com/aura-webinar/recording-sync/internal/remote"
	"github.com/aura-webinar/recording-sync/internal/scheduler"
	"github.com/aura-webinar/recording-sync/internal/syncer"
	"github.com/aura-webinar/recording-sync/pkg/database"
	"github.com/aura-webinar/recording-sync/pkg/redis"
)

// deps holds everything a worker command may need. Close releases what was opened.
type deps struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool // nil with the memory driver
	rdb      *redis.Client // nil when REDIS_ADDR is empty
	store    recordings.Store
	meetings syncer.MeetingSource
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{cfg: cfg, logger: logger}
	switch cfg.Database.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		d.store = recordings.NewMemoryStore(nil)
		d.meetings = meetings.NewMemoryRepository()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		d.pool = pool
		d.store = recordings.NewRepository(pool)
		d.meetings = meetings.NewRepository(pool)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.rdb = rdb
	}
	return d, nil
}

func (d *deps) Close() {
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func (d *deps) runner() *syncer.Runner {
	rc := syncer.DefaultConfig()
	rc.Concurrency = d.cfg.Sync.Concurrency
	rc.RunTimeout = d.cfg.Sync.RunTimeout
	rc.BatchLimit = d.cfg.Sync.BatchLimit
	rc.MediumAge = d.cfg.Sync.MediumAge
	client := remote.NewHTTPClient(d.cfg.Remote.BaseURL, d.cfg.Remote.Timeout, d.logger)
	r := syncer.NewRunner(d.store, client, d.meetings, rc, d.logger)
	if d.rdb != nil {
		r.SetNotifier(realtime.NewChangePublisher(realtime.NewRedisPubSub(d.rdb.Client, d.logger), d.logger))
	}
	return r
}

func (d *deps) scheduler(r *syncer.Runner) (*scheduler.Scheduler, error) {
	sched := syncer.DefaultSchedule()
	sched.FullEveryDays = d.cfg.Sync.FullEveryDays
	sched.FullHour = d.cfg.Sync.FullHour
	sched.PurgeHour = d.cfg.Sync.PurgeHour
	sched.Jitter = d.cfg.Sync.Jitter
	sched.Location = d.cfg.Sync.Location

	purger := syncer.NewPurger(d.store, d.cfg.Sync.Retention, d.logger)
	opts := []scheduler.Option{
		scheduler.WithTick(d.cfg.Sync.SchedulerTick),
		scheduler.WithLogger(d.logger),
	}
	if d.rdb != nil {
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(d.rdb.Client, d.logger), d.cfg.Sync.LockTTL))
	} else {
		d.logger.Warn("redis not configured, job locks are local to this process")
	}
	return scheduler.New(syncer.Jobs(r, purger, sched), opts...)
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
