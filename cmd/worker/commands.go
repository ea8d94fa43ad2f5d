package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/config"
	"github.com/aura-webinar/recording-sync/internal/auth"
	"github.com/aura-webinar/recording-sync/internal/worker"
	"github.com/aura-webinar/recording-sync/pkg/database"
	"github.com/aura-webinar/recording-sync/pkg/queue"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tier scheduler, the purge and the on-demand check consumer until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			d, err := openDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			runner := d.runner()
			sched, err := d.scheduler(runner)
			if err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}

			done := make(chan struct{})
			if d.rdb != nil {
				processor := worker.NewCheckProcessor(runner, queue.NewQueue(d.rdb.Client, logger), logger)
				go func() {
					defer close(done)
					processor.Run(ctx)
				}()
				logger.Info("check worker started")
			} else {
				close(done)
			}

			logger.Info("worker started", zap.Strings("jobs", sched.Jobs()), zap.String("store", cfg.Database.Driver))
			err = sched.Run(ctx)
			<-done
			logger.Info("worker stopped")
			if err != nil && !isShutdown(err) {
				return err
			}
			return nil
		},
	}
}

func newJobCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "job <name>",
		Short: "Run one named job now and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			d, err := openDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			sched, err := d.scheduler(d.runner())
			if err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			start := time.Now()
			if err := sched.RunOnce(ctx, args[0]); err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			logger.Info("job finished", zap.String("job", args[0]), zap.Duration("duration", time.Since(start)))
			return nil
		},
	}
}

func newJobsCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the registered job names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Listing needs no connections.
			d := &deps{cfg: cfg, logger: logger}
			sched, err := d.scheduler(d.runner())
			if err != nil {
				return err
			}
			for _, name := range sched.Jobs() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newMigrateCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != config.StoreDriverPostgres {
				return errors.New("migrate needs STORE_DRIVER=postgres")
			}
			ctx, stop := signalContext()
			defer stop()

			pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: 2}, logger)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()
			return database.Migrate(ctx, pool, logger)
		},
	}
}

func newTokenCmd(logger *zap.Logger) *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an admin token for the recordings admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL).Generate(userID, name, auth.RoleAdmin)
			if err != nil {
				return err
			}
			logger.Info("admin token issued", zap.String("user_id", userID), zap.Duration("ttl", cfg.JWT.TTL))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id stored in the token")
	cmd.Flags().StringVar(&name, "name", "Site administrator", "display name stored in the token")
	return cmd
}
