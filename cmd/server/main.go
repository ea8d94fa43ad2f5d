// Package main runs the recordings admin HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/recording-sync/config"
	"github.com/aura-webinar/recording-sync/internal/auth"
	"github.com/aura-webinar/recording-sync/internal/meetings"
	"github.com/aura-webinar/recording-sync/internal/middleware"
	"github.com/aura-webinar/recording-sync/internal/realtime"
	"github.com/aura-webinar/recording-sync/internal/recordings"
	"github.com/aura-webinar/recording-sync/pkg/database"
	"github.com/aura-webinar/recording-sync/pkg/queue"
	"github.com/aura-webinar/recording-sync/pkg/redis"
	"github.com/aura-webinar/recording-sync/pkg/response"
	"github.com/aura-webinar/recording-sync/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx := context.Background()

	var (
		store       recordings.Store
		meetingRepo recordings.MeetingLookup
	)
	if cfg.Database.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, the listing only shows this process's data")
		store = recordings.NewMemoryStore(nil)
		meetingRepo = meetings.NewMemoryRepository()
	} else {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = recordings.NewRepository(pool)
		meetingRepo = meetings.NewRepository(pool)
	}

	formatter := &recordings.Formatter{
		Location:    cfg.Admin.Location,
		ActivityURL: cfg.Admin.ActivityURL,
		ActionBase:  "/admin/recordings",
	}
	recordingHandler := recordings.NewHandler(store, meetingRepo, formatter, logger)

	// Resync goes through the worker's check queue; changes come back over pub/sub.
	var changes realtime.Subscriber
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Warn("redis unavailable, resync and live updates disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			recordingHandler.SetCheckEnqueuer(queue.NewQueue(rdb.Client, logger))
			pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
			changes = pubsub
			recordingHandler.SetNotifier(realtime.NewChangePublisher(pubsub, logger))
		}
	}
	hub := realtime.NewHub(changes, logger)

	if cfg.AWS.ExportsBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			recordingHandler.SetArchiver(s3Client)
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	admin := router.Group("/admin")
	admin.Use(middleware.RequireAdmin(jwtValidate, auth.RoleAdmin, logger))
	recordingHandler.Register(admin)

	// Live change feed (token in query; no Authorization header required)
	router.GET("/ws/recordings", realtime.ServeWs(hub, jwtValidate, auth.RoleAdmin, cfg.Server.CORSAllowedOrigins, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
