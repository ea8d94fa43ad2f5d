package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Remote   RemoteConfig
	Sync     SyncConfig
	Admin    AdminConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string // "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Driver   string // postgres or memory
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/recordings?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds admin token validation settings.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// AWSConfig holds AWS credentials and the export bucket. An empty bucket disables export archives.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// RemoteConfig locates the conferencing service API.
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SyncConfig tunes the sync tiers, the purge and the scheduler.
type SyncConfig struct {
	Concurrency   int
	RunTimeout    time.Duration
	BatchLimit    int
	MediumAge     time.Duration
	Retention     time.Duration
	SchedulerTick time.Duration
	FullEveryDays int
	FullHour      int
	PurgeHour     int
	Jitter        time.Duration
	LockTTL       time.Duration
	Location      *time.Location
}

// AdminConfig controls the admin listing.
type AdminConfig struct {
	Location    *time.Location
	ActivityURL string // printf pattern taking the activity id
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error
	syncLoc, err := time.LoadLocation(getEnv("SYNC_TIMEZONE", "UTC"))
	errs = append(errs, err)
	adminLoc, err := time.LoadLocation(getEnv("ADMIN_TIMEZONE", "UTC"))
	errs = append(errs, err)
	dur := func(key string, fallback time.Duration) time.Duration {
		d, err := getEnvDuration(key, fallback)
		errs = append(errs, err)
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        dur("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       dur("WRITE_TIMEOUT", 60*time.Second),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("STORE_DRIVER", StoreDriverPostgres),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "recordings"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     lookupEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", ""),
			TTL:    dur("JWT_TTL", time.Hour),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Remote: RemoteConfig{
			BaseURL: strings.TrimSuffix(getEnv("REMOTE_BASE_URL", ""), "/"),
			Timeout: dur("REMOTE_TIMEOUT", 30*time.Second),
		},
		Sync: SyncConfig{
			Concurrency:   getEnvInt("SYNC_CONCURRENCY", 5),
			RunTimeout:    dur("SYNC_RUN_TIMEOUT", 10*time.Minute),
			BatchLimit:    getEnvInt("SYNC_BATCH_LIMIT", 1000),
			MediumAge:     dur("SYNC_MEDIUM_AGE", 14*24*time.Hour),
			Retention:     dur("SYNC_RETENTION", 30*24*time.Hour),
			SchedulerTick: dur("SCHEDULER_TICK", time.Minute),
			FullEveryDays: getEnvInt("SYNC_FULL_EVERY_DAYS", 2),
			FullHour:      getEnvInt("SYNC_FULL_HOUR", 3),
			PurgeHour:     getEnvInt("SYNC_PURGE_HOUR", 2),
			Jitter:        dur("SYNC_JITTER", 59*time.Minute),
			LockTTL:       dur("SYNC_LOCK_TTL", 15*time.Minute),
			Location:      syncLoc,
		},
		Admin: AdminConfig{
			Location:    adminLoc,
			ActivityURL: getEnv("ADMIN_ACTIVITY_URL", "/mod/webexactivity/view.php?id=%d"),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the sync worker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Database.Driver))
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("REMOTE_BASE_URL is required"))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, errors.New("SYNC_CONCURRENCY must be at least 1"))
	}
	if c.Sync.BatchLimit < 1 {
		errs = append(errs, errors.New("SYNC_BATCH_LIMIT must be at least 1"))
	}
	if c.Sync.RunTimeout <= 0 {
		errs = append(errs, errors.New("SYNC_RUN_TIMEOUT must be positive"))
	}
	if c.Sync.MediumAge <= 48*time.Hour {
		errs = append(errs, errors.New("SYNC_MEDIUM_AGE must exceed the 48h recent window"))
	}
	if c.Sync.Retention <= 0 {
		errs = append(errs, errors.New("SYNC_RETENTION must be positive"))
	}
	if c.Sync.SchedulerTick <= 0 {
		errs = append(errs, errors.New("SCHEDULER_TICK must be positive"))
	}
	if c.Sync.FullEveryDays < 1 {
		errs = append(errs, errors.New("SYNC_FULL_EVERY_DAYS must be at least 1"))
	}
	for name, h := range map[string]int{"SYNC_FULL_HOUR": c.Sync.FullHour, "SYNC_PURGE_HOUR": c.Sync.PurgeHour} {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("%s must be within 0-23", name))
		}
	}
	if c.Sync.Jitter < 0 {
		errs = append(errs, errors.New("SYNC_JITTER must not be negative"))
	}
	if c.Sync.LockTTL <= c.Sync.RunTimeout {
		errs = append(errs, errors.New("SYNC_LOCK_TTL must exceed SYNC_RUN_TIMEOUT"))
	}
	return errors.Join(errs...)
}

// ValidateServer reports settings the admin server cannot run with.
func (c *Config) ValidateServer() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration parses Go durations plus a whole-day form such as "14d".
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// lookupEnv is getEnv for settings where an empty value means "off".
func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
