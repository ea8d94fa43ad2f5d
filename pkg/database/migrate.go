package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Step is one schema change. Exactly one of SQL or Func is set.
type Step struct {
	Version int64
	Name    string
	SQL     string
	Func    func(ctx context.Context, tx pgx.Tx, logger *zap.Logger) error
}

func (s Step) String() string { return fmt.Sprintf("%d_%s", s.Version, s.Name) }

// goSteps are schema changes that need more than a SQL script.
var goSteps = []Step{
	{Version: 2014021400, Name: "meeting_duration", Func: backfillMeetingDuration},
	{Version: 2026101901, Name: "recording_dedupe_remote_keys", Func: dedupeRemoteKeys},
}

// Steps returns every migration in version order.
func Steps() ([]Step, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return loadSteps(sub, goSteps)
}

// loadSteps merges the SQL files in fsys with extra and orders them by version.
func loadSteps(fsys fs.FS, extra []Step) ([]Step, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	steps := append([]Step(nil), extra...)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, name, err := parseFilename(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		steps = append(steps, Step{Version: version, Name: name, SQL: string(body)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	for i, s := range steps {
		if (s.SQL == "") == (s.Func == nil) {
			return nil, fmt.Errorf("migration %s: needs exactly one of SQL or Func", s)
		}
		if i > 0 && steps[i-1].Version == s.Version {
			return nil, fmt.Errorf("migration version %d defined twice", s.Version)
		}
	}
	return steps, nil
}

// parseFilename splits "<version>_<name>.sql".
func parseFilename(filename string) (int64, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	v, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want <version>_<name>.sql", filename)
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: bad version %q", filename, v)
	}
	return version, name, nil
}

// pending returns the steps not yet recorded as applied, in order.
func pending(steps []Step, applied map[int64]bool) []Step {
	var out []Step
	for _, s := range steps {
		if !applied[s.Version] {
			out = append(out, s)
		}
	}
	return out
}

// Migrate applies every pending step, each in its own transaction, and records it in schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	steps, err := Steps()
	if err != nil {
		return err
	}
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}
	todo := pending(steps, applied)
	for _, s := range todo {
		if err := apply(ctx, pool, s, logger); err != nil {
			return fmt.Errorf("migration %s: %w", s, err)
		}
		logger.Info("migration applied", zap.Int64("version", s.Version), zap.String("name", s.Name))
	}
	if len(todo) == 0 {
		logger.Info("schema up to date", zap.Int("steps", len(steps)))
	}
	return nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, pool *pgxpool.Pool, s Step, logger *zap.Logger) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if s.Func != nil {
			if err := s.Func(ctx, tx, logger); err != nil {
				return err
			}
		} else if _, err := tx.Exec(ctx, s.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, s.Version, s.Name)
		return err
	})
}

// backfillMeetingDuration adds duration_minutes and derives it from the start and end times.
func backfillMeetingDuration(ctx context.Context, tx pgx.Tx, _ *zap.Logger) error {
	if _, err := tx.Exec(ctx, `ALTER TABLE meetings ADD COLUMN IF NOT EXISTS duration_minutes INTEGER`); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE meetings
		SET duration_minutes = GREATEST(0, EXTRACT(EPOCH FROM (end_time - start_time)) / 60)::INTEGER
		WHERE duration_minutes IS NULL AND end_time IS NOT NULL`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE meetings SET duration_minutes = 0 WHERE duration_minutes IS NULL`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `ALTER TABLE meetings ALTER COLUMN duration_minutes SET NOT NULL, ALTER COLUMN duration_minutes SET DEFAULT 0`)
	return err
}

// dedupeRemoteKeys keeps one row per (meeting_key, recording_id) so the unique index can be built.
// The survivor is the live row if any, then the most recently modified.
func dedupeRemoteKeys(ctx context.Context, tx pgx.Tx, logger *zap.Logger) error {
	tag, err := tx.Exec(ctx, `DELETE FROM recordings r
		USING (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY meeting_key, recording_id
				ORDER BY deleted ASC, time_modified DESC, id
			) AS rn
			FROM recordings
		) d
		WHERE r.id = d.id AND d.rn > 1`)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		logger.Warn("removed duplicate recordings", zap.Int64("count", n))
	}
	return nil
}
