package recordings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/recording-sync/internal/models"
)

const recordingColumns = "id, meeting_key, recording_id, host_id, name, duration_seconds, file_size_bytes, " +
	"file_url, stream_url, time_created, time_modified, deleted, deleted_by_admin, last_status_check"

// nextModifiedExpr keeps time_modified strictly increasing per row.
const nextModifiedExpr = "GREATEST(NOW(), time_modified + INTERVAL '1 microsecond')"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.MeetingKey, &rec.RecordingID, &rec.HostID, &rec.Name, &rec.DurationSeconds,
		&rec.FileSizeBytes, &rec.FileURL, &rec.StreamURL, &rec.TimeCreated, &rec.TimeModified, &rec.Deleted,
		&rec.DeletedByAdmin, &rec.LastStatusCheck)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) queryOne(ctx context.Context, b sq.Sqlizer) (*models.Recording, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanRecording(r.pool.QueryRow(ctx, query, args...))
}

func (r *Repository) queryMany(ctx context.Context, b sq.Sqlizer) ([]models.Recording, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

func selectRecordings() sq.SelectBuilder {
	return psql.Select(recordingColumns).From("recordings")
}

// Get returns a recording by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return r.queryOne(ctx, selectRecordings().Where(sq.Eq{"id": id}))
}

// FindByRemoteKey returns a recording by its remote key.
func (r *Repository) FindByRemoteKey(ctx context.Context, meetingKey, recordingID string) (*models.Recording, error) {
	return r.queryOne(ctx, selectRecordings().Where(sq.Eq{"meeting_key": meetingKey, "recording_id": recordingID}))
}

// Upsert inserts a new recording or compare-and-updates an existing one.
func (r *Repository) Upsert(ctx context.Context, rec *models.Recording, checkedAt time.Time) (*models.Recording, error) {
	if rec.ID == uuid.Nil {
		out, err := r.queryOne(ctx, insertQuery(rec, checkedAt))
		if errors.Is(err, ErrNotFound) {
			// ON CONFLICT DO NOTHING returned no row: the remote key already exists.
			return nil, ErrConflict
		}
		return out, err
	}
	out, err := r.queryOne(ctx, updateQuery(rec, checkedAt))
	if errors.Is(err, ErrNotFound) {
		return nil, r.explainMiss(ctx, rec.ID, checkedAt)
	}
	return out, err
}

func insertQuery(rec *models.Recording, checkedAt time.Time) sq.InsertBuilder {
	var lastCheck interface{}
	if checkedAt.IsZero() {
		lastCheck = sq.Expr("'epoch'::timestamptz")
	} else {
		lastCheck = checkedAt
	}
	return psql.Insert("recordings").
		Columns("id", "meeting_key", "recording_id", "host_id", "name", "duration_seconds", "file_size_bytes",
			"file_url", "stream_url", "time_created", "time_modified", "deleted", "deleted_by_admin", "last_status_check").
		Values(uuid.New(), rec.MeetingKey, rec.RecordingID, rec.HostID, rec.Name, rec.DurationSeconds, rec.FileSizeBytes,
			rec.FileURL, rec.StreamURL, rec.TimeCreated, sq.Expr("NOW()"), rec.Deleted, rec.DeletedByAdmin, lastCheck).
		Suffix("ON CONFLICT (meeting_key, recording_id) DO NOTHING RETURNING " + recordingColumns)
}

func updateQuery(rec *models.Recording, checkedAt time.Time) sq.UpdateBuilder {
	b := psql.Update("recordings").
		Set("host_id", sq.Expr("COALESCE(NULLIF(host_id, ''), ?)", rec.HostID)).
		Set("name", rec.Name).
		Set("duration_seconds", rec.DurationSeconds).
		Set("file_size_bytes", rec.FileSizeBytes).
		Set("file_url", rec.FileURL).
		Set("stream_url", rec.StreamURL).
		Set("deleted", rec.Deleted).
		Set("deleted_by_admin", rec.DeletedByAdmin).
		Set("time_modified", sq.Expr(nextModifiedExpr)).
		Where(sq.Eq{"id": rec.ID, "time_modified": rec.TimeModified})
	if !checkedAt.IsZero() {
		b = b.Set("last_status_check", checkedAt).Where(sq.LtOrEq{"last_status_check": checkedAt})
	}
	return b.Suffix("RETURNING " + recordingColumns)
}

// explainMiss maps a conditional write that matched no row to the right error.
func (r *Repository) explainMiss(ctx context.Context, id uuid.UUID, checkedAt time.Time) error {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !checkedAt.IsZero() && checkedAt.Before(cur.LastStatusCheck) {
		return ErrStale
	}
	return ErrConflict
}

// ListForTier returns non-deleted recordings due for a check, oldest-checked first.
func (r *Repository) ListForTier(ctx context.Context, q TierQuery) ([]models.Recording, error) {
	if q.MeetingKeys != nil && len(q.MeetingKeys) == 0 {
		return nil, nil
	}
	return r.queryMany(ctx, tierQuery(q))
}

func tierQuery(q TierQuery) sq.SelectBuilder {
	b := selectRecordings().Where(sq.Eq{"deleted": false})
	if !q.CheckedBefore.IsZero() {
		b = b.Where(sq.Lt{"last_status_check": q.CheckedBefore})
	}
	if q.CreatedAfter != nil {
		b = b.Where(sq.GtOrEq{"time_created": *q.CreatedAfter})
	}
	if q.CreatedBefore != nil {
		b = b.Where(sq.Lt{"time_created": *q.CreatedBefore})
	}
	if q.MeetingKeys != nil {
		b = b.Where(sq.Eq{"meeting_key": q.MeetingKeys})
	}
	b = b.OrderBy("last_status_check ASC", "id ASC")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	return b
}

// MarkDeleted soft-deletes a recording; a no-op when already deleted. A zero
// checkedAt is an admin delete and also sets deleted_by_admin.
func (r *Repository) MarkDeleted(ctx context.Context, id uuid.UUID, checkedAt time.Time) (*models.Recording, error) {
	return r.setDeleted(ctx, id, true, checkedAt)
}

// MarkUndeleted clears the soft-delete flag; a no-op when not deleted. Rows
// deleted by an admin are only undeleted with a zero checkedAt.
func (r *Repository) MarkUndeleted(ctx context.Context, id uuid.UUID, checkedAt time.Time) (*models.Recording, error) {
	return r.setDeleted(ctx, id, false, checkedAt)
}

func (r *Repository) setDeleted(ctx context.Context, id uuid.UUID, deleted bool, checkedAt time.Time) (*models.Recording, error) {
	out, err := r.queryOne(ctx, setDeletedQuery(id, deleted, checkedAt))
	if !errors.Is(err, ErrNotFound) {
		return out, err
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if checkedAt.IsZero() || cur.Deleted == deleted || cur.DeletedByAdmin {
		return cur, nil
	}
	return nil, ErrStale
}

func setDeletedQuery(id uuid.UUID, deleted bool, checkedAt time.Time) sq.UpdateBuilder {
	b := psql.Update("recordings").Set("deleted", deleted)
	if checkedAt.IsZero() {
		b = b.Set("deleted_by_admin", deleted).
			Set("time_modified", sq.Expr(nextModifiedExpr)).
			Where(sq.Eq{"id": id}).
			Where(sq.Or{sq.Eq{"deleted": !deleted}, sq.Eq{"deleted_by_admin": !deleted}})
		return b.Suffix("RETURNING " + recordingColumns)
	}
	b = b.Set("time_modified", sq.Expr(nextModifiedExpr)).
		Set("last_status_check", checkedAt).
		Where(sq.Eq{"id": id, "deleted": !deleted, "deleted_by_admin": false}).
		Where(sq.LtOrEq{"last_status_check": checkedAt})
	return b.Suffix("RETURNING " + recordingColumns)
}

// Touch advances last_status_check.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, checkedAt time.Time) error {
	query, args, err := psql.Update("recordings").
		Set("last_status_check", sq.Expr("GREATEST(last_status_check, ?)", checkedAt)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeOlderThan permanently removes deleted recordings with time_modified before cutoff.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := purgeQuery(cutoff).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func purgeQuery(cutoff time.Time) sq.DeleteBuilder {
	return psql.Delete("recordings").Where(sq.Eq{"deleted": true}).Where(sq.Lt{"time_modified": cutoff})
}

// List returns one page of the admin listing and the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Recording, int, error) {
	where := listWhere(f)
	countSQL, countArgs, err := psql.Select("COUNT(*)").From("recordings").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	list, err := r.queryMany(ctx, listQuery(f))
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func listWhere(f ListFilter) sq.And {
	where := sq.And{}
	if !f.IncludeDeleted {
		where = append(where, sq.Eq{"deleted": false})
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, sq.ILike{"name": "%" + s + "%"})
	}
	return where
}

func listQuery(f ListFilter) sq.SelectBuilder {
	col, desc := sortSpec(f.Sort)
	order := col + " ASC"
	if desc {
		order = col + " DESC"
	}
	b := selectRecordings().Where(listWhere(f)).OrderBy(order, "id ASC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	return b
}
