package recordings

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/internal/middleware"
	"github.com/aura-webinar/recording-sync/internal/models"
	"github.com/aura-webinar/recording-sync/pkg/queue"
	"github.com/aura-webinar/recording-sync/pkg/response"
	"github.com/aura-webinar/recording-sync/pkg/storage"
)

const (
	defaultPerPage = 30
	maxPerPage     = 500
	exportPageSize = 500
)

// MeetingLookup resolves owning meetings for the activity column.
type MeetingLookup interface {
	GetByKeys(ctx context.Context, keys []string) (map[string]models.Meeting, error)
}

// CheckEnqueuer schedules an on-demand recording check.
type CheckEnqueuer interface {
	EnqueueRecordingCheck(ctx context.Context, payload queue.RecordingCheckPayload) (string, error)
}

// Archiver stores export files and signs download links for them.
type Archiver interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) error
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	ExportsBucket() string
	PresignExpire() time.Duration
}

// ChangeNotifier hears about admin delete and undelete actions.
type ChangeNotifier interface {
	AdminChanged(ctx context.Context, action string, rec *models.Recording)
}

// Handler serves the admin recordings listing. It reads only the store, so it
// keeps working while the background sync is failing.
type Handler struct {
	store    Store
	meetings MeetingLookup  // optional
	checks   CheckEnqueuer  // optional: nil disables resync
	archive  Archiver       // optional: nil disables export archives
	notify   ChangeNotifier // optional
	format   *Formatter
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(store Store, meetings MeetingLookup, format *Formatter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if format == nil {
		format = &Formatter{}
	}
	return &Handler{store: store, meetings: meetings, format: format, now: time.Now, logger: logger}
}

// SetCheckEnqueuer enables the resync action.
func (h *Handler) SetCheckEnqueuer(q CheckEnqueuer) { h.checks = q }

// SetArchiver enables export archives.
func (h *Handler) SetArchiver(a Archiver) { h.archive = a }

// SetNotifier sends admin delete state changes to n.
func (h *Handler) SetNotifier(n ChangeNotifier) { h.notify = n }

// Register mounts the admin routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/recordings", h.List)
	rg.GET("/recordings/export", h.Export)
	rg.POST("/recordings/export/archive", h.Archive)
	rg.POST("/recordings/:id/delete", h.Delete)
	rg.POST("/recordings/:id/undelete", h.Undelete)
	rg.POST("/recordings/:id/resync", h.Resync)
}

// ListRow is one rendered listing row.
type ListRow struct {
	ID    uuid.UUID `json:"id"`
	Class string    `json:"class,omitempty"`
	Cells []string  `json:"cells"`
}

// ListColumn describes one listing column.
type ListColumn struct {
	Key    string `json:"key"`
	Header string `json:"header"`
	Sort   string `json:"sort,omitempty"`
}

// ListPage is the listing response.
type ListPage struct {
	Columns []ListColumn `json:"columns"`
	Rows    []ListRow    `json:"rows"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

func listColumns() []ListColumn {
	out := make([]ListColumn, len(Columns))
	for i, col := range Columns {
		out[i] = ListColumn{Key: col.Key(), Header: col.Header(), Sort: col.SortKey()}
	}
	return out
}

// filterFromQuery parses sort, deleted and q. Paging is left to the caller.
func filterFromQuery(c *gin.Context) ListFilter {
	includeDeleted, _ := strconv.ParseBool(c.DefaultQuery("deleted", "true"))
	return ListFilter{
		IncludeDeleted: includeDeleted,
		Search:         c.Query("q"),
		Sort:           c.Query("sort"),
	}
}

// List handles GET /admin/recordings?page=&per_page=&sort=&deleted=&q=.
func (h *Handler) List(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		response.BadRequest(c, "invalid page")
		return
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage <= 0 {
		response.BadRequest(c, "invalid per_page")
		return
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	f := filterFromQuery(c)
	f.Offset, f.Limit = page*perPage, perPage

	ctx := c.Request.Context()
	recs, total, err := h.store.List(ctx, f)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	meetings := h.lookupMeetings(ctx, recs)
	rows := make([]ListRow, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		rows = append(rows, ListRow{
			ID:    rec.ID,
			Class: RowClass(rec),
			Cells: h.format.Row(h.cell(rec, meetings), false),
		})
	}
	response.OK(c, ListPage{Columns: listColumns(), Rows: rows, Total: total, Page: page, PerPage: perPage})
}

// Export handles GET /admin/recordings/export as a CSV download.
func (h *Handler) Export(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.writeCSV(c.Request.Context(), &buf, filterFromQuery(c)); err != nil {
		h.logger.Error("export recordings failed", zap.Error(err))
		response.Internal(c, "failed to export recordings")
		return
	}
	filename := fmt.Sprintf("recordings-%s.csv", h.now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Archive handles POST /admin/recordings/export/archive: the CSV is stored in S3 and a download link returned.
func (h *Handler) Archive(c *gin.Context) {
	if h.archive == nil {
		response.ServiceUnavailable(c, "export archive not configured")
		return
	}
	ctx := c.Request.Context()
	var buf bytes.Buffer
	if err := h.writeCSV(ctx, &buf, filterFromQuery(c)); err != nil {
		h.logger.Error("export recordings failed", zap.Error(err))
		response.Internal(c, "failed to export recordings")
		return
	}
	bucket := h.archive.ExportsBucket()
	key := storage.ExportKey(uuid.New().String(), h.now())
	if err := h.archive.Upload(ctx, bucket, key, "text/csv", &buf); err != nil {
		h.logger.Error("upload export failed", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to store export")
		return
	}
	expire := h.archive.PresignExpire()
	url, err := h.archive.GeneratePresignedDownloadURL(ctx, bucket, key, expire)
	if err != nil {
		h.logger.Error("presign export failed", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to generate download URL")
		return
	}
	h.logger.Info("recordings export archived", zap.String("key", key), zap.String("user_id", middleware.UserID(c)))
	response.Created(c, gin.H{"key": key, "download_url": url, "expires_in": int(expire.Seconds())})
}

// writeCSV pages through every matching recording in export form.
func (h *Handler) writeCSV(ctx context.Context, w io.Writer, f ListFilter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers()); err != nil {
		return err
	}
	f.Limit = exportPageSize
	for f.Offset = 0; ; f.Offset += exportPageSize {
		recs, total, err := h.store.List(ctx, f)
		if err != nil {
			return fmt.Errorf("list recordings: %w", err)
		}
		meetings := h.lookupMeetings(ctx, recs)
		for i := range recs {
			if err := cw.Write(h.format.Row(h.cell(&recs[i], meetings), true)); err != nil {
				return err
			}
		}
		if len(recs) < exportPageSize || f.Offset+len(recs) >= total {
			break
		}
	}
	cw.Flush()
	return cw.Error()
}

// Delete handles POST /admin/recordings/:id/delete.
func (h *Handler) Delete(c *gin.Context) { h.setDeleted(c, true) }

// Undelete handles POST /admin/recordings/:id/undelete.
func (h *Handler) Undelete(c *gin.Context) { h.setDeleted(c, false) }

func (h *Handler) setDeleted(c *gin.Context, deleted bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	ctx := c.Request.Context()
	mark := h.store.MarkUndeleted
	if deleted {
		mark = h.store.MarkDeleted
	}
	// Admin actions are not status checks; last_status_check is left alone.
	rec, err := mark(ctx, id, time.Time{})
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "recording not found")
		return
	}
	if err != nil {
		h.logger.Error("set recording deleted failed", zap.Error(err), zap.String("recording_id", id.String()), zap.Bool("deleted", deleted))
		response.Internal(c, "failed to update recording")
		return
	}
	h.logger.Info("recording deleted state changed by admin",
		zap.String("recording_id", id.String()), zap.Bool("deleted", deleted), zap.String("user_id", middleware.UserID(c)))
	if h.notify != nil {
		action := "undeleted"
		if deleted {
			action = "deleted"
		}
		h.notify.AdminChanged(ctx, action, rec)
	}
	response.OK(c, ListRow{ID: rec.ID, Class: RowClass(rec), Cells: h.format.Row(h.cell(rec, h.lookupMeetings(ctx, []models.Recording{*rec})), false)})
}

// Resync handles POST /admin/recordings/:id/resync by queueing an on-demand check.
func (h *Handler) Resync(c *gin.Context) {
	if h.checks == nil {
		response.ServiceUnavailable(c, "resync not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to load recording")
		return
	}
	jobID, err := h.checks.EnqueueRecordingCheck(ctx, queue.RecordingCheckPayload{RecordingID: id, RequestedBy: middleware.UserID(c)})
	if err != nil {
		h.logger.Error("enqueue recording check failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.ServiceUnavailable(c, "failed to queue resync")
		return
	}
	response.Accepted(c, gin.H{"job_id": jobID})
}

func (h *Handler) lookupMeetings(ctx context.Context, recs []models.Recording) map[string]models.Meeting {
	if h.meetings == nil || len(recs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(recs))
	keys := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.MeetingKey != "" && !seen[rec.MeetingKey] {
			seen[rec.MeetingKey] = true
			keys = append(keys, rec.MeetingKey)
		}
	}
	meetings, err := h.meetings.GetByKeys(ctx, keys)
	if err != nil {
		h.logger.Warn("meeting lookup failed, listing without activity links", zap.Error(err))
		return nil
	}
	return meetings
}

func (h *Handler) cell(rec *models.Recording, meetings map[string]models.Meeting) Cell {
	c := Cell{Recording: rec}
	if m, ok := meetings[rec.MeetingKey]; ok {
		c.Meeting = &m
	}
	return c
}
