package recordings

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aura-webinar/recording-sync/internal/models"
)

// Column is one column of the admin recordings listing.
type Column int

const (
	ColName Column = iota
	ColTimeCreated
	ColDuration
	ColFileSize
	ColFileURL
	ColStreamURL
	ColActivity
	ColDeleted
)

// Columns lists the listing columns in display order.
var Columns = []Column{ColName, ColTimeCreated, ColDuration, ColFileSize, ColFileURL, ColStreamURL, ColActivity, ColDeleted}

const (
	nameMaxRunes   = 60
	nameTruncRunes = 55
	ellipsis       = "…"
	timeLayout     = "02/01/06, 15:04"
	// DeletedRowClass marks soft-deleted rows.
	DeletedRowClass = "recording-deleted"
)

// Cell is what a formatter sees for one row.
type Cell struct {
	Recording *models.Recording
	Meeting   *models.Meeting // nil when the owning meeting is unknown
}

type columnDef struct {
	key    string
	header string
	sort   string // ListFilter sort key, "" when not sortable
	format func(f *Formatter, c Cell, export bool) string
}

var columnDefs = map[Column]columnDef{
	ColName:        {"name", "Name", "name", formatName},
	ColTimeCreated: {"timecreated", "Date", "time_created", formatTimeCreated},
	ColDuration:    {"duration", "Duration", "duration", formatDuration},
	ColFileSize:    {"filesize", "File size", "file_size", formatFileSize},
	ColFileURL:     {"fileurl", "Download", "", formatFileURL},
	ColStreamURL:   {"streamurl", "Stream", "", formatStreamURL},
	ColActivity:    {"activity", "Activity", "", formatActivity},
	ColDeleted:     {"deleted", "Delete", "deleted", formatDeleted},
}

// Key returns the column's identifier.
func (c Column) Key() string { return columnDefs[c].key }

// Header returns the column heading.
func (c Column) Header() string { return columnDefs[c].header }

// SortKey returns the ListFilter sort key, or "" if the column is not sortable.
func (c Column) SortKey() string { return columnDefs[c].sort }

// Formatter renders recordings as listing cells, in human or export form.
type Formatter struct {
	Location    *time.Location
	ActivityURL string // printf pattern taking the activity id
	ActionBase  string // prefix of the delete/undelete endpoints
}

// Format renders one cell.
func (f *Formatter) Format(col Column, c Cell, export bool) string {
	def, ok := columnDefs[col]
	if !ok {
		return ""
	}
	return def.format(f, c, export)
}

// Row renders every column of one recording.
func (f *Formatter) Row(c Cell, export bool) []string {
	out := make([]string, len(Columns))
	for i, col := range Columns {
		out[i] = f.Format(col, c, export)
	}
	return out
}

// RowClass returns the CSS class of a listing row.
func RowClass(rec *models.Recording) string {
	if rec.Deleted {
		return DeletedRowClass
	}
	return ""
}

// Headers returns the column headings in display order.
func Headers() []string {
	out := make([]string, len(Columns))
	for i, col := range Columns {
		out[i] = col.Header()
	}
	return out
}

func formatName(f *Formatter, c Cell, export bool) string {
	name := TruncateName(c.Recording.Name)
	if export {
		return name
	}
	return html.EscapeString(name)
}

// TruncateName shortens names longer than 60 characters to 55 plus an ellipsis.
func TruncateName(name string) string {
	if utf8.RuneCountInString(name) <= nameMaxRunes {
		return name
	}
	r := []rune(name)
	return string(r[:nameTruncRunes]) + ellipsis
}

func formatTimeCreated(f *Formatter, c Cell, export bool) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return c.Recording.TimeCreated.In(loc).Format(timeLayout)
}

func formatDuration(f *Formatter, c Cell, export bool) string {
	if export {
		return strconv.Itoa(c.Recording.DurationSeconds)
	}
	return FormatDuration(c.Recording.DurationSeconds)
}

func formatFileSize(f *Formatter, c Cell, export bool) string {
	if export {
		return strconv.FormatInt(c.Recording.FileSizeBytes, 10)
	}
	return FormatSize(c.Recording.FileSizeBytes)
}

func formatFileURL(f *Formatter, c Cell, export bool) string {
	return link(c.Recording.FileURL, "Download", export)
}

func formatStreamURL(f *Formatter, c Cell, export bool) string {
	return link(c.Recording.StreamURL, "Stream", export)
}

func link(url, label string, export bool) string {
	if export {
		return url
	}
	if url == "" {
		return "-"
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), label)
}

func formatActivity(f *Formatter, c Cell, export bool) string {
	m := c.Meeting
	if m == nil || m.ActivityID == 0 || f.ActivityURL == "" {
		return "-"
	}
	url := fmt.Sprintf(f.ActivityURL, m.ActivityID)
	if export {
		return url
	}
	return fmt.Sprintf(`<a href="%s">Activity</a>`, html.EscapeString(url))
}

func formatDeleted(f *Formatter, c Cell, export bool) string {
	if export {
		if c.Recording.Deleted {
			return "1"
		}
		return "0"
	}
	action, label := "delete", "Delete"
	if c.Recording.Deleted {
		action, label = "undelete", "Undelete"
	}
	url := strings.TrimSuffix(f.ActionBase, "/") + "/" + c.Recording.ID.String() + "/" + action
	return fmt.Sprintf(`<a href="%s" data-method="post">%s</a>`, html.EscapeString(url), label)
}

// FormatDuration renders seconds as its two most significant units, e.g. "1 hour 30 mins".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "now"
	}
	const (
		minute = 60
		hour   = 60 * minute
		day    = 24 * hour
		year   = 365 * day
	)
	years := seconds / year
	rem := seconds % year
	days := rem / day
	rem %= day
	hours := rem / hour
	rem %= hour
	mins := rem / minute
	secs := rem % minute

	var parts []string
	add := func(n int, one, many string) {
		if n == 0 {
			return
		}
		unit := many
		if n == 1 {
			unit = one
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, unit))
	}
	switch {
	case years > 0:
		add(years, "year", "years")
		add(days, "day", "days")
	case days > 0:
		add(days, "day", "days")
		add(hours, "hour", "hours")
	case hours > 0:
		add(hours, "hour", "hours")
		add(mins, "min", "mins")
	case mins > 0:
		add(mins, "min", "mins")
		add(secs, "sec", "secs")
	default:
		add(secs, "sec", "secs")
	}
	return strings.Join(parts, " ")
}

// FormatSize renders a byte count with one decimal in the largest fitting unit.
func FormatSize(size int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	scaled := func(unit int64, suffix string) string {
		v := math.Round(float64(size)/float64(unit)*10) / 10
		return strconv.FormatFloat(v, 'f', -1, 64) + " " + suffix
	}
	switch {
	case size >= gb:
		return scaled(gb, "GB")
	case size >= mb:
		return scaled(mb, "MB")
	case size >= kb:
		return scaled(kb, "KB")
	default:
		return strconv.FormatInt(size, 10) + " bytes"
	}
}
