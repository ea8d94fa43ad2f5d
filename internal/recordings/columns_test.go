package recordings

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/recording-sync/internal/models"
)

func TestTruncateName(t *testing.T) {
	exact := strings.Repeat("é", 60)
	assert.Equal(t, exact, TruncateName(exact))

	long := strings.Repeat("a", 50) + strings.Repeat("ß", 11)
	got := TruncateName(long)
	assert.Equal(t, strings.Repeat("a", 50)+strings.Repeat("ß", 5)+"…", got)
	assert.Equal(t, 56, len([]rune(got)))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "now"},
		{1, "1 sec"},
		{45, "45 secs"},
		{60, "1 min"},
		{61, "1 min 1 sec"},
		{1800, "30 mins"},
		{5400, "1 hour 30 mins"},
		{7200, "2 hours"},
		{7265, "2 hours 1 min"},
		{90000, "1 day 1 hour"},
		{366 * 86400, "1 year 1 day"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.secs), "%d", tt.secs)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1572864, "1.5 MB"},
		{5 * 1024 * 1024 * 1024, "5 GB"},
		{1288490189, "1.2 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.size), "%d", tt.size)
	}
}

func TestFormatterHumanAndExport(t *testing.T) {
	loc := time.FixedZone("AEST", 10*3600)
	f := &Formatter{Location: loc, ActivityURL: "https://lms.example.com/mod/webexactivity/view.php?id=%d", ActionBase: "/admin/recordings/"}
	rec := &models.Recording{
		ID:              uuid.MustParse("6f1c1b7e-4a53-4a38-9f57-0f0b0e9b2a11"),
		Name:            `Week 1 <intro>`,
		DurationSeconds: 5400,
		FileSizeBytes:   1572864,
		FileURL:         "https://media.example.com/r.mp4?a=1&b=2",
		TimeCreated:     time.Date(2026, 1, 2, 22, 5, 0, 0, time.UTC),
	}
	meeting := &models.Meeting{Name: "Physics", ActivityID: 12}
	cell := Cell{Recording: rec, Meeting: meeting}

	human := f.Row(cell, false)
	assert.Equal(t, []string{
		"Week 1 &lt;intro&gt;",
		"03/01/26, 08:05",
		"1 hour 30 mins",
		"1.5 MB",
		`<a href="https://media.example.com/r.mp4?a=1&amp;b=2">Download</a>`,
		"-",
		`<a href="https://lms.example.com/mod/webexactivity/view.php?id=12">Activity</a>`,
		`<a href="/admin/recordings/6f1c1b7e-4a53-4a38-9f57-0f0b0e9b2a11/delete" data-method="post">Delete</a>`,
	}, human)

	export := f.Row(cell, true)
	assert.Equal(t, []string{
		"Week 1 <intro>",
		"03/01/26, 08:05",
		"5400",
		"1572864",
		"https://media.example.com/r.mp4?a=1&b=2",
		"",
		"https://lms.example.com/mod/webexactivity/view.php?id=12",
		"0",
	}, export)
}

func TestFormatterDeletedRow(t *testing.T) {
	f := &Formatter{ActionBase: "/admin/recordings"}
	rec := &models.Recording{ID: uuid.New(), Deleted: true}

	assert.Equal(t, DeletedRowClass, RowClass(rec))
	assert.Contains(t, f.Format(ColDeleted, Cell{Recording: rec}, false), ">Undelete</a>")
	assert.Equal(t, "1", f.Format(ColDeleted, Cell{Recording: rec}, true))
	assert.Equal(t, "-", f.Format(ColActivity, Cell{Recording: rec}, false))
	assert.Equal(t, "-", f.Format(ColActivity, Cell{Recording: rec, Meeting: &models.Meeting{Name: "No module"}}, true))
	assert.Empty(t, RowClass(&models.Recording{}))
}

func TestColumnMetadata(t *testing.T) {
	assert.Len(t, Headers(), len(Columns))
	assert.Equal(t, "timecreated", ColTimeCreated.Key())
	assert.Equal(t, "file_size", ColFileSize.SortKey())
	assert.Empty(t, ColStreamURL.SortKey())
	for _, col := range Columns {
		if key := col.SortKey(); key != "" {
			_, ok := sortColumns[key]
			assert.True(t, ok, key)
		}
	}
}
