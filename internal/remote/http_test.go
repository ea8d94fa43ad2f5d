package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recording-sync/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL+"/", time.Second, nil)
	c.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestFetchRecording(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meetings/MK1/recordings/R1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"name":             "Lecture 5",
			"duration_seconds": 1800,
			"file_size_bytes":  1024,
		})
	})

	rec, err := c.FetchRecording(context.Background(), "MK1", "R1")
	require.NoError(t, err)
	assert.Equal(t, "MK1", rec.MeetingKey)
	assert.Equal(t, "R1", rec.RecordingID)
	assert.Equal(t, "Lecture 5", rec.Name)
	assert.Equal(t, 1800, rec.DurationSeconds)
	assert.Equal(t, c.now(), rec.FetchedAt)
}

func TestFetchRecordingStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusTooManyRequests, ErrUnavailable},
		{http.StatusBadGateway, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.FetchRecording(context.Background(), "MK1", "R1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", 200*time.Millisecond, nil)
	_, err := c.FetchRecording(context.Background(), "MK1", "R1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, IsRetryable(err))
}

func TestListAllRecordingsFollowsPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := listResponse{}
		switch r.URL.Query().Get("page_token") {
		case "":
			resp.Recordings = []models.RemoteRecording{{MeetingKey: "MK1", RecordingID: "R1"}}
			resp.NextPageToken = "p2"
		case "p2":
			resp.Recordings = []models.RemoteRecording{{MeetingKey: "MK2", RecordingID: "R2"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	list, err := c.ListAllRecordings(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "R2", list[1].RecordingID)
	assert.False(t, list[1].FetchedAt.IsZero())
}

func TestListRecordingsSinceSendsTimestamp(t *testing.T) {
	since := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-10-17T12:00:00Z", r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode(listResponse{})
	})
	list, err := c.ListRecordingsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFetchMeeting(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meetings/MK1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ended"}`))
	})
	m, err := c.FetchMeeting(context.Background(), "MK1")
	require.NoError(t, err)
	assert.Equal(t, "MK1", m.MeetingKey)
	assert.Equal(t, models.MeetingStatusEnded, m.Status)
}
