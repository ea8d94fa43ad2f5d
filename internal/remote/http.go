package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/internal/models"
)

// maxListPages bounds pagination of ListAllRecordings.
const maxListPages = 1000

// HTTPClient is a JSON-over-HTTP Client for the conferencing service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
		logger:  logger,
	}
}

type listResponse struct {
	Recordings    []models.RemoteRecording `json:"recordings"`
	NextPageToken string                   `json:"next_page_token"`
}

// FetchRecording handles GET /meetings/{key}/recordings/{id}.
func (c *HTTPClient) FetchRecording(ctx context.Context, meetingKey, recordingID string) (*models.RemoteRecording, error) {
	u := fmt.Sprintf("%s/meetings/%s/recordings/%s", c.baseURL, url.PathEscape(meetingKey), url.PathEscape(recordingID))
	var rec models.RemoteRecording
	fetchedAt := c.now()
	if err := c.getJSON(ctx, u, &rec); err != nil {
		return nil, err
	}
	if rec.MeetingKey == "" {
		rec.MeetingKey = meetingKey
	}
	if rec.RecordingID == "" {
		rec.RecordingID = recordingID
	}
	rec.FetchedAt = fetchedAt
	return &rec, nil
}

// ListRecordingsSince handles GET /recordings?since=.
func (c *HTTPClient) ListRecordingsSince(ctx context.Context, since time.Time) ([]models.RemoteRecording, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	return c.list(ctx, q)
}

// ListAllRecordings pages through GET /recordings.
func (c *HTTPClient) ListAllRecordings(ctx context.Context) ([]models.RemoteRecording, error) {
	return c.list(ctx, url.Values{})
}

// FetchMeeting handles GET /meetings/{key}.
func (c *HTTPClient) FetchMeeting(ctx context.Context, meetingKey string) (*models.RemoteMeeting, error) {
	u := fmt.Sprintf("%s/meetings/%s", c.baseURL, url.PathEscape(meetingKey))
	var m models.RemoteMeeting
	if err := c.getJSON(ctx, u, &m); err != nil {
		return nil, err
	}
	if m.MeetingKey == "" {
		m.MeetingKey = meetingKey
	}
	return &m, nil
}

func (c *HTTPClient) list(ctx context.Context, q url.Values) ([]models.RemoteRecording, error) {
	var out []models.RemoteRecording
	for page := 0; page < maxListPages; page++ {
		fetchedAt := c.now()
		var resp listResponse
		if err := c.getJSON(ctx, c.baseURL+"/recordings?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		for i := range resp.Recordings {
			resp.Recordings[i].FetchedAt = fetchedAt
		}
		out = append(out, resp.Recordings...)
		if resp.NextPageToken == "" {
			return out, nil
		}
		q.Set("page_token", resp.NextPageToken)
	}
	c.logger.Warn("recording listing truncated", zap.Int("pages", maxListPages))
	return out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
