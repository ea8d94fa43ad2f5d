package models

import (
	"time"

	"github.com/google/uuid"
)

// Meeting status values.
const (
	MeetingStatusPending    = "pending"
	MeetingStatusInProgress = "in_progress"
	MeetingStatusEnded      = "ended"
)

// Meeting is a conferencing session owned by an LMS activity. It owns zero or more recordings.
type Meeting struct {
	ID              uuid.UUID  `json:"id"`
	MeetingKey      string     `json:"meeting_key"`
	Name            string     `json:"name"`
	ActivityID      int64      `json:"activity_id"`
	CreatorWebexID  string     `json:"creator_webex_id,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	TimeModified    time.Time  `json:"time_modified"`
}

// IsOpen reports whether the meeting is in progress at now.
func (m *Meeting) IsOpen(now time.Time) bool {
	if m.Status == MeetingStatusInProgress {
		return true
	}
	if m.Status == MeetingStatusEnded || m.StartTime.IsZero() || m.StartTime.After(now) {
		return false
	}
	return m.EndTime == nil || m.EndTime.After(now)
}

// RemoteMeeting is the conferencing service's view of a meeting's state.
type RemoteMeeting struct {
	MeetingKey string     `json:"meeting_key"`
	Status     string     `json:"status"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}
