package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeetingIsOpen(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name    string
		meeting Meeting
		want    bool
	}{
		{"in progress before start", Meeting{Status: MeetingStatusInProgress, StartTime: later}, true},
		{"pending inside window", Meeting{Status: MeetingStatusPending, StartTime: earlier, EndTime: &later}, true},
		{"pending without end", Meeting{Status: MeetingStatusPending, StartTime: earlier}, true},
		{"pending not started", Meeting{Status: MeetingStatusPending, StartTime: later}, false},
		{"pending past end", Meeting{Status: MeetingStatusPending, StartTime: now.Add(-time.Hour), EndTime: &earlier}, false},
		{"ended without end time", Meeting{Status: MeetingStatusEnded, StartTime: earlier}, false},
		{"ended inside window", Meeting{Status: MeetingStatusEnded, StartTime: earlier, EndTime: &later}, false},
		{"no start time", Meeting{Status: MeetingStatusPending}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.meeting.IsOpen(now))
		})
	}
}
