package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording is one conferencing-session recording known locally.
// (MeetingKey, RecordingID) identifies it on the remote side.
type Recording struct {
	ID              uuid.UUID `json:"id"`
	MeetingKey      string    `json:"meeting_key,omitempty"`
	RecordingID     string    `json:"recording_id"`
	HostID          string    `json:"host_id,omitempty"`
	Name            string    `json:"name"`
	DurationSeconds int       `json:"duration_seconds"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	FileURL         string    `json:"file_url,omitempty"`
	StreamURL       string    `json:"stream_url,omitempty"`
	TimeCreated     time.Time `json:"time_created"`
	TimeModified    time.Time `json:"time_modified"`
	Deleted         bool      `json:"deleted"`
	// DeletedByAdmin marks a delete an admin made; only an admin undelete clears it.
	DeletedByAdmin  bool      `json:"deleted_by_admin"`
	LastStatusCheck time.Time `json:"last_status_check"`
}

// RemoteKey returns the remote identity of the recording.
func (r *Recording) RemoteKey() RemoteKey {
	return RemoteKey{MeetingKey: r.MeetingKey, RecordingID: r.RecordingID}
}

// SameContent reports whether the mutable attributes of r equal those of s.
func (r *Recording) SameContent(s *RemoteRecording) bool {
	return (r.HostID != "" || s.HostID == "") &&
		r.Name == s.Name &&
		r.DurationSeconds == s.DurationSeconds &&
		r.FileSizeBytes == s.FileSizeBytes &&
		r.FileURL == s.FileURL &&
		r.StreamURL == s.StreamURL
}

// ApplySnapshot replaces every mutable attribute with the snapshot's values.
// Immutable identifiers are only filled in when still empty.
func (r *Recording) ApplySnapshot(s *RemoteRecording) {
	if r.MeetingKey == "" {
		r.MeetingKey = s.MeetingKey
	}
	if r.RecordingID == "" {
		r.RecordingID = s.RecordingID
	}
	if r.TimeCreated.IsZero() {
		r.TimeCreated = s.TimeCreated
	}
	if r.HostID == "" {
		r.HostID = s.HostID
	}
	r.Name = s.Name
	r.DurationSeconds = s.DurationSeconds
	r.FileSizeBytes = s.FileSizeBytes
	r.FileURL = s.FileURL
	r.StreamURL = s.StreamURL
}

// RemoteKey is the (meeting key, recording id) pair assigned by the conferencing service.
type RemoteKey struct {
	MeetingKey  string
	RecordingID string
}

func (k RemoteKey) String() string {
	return k.MeetingKey + "/" + k.RecordingID
}

// RemoteRecording is a snapshot of a recording as reported by the conferencing service.
type RemoteRecording struct {
	MeetingKey      string    `json:"meeting_key"`
	RecordingID     string    `json:"recording_id"`
	HostID          string    `json:"host_id"`
	Name            string    `json:"name"`
	DurationSeconds int       `json:"duration_seconds"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	FileURL         string    `json:"file_url"`
	StreamURL       string    `json:"stream_url"`
	TimeCreated     time.Time `json:"time_created"`
	// FetchedAt is when the answer was obtained; set by the client, not the service.
	FetchedAt time.Time `json:"-"`
}

// RemoteKey returns the remote identity of the snapshot.
func (s *RemoteRecording) RemoteKey() RemoteKey {
	return RemoteKey{MeetingKey: s.MeetingKey, RecordingID: s.RecordingID}
}
