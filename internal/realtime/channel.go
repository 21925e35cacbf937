package realtime

import (
	"context"
	"time"
)

type EventType string

const (
	EventRecordingCreated EventType = "recording.created"
	EventRecordingUpdated EventType = "recording.updated"
	EventRecordingFailed  EventType = "recording.failed"
)

// RecordingChannel names the channel carrying live updates for one
// recording. Publishers and subscribers must agree on it.
func RecordingChannel(recordingID string) string {
	return "recording:" + recordingID
}

// Event is a single live update delivered to channel subscribers.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	RecordingID string    `json:"recording_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Channel is a live subscription handle. Events arrive on the Events
// stream until Close is called or the underlying transport drops.
type Channel interface {
	Name() string
	Events() <-chan Event
	Close() error
}

// ChannelConfig is passed through to the channel manager untouched.
type ChannelConfig struct {
	BufferSize int
}

type ManagerStatus struct {
	Connected    bool `json:"connected"`
	OpenChannels int  `json:"open_channels"`
}

// Manager is the external collaborator that owns channel transport.
// Implementations are expected to be safe for concurrent use.
type Manager interface {
	CreateChannel(ctx context.Context, name string, cfg ChannelConfig) (Channel, error)
	RemoveChannel(name string) error
	Cleanup() error
	Status() ManagerStatus
}
