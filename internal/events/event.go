// Package events provides the in-process publish/subscribe layer that
// streams execution progress to listeners, plus a NATS bridge for
// out-of-process sinks.
package events

import (
	"time"
)

// EventType tags an execution event.
type EventType string

const (
	EventSessionStarted   EventType = "session-started"
	EventPhaseStarted     EventType = "phase-started"
	EventPhaseCompleted   EventType = "phase-completed"
	EventPhaseFailed      EventType = "phase-failed"
	EventApprovalRequired EventType = "approval-required"
	EventSessionCompleted EventType = "session-completed"
	EventSessionFailed    EventType = "session-failed"
	EventError            EventType = "error"
)

// Terminal reports whether the event ends a session.
func (t EventType) Terminal() bool {
	return t == EventSessionCompleted || t == EventSessionFailed
}

// Event is an immutable progress notification. Emitters must not modify an
// event (or its Data map) after handing it to the bus.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	PhaseID   string         `json:"phase_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}
