// Package execution holds the domain types shared by the orchestrator, the
// agents and the persistence layer: sessions, execution context and the
// history and learning records that bias agent behavior.
package execution

import (
	"errors"
	"fmt"
	"time"
)

// Mode controls whether a session may pause for human approval.
type Mode string

const (
	// ModeConversational pauses at phases that require approval.
	ModeConversational Mode = "conversational"

	// ModeAutonomous never pauses.
	ModeAutonomous Mode = "autonomous"
)

// ErrInvalidMode is returned by ParseMode for unknown modes.
var ErrInvalidMode = errors.New("mode must be 'conversational' or 'autonomous'")

// ParseMode converts a string into a Mode. An empty string defaults to
// conversational.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeConversational:
		return ModeConversational, nil
	case ModeAutonomous:
		return ModeAutonomous, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// SessionStatus is the lifecycle state of an execution session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// PhaseStatus is the run state of a single phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// Feedback labels recorded against learning data.
const (
	FeedbackApproved = "approved"
	FeedbackRejected = "rejected"
	FeedbackModified = "modified"
)

// Session is the persisted record of one orchestrator invocation.
type Session struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Command         string        `json:"command"`
	Intent          string        `json:"intent"`
	Mode            Mode          `json:"mode"`
	Status          SessionStatus `json:"status"`
	CurrentPhase    int           `json:"current_phase"`
	AwaitingPhase   string        `json:"awaiting_phase,omitempty"`
	CompletedPhases int           `json:"completed_phases"`
	FailedPhases    int           `json:"failed_phases"`
	Progress        int           `json:"progress"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// UserHistory aggregates a user's past sessions for one task type.
type UserHistory struct {
	TaskType        string        `json:"task_type"`
	Frequency       int           `json:"frequency"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

// LearningEntry captures what the system decided for a phase and how the
// user reacted to it.
type LearningEntry struct {
	ID          int64          `json:"id,omitempty"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	PhaseID     string         `json:"phase_id"`
	TaskType    string         `json:"task_type"`
	Input       map[string]any `json:"input,omitempty"`
	Decision    map[string]any `json:"decision,omitempty"`
	Feedback    string         `json:"feedback,omitempty"`
	SuccessRate *float64       `json:"success_rate,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Context is the read-mostly bundle threaded through every agent call.
// Agents must treat the slices as read-only; they are shared across phases.
type Context struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Command   string          `json:"command"`
	Intent    string          `json:"intent"`
	Mode      Mode            `json:"mode"`
	History   []UserHistory   `json:"history"`
	Learning  []LearningEntry `json:"learning"`
}

// HistoryFor returns the history aggregate for a task type, if any.
func (c Context) HistoryFor(taskType string) (UserHistory, bool) {
	for _, h := range c.History {
		if h.TaskType == taskType {
			return h, true
		}
	}
	return UserHistory{}, false
}
