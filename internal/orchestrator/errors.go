package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates no active session has the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotAwaitingApproval indicates an approval decision arrived for a
	// session that is not paused at an approval gate.
	ErrNotAwaitingApproval = errors.New("session is not awaiting approval")
)

// Kind classifies orchestrator errors.
type Kind string

const (
	// KindInvalidRequest is a malformed Execute call.
	KindInvalidRequest Kind = "invalid_request"
	// KindSetup is a failure before the phase loop starts.
	KindSetup Kind = "setup"
	// KindConfiguration is an executor that cannot be resolved.
	KindConfiguration Kind = "configuration"
	// KindCriticalPhase is a failure in a phase marked critical.
	KindCriticalPhase Kind = "critical_phase"
	// KindCancelled is a session stopped by Cancel.
	KindCancelled Kind = "cancelled"
	// KindApprovalRejected is a session whose approval gate was rejected.
	KindApprovalRejected Kind = "approval_rejected"
)

// Error is a typed orchestrator error.
type Error struct {
	Kind      Kind
	SessionID string
	Phase     string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.SessionID != "" {
		msg += " [" + e.SessionID + "]"
	}
	if e.Phase != "" {
		msg += fmt.Sprintf(" phase %s", e.Phase)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an orchestrator error, or "" if err is not one.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// IsKind reports whether err is an orchestrator error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
