package http

import (
	"time"

	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/telemetry"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	UserID  string `json:"user_id"`
	Command string `json:"command"`
	Mode    string `json:"mode,omitempty"`
}

// ApprovalRequest is the body of POST /api/v1/sessions/:id/approval.
type ApprovalRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"` // approved, rejected or modified
	Comment  string `json:"comment,omitempty"`
}

// SessionResponse describes a session. Workflow and the phase lists are
// only present while the session is active.
type SessionResponse struct {
	Active          bool               `json:"active"`
	Session         execution.Session  `json:"session"`
	Workflow        *workflow.Template `json:"workflow,omitempty"`
	CompletedPhases []string           `json:"completed_phases,omitempty"`
	FailedPhases    []string           `json:"failed_phases,omitempty"`
	UpdatedAt       *time.Time         `json:"updated_at,omitempty"`
}

// EventsResponse is the body of GET /api/v1/sessions/:id/events.
type EventsResponse struct {
	SessionID string         `json:"session_id"`
	Events    []events.Event `json:"events"`
}

// TemplateSummary describes one registered workflow template.
type TemplateSummary struct {
	Intent           string   `json:"intent"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Phases           []string `json:"phases"`
	ApprovalPhases   []string `json:"approval_phases,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes"`
}

// AutonomyResponse is the body of GET /api/v1/users/:id/autonomy.
type AutonomyResponse struct {
	UserID        string `json:"user_id"`
	AutonomyLevel int    `json:"autonomy_level"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status         string                  `json:"status"`
	ActiveSessions int                     `json:"active_sessions"`
	Store          string                  `json:"store"`
	Telemetry      *telemetry.HealthStatus `json:"telemetry,omitempty"`
}
