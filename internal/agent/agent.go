// Package agent defines the contract every phase executor implements and
// the shared capabilities concrete agents build on: LLM generation helpers,
// tool invocation, inter-agent messaging and an action history with
// derived metrics.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

var (
	// ErrUnknownAgent indicates a name with no registered factory.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownTool indicates a tool name the agent does not declare.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNoLLM indicates a generation helper was called without a backend.
	ErrNoLLM = errors.New("no LLM backend configured")

	// ErrNoRouter indicates SendMessage was called before a router was set.
	ErrNoRouter = errors.New("no message router configured")

	// ErrInboxFull indicates a message could not be queued.
	ErrInboxFull = errors.New("agent inbox full")
)

// Agent is a pluggable unit of work. The orchestrator only calls Execute;
// Plan exists for explainability and for callers that want the steps.
type Agent interface {
	Name() string
	Plan(ctx context.Context, task Task, ec execution.Context) (*Plan, error)
	Execute(ctx context.Context, plan *Plan, ec execution.Context) (*Result, error)
}

// Task is the goal and input an agent is asked to plan for.
type Task struct {
	Goal  string         `json:"goal"`
	Input map[string]any `json:"input,omitempty"`
}

// StepStatus tracks a declared plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one declared unit of a plan. Steps are not scheduled separately.
type Step struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Status      StepStatus     `json:"status"`
}

// Plan is a goal plus its ordered steps.
type Plan struct {
	Goal  string         `json:"goal"`
	Input map[string]any `json:"input,omitempty"`
	Steps []Step         `json:"steps"`
}

// Artifact is a deliverable produced by an agent.
type Artifact struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content any    `json:"content"`
}

// Result is what Execute returns on success.
type Result struct {
	Output    map[string]any `json:"output"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Summary   string         `json:"summary,omitempty"`
}

// PlanForPhase builds a single-step plan straight from a phase definition.
func PlanForPhase(phase workflow.Phase, input map[string]any) *Plan {
	goal := phase.Description
	if goal == "" {
		goal = phase.Name
	}
	return &Plan{
		Goal:  goal,
		Input: input,
		Steps: []Step{{
			ID:          phase.ID,
			Description: goal,
			Action:      phase.Agent,
			Parameters:  input,
			Status:      StepPending,
		}},
	}
}

// SimplePlan is the Plan implementation most agents share: one step whose
// action is the agent's name.
func SimplePlan(name string, task Task) *Plan {
	return &Plan{
		Goal:  task.Goal,
		Input: task.Input,
		Steps: []Step{{
			ID:          fmt.Sprintf("%s-1", name),
			Description: task.Goal,
			Action:      name,
			Parameters:  task.Input,
			Status:      StepPending,
		}},
	}
}

// InputString reads a string value from a plan input, or def.
func InputString(input map[string]any, key, def string) string {
	if v, ok := input[key].(string); ok && v != "" {
		return v
	}
	return def
}
