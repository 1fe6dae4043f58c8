package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// promptAgent generates free text for a phase.
type promptAgent struct {
	*agent.BaseAgent
	system       string
	artifactType string
}

func newPromptAgent(name, system, artifactType string, deps agent.Deps) *promptAgent {
	return &promptAgent{
		BaseAgent:    agent.NewBaseAgent(name, deps.Options()...),
		system:       system,
		artifactType: artifactType,
	}
}

func (a *promptAgent) Plan(_ context.Context, task agent.Task, _ execution.Context) (*agent.Plan, error) {
	return agent.SimplePlan(a.Name(), task), nil
}

func (a *promptAgent) Execute(ctx context.Context, plan *agent.Plan, ec execution.Context) (*agent.Result, error) {
	text, err := a.GenerateText(ctx, buildPrompt(plan, ec), a.system)
	if err != nil {
		return nil, err
	}

	return &agent.Result{
		Output: map[string]any{
			"content": text,
		},
		Artifacts: []agent.Artifact{{
			Type:    a.artifactType,
			Name:    plan.Goal,
			Content: text,
		}},
		Summary: summarize(text),
	}, nil
}

// buildPrompt renders the goal, the user's command, the phase input and any
// relevant history.
func buildPrompt(plan *agent.Plan, ec execution.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", plan.Goal)
	if ec.Command != "" {
		fmt.Fprintf(&b, "Request: %s\n", ec.Command)
	}

	if len(plan.Input) > 0 {
		b.WriteString("\nInput:\n")
		keys := make([]string, 0, len(plan.Input))
		for k := range plan.Input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, plan.Input[k])
		}
	}

	if h, ok := ec.HistoryFor(ec.Intent); ok {
		fmt.Fprintf(&b, "\nThe user has run %d similar requests (%.0f%% completed).\n",
			h.Frequency, h.SuccessRate*100)
	}

	var corrections []string
	for _, l := range ec.Learning {
		if l.TaskType == ec.Intent && l.Feedback != "" && l.Feedback != execution.FeedbackApproved {
			corrections = append(corrections, fmt.Sprintf("- %s was %s", l.PhaseID, l.Feedback))
		}
	}
	if len(corrections) > 0 {
		b.WriteString("\nPreviously corrected decisions:\n")
		b.WriteString(strings.Join(corrections, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 160
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
