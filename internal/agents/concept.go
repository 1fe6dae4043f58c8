package agents

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

const conceptSystem = `You are an exhibition curator. Propose a concept as JSON with the keys
"title", "theme", "narrative", "audience" and "sections" (a list of section titles).`

// ConceptAgent drafts an exhibition concept.
type ConceptAgent struct {
	*agent.BaseAgent
}

// NewConceptAgent creates the concept agent.
func NewConceptAgent(deps agent.Deps) (agent.Agent, error) {
	return &ConceptAgent{BaseAgent: agent.NewBaseAgent(NameConcept, deps.Options()...)}, nil
}

func (a *ConceptAgent) Plan(_ context.Context, task agent.Task, _ execution.Context) (*agent.Plan, error) {
	return &agent.Plan{
		Goal:  task.Goal,
		Input: task.Input,
		Steps: []agent.Step{
			{ID: "theme", Description: "Identify the central theme", Action: "generate", Status: agent.StepPending},
			{ID: "outline", Description: "Outline the sections", Action: "generate_json", DependsOn: []string{"theme"}, Status: agent.StepPending},
		},
	}, nil
}

func (a *ConceptAgent) Execute(ctx context.Context, plan *agent.Plan, ec execution.Context) (*agent.Result, error) {
	var concept Concept
	if err := a.GenerateJSON(ctx, buildPrompt(plan, ec), conceptSystem, &concept); err != nil {
		return nil, err
	}
	fillConceptDefaults(&concept, plan.Input, ec)

	return &agent.Result{
		Output: map[string]any{"concept": concept},
		Artifacts: []agent.Artifact{{
			Type:    "concept",
			Name:    concept.Title,
			Content: concept,
		}},
		Summary: fmt.Sprintf("%s: %d sections", concept.Title, len(concept.Sections)),
	}, nil
}

// fillConceptDefaults makes a partial model answer usable.
func fillConceptDefaults(c *Concept, input map[string]any, ec execution.Context) {
	if c.Theme == "" {
		c.Theme = agent.InputString(input, "theme", ec.Command)
	}
	if c.Title == "" {
		c.Title = agent.InputString(input, "title", c.Theme)
	}
	if c.Audience == "" {
		c.Audience = agent.InputString(input, "audience", "general public")
	}
	if len(c.Sections) == 0 {
		c.Sections = []string{"Introduction", "Main Gallery", "Reflection"}
	}
}
