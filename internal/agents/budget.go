package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

const budgetSystem = `You are an exhibition producer. Estimate costs as JSON with the keys
"currency" and "items" (a list of {"category", "amount"}). Amounts are numbers.`

// TopicBudgetEstimate is the request topic the budget agent answers.
const TopicBudgetEstimate = "budget.estimate"

// defaultBudgetItems are used when the model returns no line items.
var defaultBudgetItems = []LineItem{
	{Category: "loans", Amount: 4000},
	{Category: "installation", Amount: 3000},
	{Category: "staffing", Amount: 2500},
	{Category: "marketing", Amount: 500},
}

// BudgetAgent estimates costs and checks them against an optional ceiling.
type BudgetAgent struct {
	*agent.BaseAgent
}

// NewBudgetAgent creates the budget agent. It answers budget.estimate
// requests from other agents.
func NewBudgetAgent(deps agent.Deps) (agent.Agent, error) {
	a := &BudgetAgent{}
	opts := append(deps.Options(), agent.WithRequestHandler(a.handleRequest))
	a.BaseAgent = agent.NewBaseAgent(NameBudget, opts...)
	return a, nil
}

func (a *BudgetAgent) Plan(_ context.Context, task agent.Task, _ execution.Context) (*agent.Plan, error) {
	return &agent.Plan{
		Goal:  task.Goal,
		Input: task.Input,
		Steps: []agent.Step{
			{ID: "estimate", Description: "Estimate line items", Action: "generate_json", Status: agent.StepPending},
			{ID: "ceiling", Description: "Check against the ceiling", Action: "compare", DependsOn: []string{"estimate"}, Status: agent.StepPending},
		},
	}, nil
}

func (a *BudgetAgent) Execute(ctx context.Context, plan *agent.Plan, ec execution.Context) (*agent.Result, error) {
	estimate, err := a.estimate(ctx, plan, ec)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Estimated %.2f %s", estimate.Total, estimate.Currency)
	if estimate.Ceiling != nil && !estimate.WithinCeiling {
		summary += fmt.Sprintf(" (exceeds ceiling of %.2f)", *estimate.Ceiling)
	}

	return &agent.Result{
		Output: map[string]any{"budget": estimate},
		Artifacts: []agent.Artifact{{
			Type:    "budget",
			Name:    "Budget estimate",
			Content: estimate,
		}},
		Summary: summary,
	}, nil
}

func (a *BudgetAgent) estimate(ctx context.Context, plan *agent.Plan, ec execution.Context) (BudgetEstimate, error) {
	var est BudgetEstimate
	if err := a.GenerateJSON(ctx, buildPrompt(plan, ec), budgetSystem, &est); err != nil {
		return BudgetEstimate{}, err
	}

	if len(est.Items) == 0 {
		est.Items = append([]LineItem(nil), defaultBudgetItems...)
	}
	if est.Currency == "" {
		est.Currency = agent.InputString(plan.Input, "currency", "EUR")
	}

	est.Total = 0
	for _, item := range est.Items {
		est.Total += item.Amount
	}
	est.Total = math.Round(est.Total*100) / 100

	est.Ceiling = nil
	est.WithinCeiling = true
	if ceiling, ok := numberInput(plan.Input, "ceiling"); ok {
		est.Ceiling = &ceiling
		est.WithinCeiling = est.Total <= ceiling
	}
	return est, nil
}

func (a *BudgetAgent) handleRequest(ctx context.Context, msg agent.Message) (map[string]any, error) {
	if msg.Topic != TopicBudgetEstimate {
		return nil, fmt.Errorf("unsupported topic %q", msg.Topic)
	}
	est, err := a.estimate(ctx, &agent.Plan{Goal: "Estimate exhibition costs", Input: msg.Payload}, execution.Context{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"budget": est}, nil
}

func numberInput(input map[string]any, key string) (float64, bool) {
	switch v := input[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case *float64:
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}
