package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/agents"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// TopicConceptReady is broadcast once the concept step succeeds.
const TopicConceptReady = "exhibition.concept_ready"

// ErrInvalidRequest is returned for requests without a title or theme.
var ErrInvalidRequest = errors.New("exhibition request needs a title or theme")

var (
	newMessageID = uuid.NewString
	now          = time.Now
)

// ExhibitionRequest describes the exhibition to plan.
type ExhibitionRequest struct {
	Title         string   `json:"title"`
	Theme         string   `json:"theme"`
	Audience      string   `json:"audience,omitempty"`
	BudgetCeiling *float64 `json:"budget_ceiling,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// ExhibitionPlan is the combined result of the three steps.
type ExhibitionPlan struct {
	Concept    agents.Concept         `json:"concept"`
	Budget     *agents.BudgetEstimate `json:"budget,omitempty"`
	Enrichment []agents.ArchiveItem   `json:"enrichment"`
}

// CreateExhibitionWorkflow runs concept, then budget when a ceiling is set,
// then archive enrichment. Any step failing fails the whole call. The
// archive step is skipped when no archive agent is registered.
func (c *Coordinator) CreateExhibitionWorkflow(ctx context.Context, req ExhibitionRequest, ec execution.Context) (*ExhibitionPlan, error) {
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Theme) == "" {
		return nil, ErrInvalidRequest
	}

	base := map[string]any{
		"title":    req.Title,
		"theme":    req.Theme,
		"audience": req.Audience,
		"notes":    req.Notes,
	}
	if req.Currency != "" {
		base["currency"] = req.Currency
	}

	out, err := c.runStep(ctx, agents.NameConcept, "Develop the exhibition concept", base, ec)
	if err != nil {
		return nil, fmt.Errorf("exhibition workflow: concept: %w", err)
	}
	var concept agents.Concept
	if err := decodeOutput(out, "concept", &concept); err != nil {
		return nil, fmt.Errorf("exhibition workflow: concept: %w", err)
	}
	plan := &ExhibitionPlan{Concept: concept, Enrichment: []agents.ArchiveItem{}}

	if err := c.BroadcastEvent(ctx, agents.NameConcept, TopicConceptReady, map[string]any{
		"title":    concept.Title,
		"theme":    concept.Theme,
		"sections": concept.Sections,
	}); err != nil {
		c.logger.Warn("concept broadcast incomplete", zap.Error(err))
	}

	if req.BudgetCeiling != nil {
		input := withKeys(base, map[string]any{
			"ceiling":  *req.BudgetCeiling,
			"sections": concept.Sections,
		})
		out, err := c.runStep(ctx, agents.NameBudget, "Estimate exhibition costs against the ceiling", input, ec)
		if err != nil {
			return nil, fmt.Errorf("exhibition workflow: budget: %w", err)
		}
		var est agents.BudgetEstimate
		if err := decodeOutput(out, "budget", &est); err != nil {
			return nil, fmt.Errorf("exhibition workflow: budget: %w", err)
		}
		plan.Budget = &est
		plan.Concept.Budget = &est
	}

	if _, ok := c.Agent(agents.NameArchive); ok {
		query := concept.Theme
		if query == "" {
			query = concept.Title
		}
		out, err := c.runStep(ctx, agents.NameArchive, "Suggest related collection objects", withKeys(base, map[string]any{"query": query}), ec)
		if err != nil {
			return nil, fmt.Errorf("exhibition workflow: archive: %w", err)
		}
		var items []agents.ArchiveItem
		if err := decodeOutput(out, "items", &items); err != nil {
			return nil, fmt.Errorf("exhibition workflow: archive: %w", err)
		}
		if len(items) > 0 {
			plan.Enrichment = items
		}
	}

	c.logger.Info("exhibition plan ready",
		zap.String("title", plan.Concept.Title),
		zap.Bool("budgeted", plan.Budget != nil),
		zap.Int("enrichment", len(plan.Enrichment)),
	)
	return plan, nil
}

func (c *Coordinator) runStep(ctx context.Context, name, goal string, input map[string]any, ec execution.Context) (map[string]any, error) {
	a, ok := c.Agent(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", agent.ErrUnknownAgent, name)
	}
	plan, err := a.Plan(ctx, agent.Task{Goal: goal, Input: input}, ec)
	if err != nil {
		return nil, err
	}
	res, err := a.Execute(ctx, plan, ec)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Output == nil {
		return map[string]any{}, nil
	}
	return res.Output, nil
}

// decodeOutput copies output[key] into out. Values already of the target
// type are assigned directly; anything else goes through JSON.
func decodeOutput(output map[string]any, key string, out any) error {
	v, ok := output[key]
	if !ok || v == nil {
		return nil
	}

	switch dst := out.(type) {
	case *agents.Concept:
		if c, ok := v.(agents.Concept); ok {
			*dst = c
			return nil
		}
	case *agents.BudgetEstimate:
		if b, ok := v.(agents.BudgetEstimate); ok {
			*dst = b
			return nil
		}
	case *[]agents.ArchiveItem:
		if items, ok := v.([]agents.ArchiveItem); ok {
			*dst = items
			return nil
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q output: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %q output: %w", key, err)
	}
	return nil
}

func withKeys(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
