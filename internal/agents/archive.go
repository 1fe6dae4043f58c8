package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// ToolCollectionSearch is the tool name the archive agent searches with.
const ToolCollectionSearch = "collection_search"

const defaultArchiveLimit = 10

// ArchiveAgent suggests related collection objects. Without a
// collection_search tool it returns no items.
type ArchiveAgent struct {
	*agent.BaseAgent
}

// NewArchiveAgent creates the archive agent.
func NewArchiveAgent(deps agent.Deps) (agent.Agent, error) {
	return &ArchiveAgent{BaseAgent: agent.NewBaseAgent(NameArchive, deps.Options()...)}, nil
}

func (a *ArchiveAgent) Plan(_ context.Context, task agent.Task, _ execution.Context) (*agent.Plan, error) {
	return &agent.Plan{
		Goal:  task.Goal,
		Input: task.Input,
		Steps: []agent.Step{
			{ID: "search", Description: "Search collections", Action: "tool:" + ToolCollectionSearch, Parameters: task.Input, Status: agent.StepPending},
		},
	}, nil
}

func (a *ArchiveAgent) Execute(ctx context.Context, plan *agent.Plan, ec execution.Context) (*agent.Result, error) {
	if !a.HasTool(ToolCollectionSearch) {
		return &agent.Result{
			Output:  map[string]any{"items": []ArchiveItem{}},
			Summary: "No collection source configured",
		}, nil
	}

	query := agent.InputString(plan.Input, "query", "")
	if query == "" {
		query = agent.InputString(plan.Input, "theme", ec.Command)
	}
	limit := defaultArchiveLimit
	if n, ok := numberInput(plan.Input, "limit"); ok && n > 0 {
		limit = int(n)
	}

	out, err := a.UseTool(ctx, ToolCollectionSearch, map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(out["items"])
	if err != nil {
		return nil, fmt.Errorf("%s: decoding search results: %w", a.Name(), err)
	}

	artifacts := make([]agent.Artifact, 0, len(items))
	for _, item := range items {
		artifacts = append(artifacts, agent.Artifact{Type: "archive_item", Name: item.Title, Content: item})
	}
	return &agent.Result{
		Output:    map[string]any{"items": items},
		Artifacts: artifacts,
		Summary:   fmt.Sprintf("Found %d related objects", len(items)),
	}, nil
}

// decodeItems accepts []ArchiveItem or any JSON-shaped equivalent.
func decodeItems(v any) ([]ArchiveItem, error) {
	switch items := v.(type) {
	case nil:
		return []ArchiveItem{}, nil
	case []ArchiveItem:
		return items, nil
	default:
		data, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		var out []ArchiveItem
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// NewCollectionSearchTool searches a fixed in-memory set of objects by
// case-insensitive substring match on title and creator.
func NewCollectionSearchTool(items []ArchiveItem) agent.Tool {
	return agent.NewTool(ToolCollectionSearch, "Search collection objects by keyword",
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			query := strings.ToLower(agent.InputString(input, "query", ""))
			limit := defaultArchiveLimit
			if n, ok := numberInput(input, "limit"); ok && n > 0 {
				limit = int(n)
			}

			matches := make([]ArchiveItem, 0)
			for _, item := range items {
				if len(matches) >= limit {
					break
				}
				hay := strings.ToLower(item.Title + " " + item.Creator)
				if query == "" || containsAnyWord(hay, query) {
					matches = append(matches, item)
				}
			}
			return map[string]any{"items": matches}, nil
		})
}

func containsAnyWord(hay, query string) bool {
	for _, w := range strings.Fields(query) {
		if len(w) > 2 && strings.Contains(hay, w) {
			return true
		}
	}
	return false
}
