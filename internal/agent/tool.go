package agent

import "context"

// Tool is a named capability an agent may invoke.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	ToolName        string
	ToolDescription string
	Fn              func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewTool creates a function-backed tool.
func NewTool(name, description string, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) *ToolFunc {
	return &ToolFunc{ToolName: name, ToolDescription: description, Fn: fn}
}

func (t *ToolFunc) Name() string        { return t.ToolName }
func (t *ToolFunc) Description() string { return t.ToolDescription }

func (t *ToolFunc) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	return t.Fn(ctx, input)
}
