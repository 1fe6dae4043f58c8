package workflow

import (
	"time"

	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// Phase is one step of a workflow. The definition fields come from the
// template; the run fields are zero in the catalog and filled in by the
// orchestrator on its private copy.
type Phase struct {
	ID               string         `yaml:"id" json:"id"`
	Name             string         `yaml:"name" json:"name"`
	Description      string         `yaml:"description" json:"description,omitempty"`
	Order            int            `yaml:"order" json:"order"`
	Agent            string         `yaml:"agent" json:"agent"`
	RequiresApproval bool           `yaml:"requires_approval" json:"requires_approval"`
	Critical         bool           `yaml:"critical" json:"critical"`
	EstimatedMinutes int            `yaml:"estimated_minutes" json:"estimated_minutes,omitempty"`
	Input            map[string]any `yaml:"input" json:"input,omitempty"`

	Status    execution.PhaseStatus `yaml:"-" json:"status,omitempty"`
	StartedAt *time.Time            `yaml:"-" json:"started_at,omitempty"`
	EndedAt   *time.Time            `yaml:"-" json:"ended_at,omitempty"`
	Duration  time.Duration         `yaml:"-" json:"duration,omitempty"`
	Output    map[string]any        `yaml:"-" json:"output,omitempty"`
	Error     string                `yaml:"-" json:"error,omitempty"`
}

// EstimatedDuration converts the template estimate to a duration.
func (p Phase) EstimatedDuration() time.Duration {
	return time.Duration(p.EstimatedMinutes) * time.Minute
}

// Template is an ordered, reusable phase list for one intent.
type Template struct {
	Intent      string  `yaml:"intent" json:"intent"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Phases      []Phase `yaml:"phases" json:"phases"`
}

// EstimatedDuration sums the phase estimates.
func (t Template) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, p := range t.Phases {
		total += p.EstimatedDuration()
	}
	return total
}

// Phase returns the phase with the given id.
func (t *Template) Phase(id string) (*Phase, bool) {
	for i := range t.Phases {
		if t.Phases[i].ID == id {
			return &t.Phases[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy. Input and Output maps are copied recursively so
// the clone shares no mutable state with the receiver.
func (t Template) Clone() Template {
	out := t
	out.Phases = make([]Phase, len(t.Phases))
	for i, p := range t.Phases {
		p.Input = cloneMap(p.Input)
		p.Output = cloneMap(p.Output)
		if p.StartedAt != nil {
			ts := *p.StartedAt
			p.StartedAt = &ts
		}
		if p.EndedAt != nil {
			ts := *p.EndedAt
			p.EndedAt = &ts
		}
		out.Phases[i] = p
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
