// Package workflow holds the template catalog: the registry mapping an
// intent to an immutable, ordered list of phases.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// FallbackIntent is reported for workflows built for unregistered intents.
const FallbackIntent = "fallback"

var (
	// ErrInvalidTemplate indicates a template failed validation.
	ErrInvalidTemplate = errors.New("invalid workflow template")

	// ErrUnknownAgent indicates a phase names an executor nobody registered.
	ErrUnknownAgent = errors.New("unknown agent")
)

// AgentSet reports which executor names can be resolved.
type AgentSet interface {
	Has(name string) bool
}

// Catalog maps intents to templates. Built-in templates can be shadowed by
// overrides loaded from a directory; replacing overrides swaps whole
// templates and never mutates a registered one.
type Catalog struct {
	mu        sync.RWMutex
	builtin   map[string]Template
	overrides map[string]Template
	agents    AgentSet
}

// NewCatalog creates an empty catalog. When agents is non-nil every
// registered template must only reference executors it knows.
func NewCatalog(agents AgentSet) *Catalog {
	return &Catalog{
		builtin:   make(map[string]Template),
		overrides: make(map[string]Template),
		agents:    agents,
	}
}

// NewDefaultCatalog creates a catalog preloaded with the embedded templates.
func NewDefaultCatalog(agents AgentSet) (*Catalog, error) {
	c := NewCatalog(agents)
	templates, err := DefaultTemplates()
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register validates and stores a built-in template, replacing any with the
// same intent.
func (c *Catalog) Register(t Template) error {
	normalized, err := c.normalize(t)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.builtin[normalized.Intent] = normalized
	c.mu.Unlock()
	return nil
}

// ReplaceOverrides validates every template and then atomically replaces the
// override set. On error the previous overrides stay in place.
func (c *Catalog) ReplaceOverrides(templates []Template) error {
	next := make(map[string]Template, len(templates))
	for _, t := range templates {
		normalized, err := c.normalize(t)
		if err != nil {
			return err
		}
		if _, dup := next[normalized.Intent]; dup {
			return fmt.Errorf("%w: duplicate intent %q", ErrInvalidTemplate, normalized.Intent)
		}
		next[normalized.Intent] = normalized
	}

	c.mu.Lock()
	c.overrides = next
	c.mu.Unlock()
	return nil
}

// Lookup returns a copy of the template registered for intent.
func (c *Catalog) Lookup(intent string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.overrides[intent]; ok {
		return t.Clone(), true
	}
	t, ok := c.builtin[intent]
	if !ok {
		return Template{}, false
	}
	return t.Clone(), true
}

// GetWorkflow returns a private copy of the template for intent, or the
// generic fallback when none is registered. In autonomous mode every phase
// has approval disabled. It never fails.
func (c *Catalog) GetWorkflow(intent string, mode execution.Mode) Template {
	t, ok := c.Lookup(intent)
	if !ok {
		return Fallback(mode)
	}

	if mode == execution.ModeAutonomous {
		for i := range t.Phases {
			t.Phases[i].RequiresApproval = false
		}
	}
	return t
}

// Intents lists registered intents, sorted.
func (c *Catalog) Intents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.builtin)+len(c.overrides))
	for k := range c.builtin {
		seen[k] = struct{}{}
	}
	for k := range c.overrides {
		seen[k] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Templates returns copies of all effective templates sorted by intent.
func (c *Catalog) Templates() []Template {
	intents := c.Intents()
	out := make([]Template, 0, len(intents))
	for _, intent := range intents {
		if t, ok := c.Lookup(intent); ok {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks an instantiated workflow against the agent set.
func (c *Catalog) Validate(t Template) error {
	return validateAgents(t, c.agents)
}

func (c *Catalog) normalize(t Template) (Template, error) {
	if t.Intent == "" {
		return Template{}, fmt.Errorf("%w: intent is required", ErrInvalidTemplate)
	}

	ids := make(map[string]struct{}, len(t.Phases))
	orders := make(map[int]struct{}, len(t.Phases))
	for _, p := range t.Phases {
		switch {
		case p.ID == "":
			return Template{}, fmt.Errorf("%w: %s: phase id is required", ErrInvalidTemplate, t.Intent)
		case p.Agent == "":
			return Template{}, fmt.Errorf("%w: %s/%s: agent is required", ErrInvalidTemplate, t.Intent, p.ID)
		case p.EstimatedMinutes < 0:
			return Template{}, fmt.Errorf("%w: %s/%s: negative estimate", ErrInvalidTemplate, t.Intent, p.ID)
		}
		if _, dup := ids[p.ID]; dup {
			return Template{}, fmt.Errorf("%w: %s: duplicate phase id %q", ErrInvalidTemplate, t.Intent, p.ID)
		}
		if _, dup := orders[p.Order]; dup {
			return Template{}, fmt.Errorf("%w: %s: duplicate order %d", ErrInvalidTemplate, t.Intent, p.Order)
		}
		ids[p.ID] = struct{}{}
		orders[p.Order] = struct{}{}
	}

	if err := validateAgents(t, c.agents); err != nil {
		return Template{}, err
	}

	out := t.Clone()
	for i := range out.Phases {
		out.Phases[i].Status = ""
		if out.Phases[i].Name == "" {
			out.Phases[i].Name = out.Phases[i].ID
		}
	}
	sort.SliceStable(out.Phases, func(i, j int) bool {
		return out.Phases[i].Order < out.Phases[j].Order
	})
	return out, nil
}

func validateAgents(t Template, agents AgentSet) error {
	if agents == nil {
		return nil
	}
	for _, p := range t.Phases {
		if !agents.Has(p.Agent) {
			return fmt.Errorf("%w: %q in phase %s/%s", ErrUnknownAgent, p.Agent, t.Intent, p.ID)
		}
	}
	return nil
}

// Fallback builds the generic research-then-execution workflow used for
// intents without a template. Execution needs approval only in
// conversational mode.
func Fallback(mode execution.Mode) Template {
	return Template{
		Intent:      FallbackIntent,
		Name:        "General Task",
		Description: "Research the request, then carry it out.",
		Phases: []Phase{
			{
				ID:               "research",
				Name:             "Research",
				Description:      "Gather background and constraints for the request.",
				Order:            1,
				Agent:            "research",
				Critical:         true,
				EstimatedMinutes: 5,
				Input:            map[string]any{},
			},
			{
				ID:               "execution",
				Name:             "Execution",
				Description:      "Produce the requested deliverable.",
				Order:            2,
				Agent:            "execution",
				RequiresApproval: mode != execution.ModeAutonomous,
				EstimatedMinutes: 10,
				Input:            map[string]any{},
			},
		},
	}
}
