package agent

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Deps are the collaborators handed to every agent factory.
type Deps struct {
	LLM         LLM
	Logger      *zap.Logger
	Tools       []Tool
	CostPer1K   float64
	HistorySize int
}

// Options converts deps into BaseAgent options.
func (d Deps) Options() []Option {
	opts := []Option{
		WithLLM(d.LLM),
		WithLogger(d.Logger),
		WithTools(d.Tools...),
		WithCostPer1K(d.CostPer1K),
	}
	if d.HistorySize > 0 {
		opts = append(opts, WithHistorySize(d.HistorySize))
	}
	return opts
}

// Factory constructs an agent.
type Factory func(deps Deps) (Agent, error)

// Registry maps executor names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Empty and duplicate names are rejected.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if f == nil {
		return fmt.Errorf("agent %q: factory is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Resolve constructs the named agent.
func (r *Registry) Resolve(name string, deps Deps) (Agent, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}

	a, err := f(deps)
	if err != nil {
		return nil, fmt.Errorf("constructing agent %q: %w", name, err)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
