// Package coordinator runs the fixed concept, budget and archive sequence
// for exhibitions and relays messages between the agents it knows about.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/agent"
)

var (
	// ErrUnknownRecipient is returned when a message names an agent the
	// coordinator does not hold.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrNotReceiver is returned when the recipient cannot accept messages.
	ErrNotReceiver = errors.New("agent does not accept messages")
)

// Resolver constructs agents by name.
type Resolver interface {
	Resolve(name string, deps agent.Deps) (agent.Agent, error)
	Has(name string) bool
}

type routable interface {
	SetRouter(r agent.Router)
}

// Coordinator owns a set of agent instances and routes messages among them.
type Coordinator struct {
	mu     sync.RWMutex
	agents map[string]agent.Agent
	logger *zap.Logger
}

// New creates an empty coordinator.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		agents: make(map[string]agent.Agent),
		logger: logger.Named("coordinator"),
	}
}

// NewFromRegistry resolves each named agent and registers it. Names missing
// from the registry are skipped so optional agents may be left out.
func NewFromRegistry(r Resolver, deps agent.Deps, logger *zap.Logger, names ...string) (*Coordinator, error) {
	c := New(logger)
	for _, name := range names {
		if !r.Has(name) {
			c.logger.Debug("agent not registered, skipping", zap.String("agent", name))
			continue
		}
		a, err := r.Resolve(name, deps)
		if err != nil {
			return nil, err
		}
		if err := c.Register(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds an agent instance. Agents that embed agent.BaseAgent get
// the coordinator as their router.
func (c *Coordinator) Register(a agent.Agent) error {
	if a == nil || a.Name() == "" {
		return errors.New("coordinator: agent with a name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.agents[a.Name()]; exists {
		return fmt.Errorf("coordinator: agent %q already registered", a.Name())
	}
	c.agents[a.Name()] = a
	if ra, ok := a.(routable); ok {
		ra.SetRouter(c)
	}
	return nil
}

// Agent returns a registered agent.
func (c *Coordinator) Agent(name string) (agent.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[name]
	return a, ok
}

// Names lists registered agents, sorted.
func (c *Coordinator) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouteMessage delivers msg to the agent named in msg.To.
func (c *Coordinator) RouteMessage(ctx context.Context, msg agent.Message) error {
	a, ok := c.Agent(msg.To)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRecipient, msg.To)
	}
	rcv, ok := a.(agent.Receiver)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotReceiver, msg.To)
	}

	c.logger.Debug("routing message",
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("type", string(msg.Type)),
		zap.String("topic", msg.Topic),
	)
	return rcv.Deliver(ctx, msg)
}

// BroadcastEvent sends an event message to every registered receiver except
// the sender. Delivery continues past failures; all of them are returned
// joined.
func (c *Coordinator) BroadcastEvent(ctx context.Context, from, topic string, payload map[string]any) error {
	var errs []error
	for _, name := range c.Names() {
		if name == from {
			continue
		}
		a, _ := c.Agent(name)
		rcv, ok := a.(agent.Receiver)
		if !ok {
			continue
		}
		msg := agent.Message{
			ID:        newMessageID(),
			Type:      agent.MessageEvent,
			From:      from,
			To:        name,
			Topic:     topic,
			Payload:   payload,
			Timestamp: now(),
		}
		if err := rcv.Deliver(ctx, msg); err != nil {
			c.logger.Warn("broadcast delivery failed",
				zap.String("to", name),
				zap.String("topic", topic),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
