package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Generation is a completed LLM call.
type Generation struct {
	Text       string
	TokensUsed int
}

// LLM is the text-completion backend agents generate against.
type LLM interface {
	Generate(ctx context.Context, prompt, system string) (Generation, error)
}

// JSONGenerator is implemented by backends with a native JSON mode.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt, system string) (Generation, error)
}

// Option configures a BaseAgent.
type Option func(*BaseAgent)

// WithLLM sets the generation backend.
func WithLLM(llm LLM) Option {
	return func(a *BaseAgent) { a.llm = llm }
}

// WithTools declares the tools the agent may invoke.
func WithTools(tools ...Tool) Option {
	return func(a *BaseAgent) {
		for _, t := range tools {
			a.tools[t.Name()] = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *BaseAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHistorySize sets the action log capacity.
func WithHistorySize(n int) Option {
	return func(a *BaseAgent) { a.log = NewActionLog(n) }
}

// WithInboxSize sets the message inbox capacity.
func WithInboxSize(n int) Option {
	return func(a *BaseAgent) {
		if n > 0 {
			a.inbox = make(chan Message, n)
		}
	}
}

// WithCostPer1K sets the cost charged per thousand tokens.
func WithCostPer1K(cost float64) Option {
	return func(a *BaseAgent) { a.costPer1K = cost }
}

// WithRequestHandler answers incoming request messages.
func WithRequestHandler(h RequestHandler) Option {
	return func(a *BaseAgent) { a.handler = h }
}

const defaultInboxSize = 32

// BaseAgent supplies the shared helpers. Concrete agents embed it and
// implement Plan and Execute.
type BaseAgent struct {
	name      string
	llm       LLM
	tools     map[string]Tool
	log       *ActionLog
	inbox     chan Message
	router    Router
	handler   RequestHandler
	logger    *zap.Logger
	costPer1K float64
	now       func() time.Time
}

// NewBaseAgent creates a base agent.
func NewBaseAgent(name string, opts ...Option) *BaseAgent {
	a := &BaseAgent{
		name:   name,
		tools:  make(map[string]Tool),
		log:    NewActionLog(DefaultHistorySize),
		inbox:  make(chan Message, defaultInboxSize),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("agent", name))
	return a
}

// Name returns the agent name.
func (a *BaseAgent) Name() string { return a.name }

// Logger returns the agent's logger.
func (a *BaseAgent) Logger() *zap.Logger { return a.logger }

// HasLLM reports whether a generation backend is configured.
func (a *BaseAgent) HasLLM() bool { return a.llm != nil }

// SetRouter sets the router used by SendMessage.
func (a *BaseAgent) SetRouter(r Router) { a.router = r }

// Generate runs one completion and records it in the action history.
func (a *BaseAgent) Generate(ctx context.Context, prompt, system string) (Generation, error) {
	start := a.now()
	input := map[string]any{"prompt": prompt}
	if system != "" {
		input["system"] = system
	}

	if a.llm == nil {
		a.record("generate", input, nil, start, 0, ErrNoLLM)
		return Generation{}, ErrNoLLM
	}

	gen, err := a.llm.Generate(ctx, prompt, system)
	if err != nil {
		err = fmt.Errorf("%s: generate: %w", a.name, err)
		a.record("generate", input, nil, start, gen.TokensUsed, err)
		return Generation{}, err
	}

	a.record("generate", input, map[string]any{"text": gen.Text}, start, gen.TokensUsed, nil)
	return gen, nil
}

// GenerateText is Generate returning only the text.
func (a *BaseAgent) GenerateText(ctx context.Context, prompt, system string) (string, error) {
	gen, err := a.Generate(ctx, prompt, system)
	if err != nil {
		return "", err
	}
	return gen.Text, nil
}

// GenerateJSON asks for a JSON response and decodes it into out.
func (a *BaseAgent) GenerateJSON(ctx context.Context, prompt, system string, out any) error {
	start := a.now()
	input := map[string]any{"prompt": prompt}
	if system != "" {
		input["system"] = system
	}

	if a.llm == nil {
		a.record("generate_json", input, nil, start, 0, ErrNoLLM)
		return ErrNoLLM
	}

	var gen Generation
	var err error
	if jg, ok := a.llm.(JSONGenerator); ok {
		gen, err = jg.GenerateJSON(ctx, prompt, system)
	} else {
		gen, err = a.llm.Generate(ctx, prompt+"\n\nRespond with a single JSON object and nothing else.", system)
	}
	if err != nil {
		err = fmt.Errorf("%s: generate json: %w", a.name, err)
		a.record("generate_json", input, nil, start, gen.TokensUsed, err)
		return err
	}

	if err := json.Unmarshal([]byte(ExtractJSON(gen.Text)), out); err != nil {
		err = fmt.Errorf("%s: decoding json response: %w", a.name, err)
		a.record("generate_json", input, map[string]any{"text": gen.Text}, start, gen.TokensUsed, err)
		return err
	}

	a.record("generate_json", input, map[string]any{"text": gen.Text}, start, gen.TokensUsed, nil)
	return nil
}

// UseTool invokes a declared tool.
func (a *BaseAgent) UseTool(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	start := a.now()
	actionType := "tool:" + name

	tool, ok := a.tools[name]
	if !ok {
		err := fmt.Errorf("%s: %w: %s", a.name, ErrUnknownTool, name)
		a.record(actionType, input, nil, start, 0, err)
		return nil, err
	}

	out, err := tool.Invoke(ctx, input)
	if err != nil {
		err = fmt.Errorf("%s: tool %s: %w", a.name, name, err)
		a.record(actionType, input, nil, start, 0, err)
		return nil, err
	}

	a.record(actionType, input, out, start, 0, nil)
	return out, nil
}

// HasTool reports whether a tool is declared.
func (a *BaseAgent) HasTool(name string) bool {
	_, ok := a.tools[name]
	return ok
}

// SendMessage routes a new message to another agent.
func (a *BaseAgent) SendMessage(ctx context.Context, to string, typ MessageType, topic string, payload map[string]any) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      typ,
		From:      a.name,
		To:        to,
		Topic:     topic,
		Payload:   payload,
		Timestamp: a.now(),
	}
	if msg.Type == MessageRequest {
		msg.CorrelationID = msg.ID
	}
	return msg, a.route(ctx, msg)
}

// Deliver accepts a message addressed to this agent. Requests are answered
// immediately when a request handler is configured; everything else is
// queued for ReceiveMessage.
func (a *BaseAgent) Deliver(ctx context.Context, msg Message) error {
	if msg.Type == MessageRequest && a.handler != nil {
		payload, err := a.handler(ctx, msg)
		resp := Message{
			ID:            uuid.NewString(),
			Type:          MessageResponse,
			From:          a.name,
			To:            msg.From,
			Topic:         msg.Topic,
			Payload:       payload,
			CorrelationID: msg.CorrelationID,
			Timestamp:     a.now(),
		}
		if err != nil {
			resp.Payload = map[string]any{"error": err.Error()}
		}
		return a.route(ctx, resp)
	}

	select {
	case a.inbox <- msg:
		return nil
	default:
		a.logger.Warn("dropping message, inbox full",
			zap.String("from", msg.From),
			zap.String("topic", msg.Topic),
		)
		return fmt.Errorf("%s: %w", a.name, ErrInboxFull)
	}
}

// ReceiveMessage blocks until a message arrives or ctx is done.
func (a *BaseAgent) ReceiveMessage(ctx context.Context) (Message, error) {
	select {
	case msg := <-a.inbox:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// TryReceive returns a queued message without blocking.
func (a *BaseAgent) TryReceive() (Message, bool) {
	select {
	case msg := <-a.inbox:
		return msg, true
	default:
		return Message{}, false
	}
}

// Actions returns the action history, oldest first.
func (a *BaseAgent) Actions() []Action {
	return a.log.Snapshot()
}

// Metrics computes metrics over the action history.
func (a *BaseAgent) Metrics() Metrics {
	return a.log.Metrics()
}

func (a *BaseAgent) route(ctx context.Context, msg Message) error {
	if a.router == nil {
		return fmt.Errorf("%s: %w", a.name, ErrNoRouter)
	}
	return a.router.RouteMessage(ctx, msg)
}

func (a *BaseAgent) record(typ string, input, output map[string]any, start time.Time, tokens int, err error) {
	action := Action{
		ID:         uuid.NewString(),
		Agent:      a.name,
		Type:       typ,
		Input:      input,
		Output:     output,
		Timestamp:  start,
		Duration:   a.now().Sub(start),
		TokensUsed: tokens,
		Cost:       float64(tokens) / 1000 * a.costPer1K,
		Success:    err == nil,
	}
	if err != nil {
		action.Error = err.Error()
		a.logger.Debug("agent action failed", zap.String("action", typ), zap.Error(err))
	}
	a.log.Append(action)
}

// ExtractJSON trims markdown code fences and surrounding prose from an LLM
// response, returning the outermost JSON object or array.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	open := strings.IndexAny(s, "{[")
	if open < 0 {
		return s
	}
	closer := byte('}')
	if s[open] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < open {
		return s
	}
	return s[open : end+1]
}

// IsCancellation reports whether err came from a cancelled or expired
// context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
