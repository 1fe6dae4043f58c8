package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/logging"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

const tracerName = "github.com/fyrsmithlabs/curatord/internal/orchestrator"

// Store persists sessions and events. Failures are logged, never fatal.
type Store interface {
	CreateSession(ctx context.Context, s *execution.Session) error
	UpdateSession(ctx context.Context, s *execution.Session) error
	InsertEvent(ctx context.Context, e events.Event) error
}

// ContextLoader supplies history and records learning signals.
type ContextLoader interface {
	LoadContext(ctx context.Context, userID, intent string) execution.Context
	SaveLearningData(ctx context.Context, entry execution.LearningEntry) error
	RecordFeedback(ctx context.Context, sessionID, phaseID, feedback string) error
}

// Catalog instantiates workflows for an intent.
type Catalog interface {
	GetWorkflow(intent string, mode execution.Mode) workflow.Template
	Validate(t workflow.Template) error
}

// Resolver constructs executors by name.
type Resolver interface {
	Resolve(name string, deps agent.Deps) (agent.Agent, error)
	Has(name string) bool
}

// Config holds the orchestrator's collaborators. Store and Loader are
// optional; without them sessions are not persisted and every context is
// empty.
type Config struct {
	Catalog   Catalog
	Agents    Resolver
	AgentDeps agent.Deps
	Bus       *events.Bus
	Store     Store
	Loader    ContextLoader
	Logger    *logging.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithIntentClassifier replaces the keyword classifier.
func WithIntentClassifier(c IntentClassifier) Option {
	return func(o *Orchestrator) { o.classify = c }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator sets the session id generator.
func WithIDGenerator(gen func(now time.Time) string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithTracer sets the tracer used for session and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator turns commands into sessions and drives their phase loops.
// Each session runs on its own goroutine; phases within a session run
// strictly in order.
type Orchestrator struct {
	catalog   Catalog
	agents    Resolver
	agentDeps agent.Deps
	bus       *events.Bus
	store     Store
	loader    ContextLoader
	logger    *logging.Logger
	tracer    trace.Tracer
	classify  IntentClassifier
	now       func() time.Time
	newID     func(time.Time) string

	mu     sync.RWMutex
	active map[string]*run

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("orchestrator: catalog is required")
	}
	if cfg.Agents == nil {
		return nil, errors.New("orchestrator: agent resolver is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("orchestrator: event bus is required")
	}

	o := &Orchestrator{
		catalog:   cfg.Catalog,
		agents:    cfg.Agents,
		agentDeps: cfg.AgentDeps,
		bus:       cfg.Bus,
		store:     cfg.Store,
		loader:    cfg.Loader,
		logger:    cfg.Logger,
		tracer:    otel.Tracer(tracerName),
		classify:  ClassifyIntent,
		now:       time.Now,
		newID:     NewSessionID,
		active:    make(map[string]*run),
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o, nil
}

// NewSessionID returns "session_<unix-millis>_<9 hex chars>".
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}

// Request is an Execute call.
type Request struct {
	UserID  string
	Command string
	Mode    execution.Mode
}

// Execute starts a session for req and returns as soon as the phase loop
// has been spawned. Failures after that point are reported only through
// events and persisted status.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Snapshot, error) {
	if err := validateRequest(&req); err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Err: err}
	}

	now := o.now()
	session := execution.Session{
		ID:        o.newID(now),
		UserID:    req.UserID,
		Command:   req.Command,
		Mode:      req.Mode,
		Status:    execution.SessionRunning,
		StartedAt: now,
	}
	ctx = logging.WithSessionID(ctx, session.ID)
	o.persistCreate(ctx, &session)

	session.Intent = o.classify(req.Command)

	ec := execution.Context{UserID: req.UserID, Intent: session.Intent}
	if o.loader != nil {
		ec = o.loader.LoadContext(ctx, req.UserID, session.Intent)
	}
	ec.SessionID = session.ID
	ec.UserID = req.UserID
	ec.Command = req.Command
	ec.Intent = session.Intent
	ec.Mode = req.Mode

	wf := o.catalog.GetWorkflow(session.Intent, req.Mode)
	if err := o.catalog.Validate(wf); err != nil {
		setupErr := &Error{Kind: KindSetup, SessionID: session.ID, Err: err}
		ended := o.now()
		session.Status = execution.SessionFailed
		session.EndedAt = &ended
		session.Duration = ended.Sub(session.StartedAt)
		o.persistUpdate(ctx, &session)
		o.logger.Error(ctx, "session setup failed", zap.Error(setupErr))
		return nil, setupErr
	}

	r := newRun(session, wf, ec, now)
	o.persistUpdate(ctx, &r.session)

	o.mu.Lock()
	o.active[session.ID] = r
	o.mu.Unlock()
	activeSessions.Inc()
	sessionsStarted.WithLabelValues(session.Intent, string(session.Mode)).Inc()

	phaseNames := make([]string, len(wf.Phases))
	for i, p := range wf.Phases {
		phaseNames[i] = p.ID
	}
	o.emit(ctx, events.Event{
		Type:      events.EventSessionStarted,
		SessionID: session.ID,
		Timestamp: o.now(),
		Message:   fmt.Sprintf("Started %s workflow", wf.Name),
		Data: map[string]any{
			"intent":       session.Intent,
			"mode":         string(session.Mode),
			"workflow":     wf.Name,
			"total_phases": len(wf.Phases),
			"phases":       phaseNames,
		},
	})

	r.mu.Lock()
	snap := r.snapshot()
	r.mu.Unlock()

	o.logger.Info(ctx, "session started",
		zap.String("user_id", req.UserID),
		zap.String("intent", session.Intent),
		zap.String("mode", string(req.Mode)),
		zap.Int("phases", len(wf.Phases)),
	)

	o.spawn(ctx, r)
	return snap, nil
}

func validateRequest(req *Request) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Command = strings.TrimSpace(req.Command)

	if err := logging.ValidateID(req.UserID, "user id"); err != nil {
		return err
	}
	if req.Command == "" {
		return errors.New("command is required")
	}
	mode, err := execution.ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode
	return nil
}

// Status returns a snapshot of an active session.
func (o *Orchestrator) Status(sessionID string) (*Snapshot, error) {
	r, ok := o.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

// Active lists the ids of active sessions, sorted.
func (o *Orchestrator) Active() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every spawned phase loop has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels every active session and waits for their loops to exit
// or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, id := range o.Active() {
		if err := o.Cancel(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			o.logger.Warn(ctx, "cancel on shutdown failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(sessionID string) (*run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.active[sessionID]
	return r, ok
}

// emit delivers an event to the bus and archives it. Archive failures are
// logged and dropped. Archiving ignores ctx cancellation so the terminal
// events of a cancelled session are still recorded.
func (o *Orchestrator) emit(ctx context.Context, e events.Event) {
	o.bus.Emit(e)
	if o.store == nil {
		return
	}
	if err := o.store.InsertEvent(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Warn(ctx, "persisting event failed",
			zap.String("event_type", string(e.Type)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) persistCreate(ctx context.Context, s *execution.Session) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateSession(ctx, s); err != nil {
		o.logger.Warn(ctx, "persisting new session failed", zap.Error(err))
	}
}

func (o *Orchestrator) persistUpdate(ctx context.Context, s *execution.Session) {
	if o.store == nil {
		return
	}
	copied := *s
	if err := o.store.UpdateSession(context.WithoutCancel(ctx), &copied); err != nil {
		o.logger.Warn(ctx, "persisting session status failed", zap.Error(err))
	}
}
