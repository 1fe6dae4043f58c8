package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/learning"
	"github.com/fyrsmithlabs/curatord/internal/logging"
	"github.com/fyrsmithlabs/curatord/internal/store"
	"github.com/fyrsmithlabs/curatord/internal/telemetry"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

const testIntent = "test"

type execFunc func(ctx context.Context, plan *agent.Plan) (*agent.Result, error)

type fakeAgent struct {
	name string
	run  execFunc
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Plan(_ context.Context, task agent.Task, _ execution.Context) (*agent.Plan, error) {
	return agent.SimplePlan(f.name, task), nil
}

func (f *fakeAgent) Execute(ctx context.Context, plan *agent.Plan, _ execution.Context) (*agent.Result, error) {
	return f.run(ctx, plan)
}

func succeed(output map[string]any) execFunc {
	return func(context.Context, *agent.Plan) (*agent.Result, error) {
		return &agent.Result{Output: output, Summary: "done"}, nil
	}
}

func fail(msg string) execFunc {
	return func(context.Context, *agent.Plan) (*agent.Result, error) {
		return nil, errors.New(msg)
	}
}

func blockUntilCancelled(started chan<- struct{}) execFunc {
	return func(ctx context.Context, _ *agent.Plan) (*agent.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// recorder collects every event emitted on the bus.
type recorder struct {
	mu        sync.Mutex
	events    []events.Event
	terminal  chan events.Event
	approvals chan events.Event
}

func newRecorder(bus *events.Bus) *recorder {
	rec := &recorder{
		terminal:  make(chan events.Event, 16),
		approvals: make(chan events.Event, 16),
	}
	bus.OnAny(func(e events.Event) {
		rec.mu.Lock()
		rec.events = append(rec.events, e)
		rec.mu.Unlock()

		switch {
		case e.Type.Terminal():
			rec.terminal <- e
		case e.Type == events.EventApprovalRequired:
			rec.approvals <- e
		}
	})
	return rec
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		if e.PhaseID != "" {
			out = append(out, fmt.Sprintf("%s:%s", e.Type, e.PhaseID))
			continue
		}
		out = append(out, string(e.Type))
	}
	return out
}

func (r *recorder) ofType(typ events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) waitTerminal(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-r.terminal:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return events.Event{}
	}
}

func (r *recorder) waitApproval(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-r.approvals:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for approval-required event")
		return events.Event{}
	}
}

type harness struct {
	o        *Orchestrator
	bus      *events.Bus
	rec      *recorder
	registry *agent.Registry
	catalog  *workflow.Catalog
	logger   *logging.TestLogger
}

type harnessConfig struct {
	agents  map[string]execFunc
	phases  []workflow.Phase
	store   Store
	loader  ContextLoader
	catalog Catalog
}

func newHarness(t *testing.T, hc harnessConfig, opts ...Option) *harness {
	t.Helper()

	registry := agent.NewRegistry()
	for name, run := range hc.agents {
		name, run := name, run
		require.NoError(t, registry.Register(name, func(agent.Deps) (agent.Agent, error) {
			return &fakeAgent{name: name, run: run}, nil
		}))
	}

	catalog := workflow.NewCatalog(registry)
	require.NoError(t, catalog.Register(workflow.Template{
		Intent: testIntent,
		Name:   "Test Workflow",
		Phases: hc.phases,
	}))

	bus := events.NewBus(zap.NewNop())
	rec := newRecorder(bus)
	logger := logging.NewTestLogger()

	cfg := Config{
		Catalog: catalog,
		Agents:  registry,
		Bus:     bus,
		Store:   hc.store,
		Loader:  hc.loader,
		Logger:  logger.Logger,
	}
	if hc.catalog != nil {
		cfg.Catalog = hc.catalog
	}

	opts = append([]Option{WithIntentClassifier(func(string) string { return testIntent })}, opts...)
	o, err := New(cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})

	return &harness{o: o, bus: bus, rec: rec, registry: registry, catalog: catalog, logger: logger}
}

func (h *harness) execute(t *testing.T, mode execution.Mode) *Snapshot {
	t.Helper()
	snap, err := h.o.Execute(context.Background(), Request{UserID: "user-1", Command: "do the thing", Mode: mode})
	require.NoError(t, err)
	return snap
}

func TestNew_RequiresCollaborators(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	catalog := workflow.NewCatalog(nil)
	registry := agent.NewRegistry()

	_, err := New(Config{Agents: registry, Bus: bus})
	assert.Error(t, err)
	_, err = New(Config{Catalog: catalog, Bus: bus})
	assert.Error(t, err)
	_, err = New(Config{Catalog: catalog, Agents: registry})
	assert.Error(t, err)

	o, err := New(Config{Catalog: catalog, Agents: registry, Bus: bus})
	require.NoError(t, err)
	assert.Empty(t, o.Active())
}

func TestExecute_SoftFailureThenCriticalSuccess(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"flaky":  fail("upstream timeout"),
			"steady": succeed(map[string]any{"ok": true}),
		},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "flaky"},
			{ID: "b", Order: 2, Agent: "steady", Critical: true},
		},
	})

	snap := h.execute(t, execution.ModeConversational)
	assert.Equal(t, execution.SessionRunning, snap.Session.Status)
	assert.Equal(t, testIntent, snap.Session.Intent)

	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-failed:a",
		"phase-started:b",
		"phase-completed:b",
		"session-completed",
	}, h.rec.sequence())

	assert.Equal(t, 1, terminal.Data["completed_phases"])
	assert.Equal(t, 1, terminal.Data["failed_phases"])
	assert.Equal(t, 2, terminal.Data["total_phases"])
	assert.Equal(t, 50, terminal.Data["progress"])
	assert.NotContains(t, terminal.Data, "reason")

	failed := h.rec.ofType(events.EventPhaseFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "upstream timeout", failed[0].Error)
	h.logger.AssertLogged(t, zap.WarnLevel, "phase failed, continuing")
}

func TestExecute_CriticalFailureHalts(t *testing.T) {
	var laterRan bool
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"fragile": fail("model unavailable"),
			"later": func(context.Context, *agent.Plan) (*agent.Result, error) {
				laterRan = true
				return &agent.Result{}, nil
			},
		},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "fragile", Critical: true},
			{ID: "b", Order: 2, Agent: "later"},
		},
	})

	h.execute(t, execution.ModeConversational)
	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-failed:a",
		"session-failed",
	}, h.rec.sequence())
	assert.False(t, laterRan)
	assert.Equal(t, string(KindCriticalPhase), terminal.Data["reason"])
	assert.Contains(t, terminal.Error, "model unavailable")
	assert.Empty(t, h.o.Active())
}

func TestExecute_RecordsSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"fragile": fail("model unavailable"),
			"steady":  succeed(nil),
		},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "steady"},
			{ID: "b", Order: 2, Agent: "fragile", Critical: true},
		},
	}, WithTracer(tt.Tracer("orchestrator-test")))

	snap := h.execute(t, execution.ModeAutonomous)
	h.rec.waitTerminal(t)
	h.o.Wait()

	tt.AssertSpanExists(t, "orchestrator.session")
	tt.AssertSpanAttribute(t, "orchestrator.session", "session.id", snap.Session.ID)
	phases := tt.SpansByName("orchestrator.phase")
	require.Len(t, phases, 2)
	for _, span := range phases {
		assert.Equal(t, snap.Session.ID, spanAttr(span, "session.id"))
		assert.True(t, span.Parent().IsValid(), "phase spans nest under the session span")
	}
}

func spanAttr(span interface{ Attributes() []attribute.KeyValue }, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestExecute_AllSoftFailuresStillComplete(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"flaky": fail("nope")},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "flaky"},
			{ID: "b", Order: 2, Agent: "flaky"},
			{ID: "c", Order: 3, Agent: "flaky"},
		},
	})

	h.execute(t, execution.ModeAutonomous)
	terminal := h.rec.waitTerminal(t)

	assert.Equal(t, events.EventSessionCompleted, terminal.Type)
	assert.Equal(t, 0, terminal.Data["progress"])
	assert.Equal(t, 3, terminal.Data["failed_phases"])
}

func TestExecute_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"ok":    succeed(map[string]any{}),
			"flaky": fail("nope"),
		},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok"},
			{ID: "b", Order: 2, Agent: "flaky"},
			{ID: "c", Order: 3, Agent: "ok"},
		},
	})

	h.execute(t, execution.ModeAutonomous)
	terminal := h.rec.waitTerminal(t)

	var progress []int
	for _, e := range h.rec.ofType(events.EventPhaseCompleted) {
		progress = append(progress, e.Data["progress"].(int))
	}
	assert.Equal(t, []int{33, 67}, progress)
	assert.Equal(t, 67, terminal.Data["progress"])
}

func TestExecute_ThreadsPreviousOutputs(t *testing.T) {
	seen := make(chan map[string]any, 1)
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"first": succeed(map[string]any{"title": "Light and Shadow"}),
			"second": func(_ context.Context, plan *agent.Plan) (*agent.Result, error) {
				seen <- plan.Input
				return &agent.Result{}, nil
			},
		},
		phases: []workflow.Phase{
			{ID: "concept", Order: 1, Agent: "first"},
			{ID: "layout", Order: 2, Agent: "second", Input: map[string]any{"rooms": 3}},
		},
	})

	h.execute(t, execution.ModeAutonomous)
	h.rec.waitTerminal(t)

	input := <-seen
	assert.Equal(t, "do the thing", input["command"])
	assert.Equal(t, 3, input["rooms"])
	previous, ok := input["previous"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "Light and Shadow"}, previous["concept"])
}

func TestExecute_EmptyTemplateCompletesImmediately(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	h.execute(t, execution.ModeConversational)
	terminal := h.rec.waitTerminal(t)

	assert.Equal(t, []string{"session-started", "session-completed"}, h.rec.sequence())
	assert.Equal(t, 100, terminal.Data["progress"])
	assert.Equal(t, 0, terminal.Data["total_phases"])
}

func TestExecute_AutonomousNeverPauses(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "ok", RequiresApproval: true},
		},
	})

	snap := h.execute(t, execution.ModeAutonomous)
	for _, p := range snap.Workflow.Phases {
		assert.False(t, p.RequiresApproval)
	}

	terminal := h.rec.waitTerminal(t)
	assert.Equal(t, events.EventSessionCompleted, terminal.Type)
	assert.Empty(t, h.rec.ofType(events.EventApprovalRequired))
}

func TestExecute_UnknownAgentIsConfigurationError(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents:  map[string]execFunc{"ok": succeed(map[string]any{})},
		catalog: ghostCatalog{},
	})

	h.execute(t, execution.ModeAutonomous)
	terminal := h.rec.waitTerminal(t)

	assert.Equal(t, events.EventSessionFailed, terminal.Type)
	assert.Equal(t, string(KindConfiguration), terminal.Data["reason"])
	assert.Equal(t, []string{
		"session-started",
		"phase-started:haunt",
		"phase-failed:haunt",
		"session-failed",
	}, h.rec.sequence())
}

// ghostCatalog hands out a workflow whose executor is not registered and
// skips validation, as a stale catalog would.
type ghostCatalog struct{}

func (ghostCatalog) GetWorkflow(string, execution.Mode) workflow.Template {
	return workflow.Template{
		Intent: testIntent,
		Phases: []workflow.Phase{{ID: "haunt", Name: "Haunt", Order: 1, Agent: "ghost"}},
	}
}

func (ghostCatalog) Validate(workflow.Template) error { return nil }

type rejectingCatalog struct{ ghostCatalog }

func (rejectingCatalog) Validate(workflow.Template) error {
	return workflow.ErrUnknownAgent
}

func TestExecute_SetupValidationFailure(t *testing.T) {
	mockStore := new(MockStore)
	mockStore.On("CreateSession", mock.Anything, mock.Anything).Return(nil)
	mockStore.On("UpdateSession", mock.Anything, mock.MatchedBy(func(s *execution.Session) bool {
		return s.Status == execution.SessionFailed && s.EndedAt != nil
	})).Return(nil).Once()

	h := newHarness(t, harnessConfig{catalog: rejectingCatalog{}, store: mockStore})

	_, err := h.o.Execute(context.Background(), Request{UserID: "user-1", Command: "haunt"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSetup))
	assert.ErrorIs(t, err, workflow.ErrUnknownAgent)
	assert.Empty(t, h.rec.sequence())
	assert.Empty(t, h.o.Active())
	mockStore.AssertExpectations(t)
}

func TestExecute_InvalidRequest(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	tests := []struct {
		name string
		req  Request
	}{
		{"missing user", Request{Command: "plan"}},
		{"bad user id", Request{UserID: "a b", Command: "plan"}},
		{"missing command", Request{UserID: "user-1", Command: "   "}},
		{"bad mode", Request{UserID: "user-1", Command: "plan", Mode: "turbo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.o.Execute(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, KindInvalidRequest, KindOf(err))
		})
	}
	assert.Empty(t, h.rec.sequence())
}

func TestApprove_ResumesAfterGate(t *testing.T) {
	loader := new(MockLoader)
	loader.On("LoadContext", mock.Anything, "user-1", testIntent).
		Return(execution.Context{History: []execution.UserHistory{}, Learning: []execution.LearningEntry{}})
	loader.On("SaveLearningData", mock.Anything, mock.MatchedBy(func(e execution.LearningEntry) bool {
		return e.UserID == "user-1" && e.TaskType == testIntent
	})).Return(nil).Twice()
	loader.On("RecordFeedback", mock.Anything, mock.Anything, "a", execution.FeedbackApproved).Return(nil).Once()

	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{"draft": "v1"})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "ok"},
		},
		loader: loader,
	})

	snap := h.execute(t, execution.ModeConversational)
	approval := h.rec.waitApproval(t)
	assert.Equal(t, "a", approval.PhaseID)

	status, err := h.o.Status(snap.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "a", status.Session.AwaitingPhase)
	assert.Equal(t, 50, status.Progress)
	assert.Equal(t, []string{"a"}, status.CompletedPhases)

	_, err = h.o.Approve(context.Background(), snap.SessionID(), Decision{Approved: true})
	require.NoError(t, err)

	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	assert.Equal(t, events.EventSessionCompleted, terminal.Type)
	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-completed:a",
		"approval-required:a",
		"phase-started:b",
		"phase-completed:b",
		"session-completed",
	}, h.rec.sequence())

	_, err = h.o.Status(snap.SessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	loader.AssertExpectations(t)
}

func TestApprove_AsSoonAsGateOpens(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "curatord.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	loader := learning.NewLoader(st, zap.NewNop())

	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{"draft": "v1"})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "ok"},
		},
		store:  st,
		loader: loader,
	})
	// A slow sink keeps the gated segment busy announcing the gate.
	h.bus.OnAny(func(e events.Event) {
		if e.Type == events.EventApprovalRequired {
			time.Sleep(100 * time.Millisecond)
		}
	})

	snap := h.execute(t, execution.ModeConversational)
	require.Eventually(t, func() bool {
		status, err := h.o.Status(snap.SessionID())
		return err == nil && status.Session.AwaitingPhase == "a"
	}, 5*time.Second, time.Millisecond)

	_, err = h.o.Approve(context.Background(), snap.SessionID(), Decision{Approved: true})
	require.NoError(t, err)

	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	assert.Equal(t, events.EventSessionCompleted, terminal.Type)
	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-completed:a",
		"approval-required:a",
		"phase-started:b",
		"phase-completed:b",
		"session-completed",
	}, h.rec.sequence())

	ctx := context.Background()
	saved, err := st.GetSession(ctx, snap.SessionID())
	require.NoError(t, err)
	assert.Equal(t, execution.SessionCompleted, saved.Status)
	assert.Empty(t, saved.AwaitingPhase)
	assert.NotNil(t, saved.EndedAt)

	rows, err := st.RecentLearning(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].PhaseID)
	assert.Equal(t, execution.FeedbackApproved, rows[0].Feedback)

	approved, err := st.CountApprovedLearning(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, approved)
}

func TestApprove_FromApprovalListener(t *testing.T) {
	loader := new(MockLoader)
	loader.On("LoadContext", mock.Anything, mock.Anything, mock.Anything).Return(execution.Context{})

	var mu sync.Mutex
	var calls []string
	loader.On("SaveLearningData", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "save:"+args.Get(1).(execution.LearningEntry).PhaseID)
	}).Return(nil)
	loader.On("RecordFeedback", mock.Anything, mock.Anything, "a", execution.FeedbackRejected).Run(func(mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "feedback:a")
	}).Return(nil).Once()

	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "ok"},
		},
		loader: loader,
	})

	approveErr := make(chan error, 1)
	h.bus.OnAny(func(e events.Event) {
		if e.Type == events.EventApprovalRequired {
			_, err := h.o.Approve(context.Background(), e.SessionID, Decision{Approved: false})
			approveErr <- err
		}
	})

	h.execute(t, execution.ModeConversational)
	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	require.NoError(t, <-approveErr)
	assert.Equal(t, events.EventSessionFailed, terminal.Type)
	assert.Equal(t, string(KindApprovalRejected), terminal.Data["reason"])
	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-completed:a",
		"approval-required:a",
		"session-failed",
	}, h.rec.sequence())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"save:a", "feedback:a"}, calls)
	loader.AssertExpectations(t)
}

func TestApprove_RejectionFailsSession(t *testing.T) {
	loader := new(MockLoader)
	loader.On("LoadContext", mock.Anything, mock.Anything, mock.Anything).Return(execution.Context{})
	loader.On("SaveLearningData", mock.Anything, mock.Anything).Return(nil)
	loader.On("RecordFeedback", mock.Anything, mock.Anything, "a", execution.FeedbackRejected).Return(nil).Once()

	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "ok"},
		},
		loader: loader,
	})

	snap := h.execute(t, execution.ModeConversational)
	h.rec.waitApproval(t)

	_, err := h.o.Approve(context.Background(), snap.SessionID(), Decision{Comment: "wrong theme"})
	require.NoError(t, err)

	terminal := h.rec.waitTerminal(t)
	assert.Equal(t, events.EventSessionFailed, terminal.Type)
	assert.Equal(t, string(KindApprovalRejected), terminal.Data["reason"])
	assert.Contains(t, terminal.Error, "wrong theme")
	assert.Empty(t, h.rec.ofType(events.EventPhaseStarted)[1:])
	loader.AssertExpectations(t)
}

func TestApprove_Errors(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"slow": blockUntilCancelled(started)},
		phases: []workflow.Phase{{ID: "a", Order: 1, Agent: "slow"}},
	})

	_, err := h.o.Approve(context.Background(), "session_1_abc", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	snap := h.execute(t, execution.ModeConversational)
	<-started
	_, err = h.o.Approve(context.Background(), snap.SessionID(), Decision{Approved: true})
	assert.ErrorIs(t, err, ErrNotAwaitingApproval)
}

func TestCancel_RunningSession(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"slow": blockUntilCancelled(started),
			"ok":   succeed(map[string]any{}),
		},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "slow"},
			{ID: "b", Order: 2, Agent: "ok"},
		},
	})

	snap := h.execute(t, execution.ModeAutonomous)
	<-started
	require.NoError(t, h.o.Cancel(snap.SessionID()))

	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	assert.Equal(t, string(KindCancelled), terminal.Data["reason"])
	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-failed:a",
		"session-failed",
	}, h.rec.sequence())
	assert.ErrorIs(t, h.o.Cancel(snap.SessionID()), ErrSessionNotFound)
}

func TestCancel_SessionAwaitingApproval(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "ok"},
		},
	})

	snap := h.execute(t, execution.ModeConversational)
	h.rec.waitApproval(t)

	require.NoError(t, h.o.Cancel(snap.SessionID()))
	terminal := h.rec.waitTerminal(t)

	assert.Equal(t, events.EventSessionFailed, terminal.Type)
	assert.Equal(t, string(KindCancelled), terminal.Data["reason"])
	assert.Equal(t, 1, terminal.Data["completed_phases"])
	assert.Equal(t, []string{
		"session-started",
		"phase-started:a",
		"phase-completed:a",
		"approval-required:a",
		"session-failed",
	}, h.rec.sequence())
	_, err := h.o.Approve(context.Background(), snap.SessionID(), Decision{Approved: true})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExecute_ConcurrentSessions(t *testing.T) {
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{})},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok"},
			{ID: "b", Order: 2, Agent: "ok"},
		},
	})

	const n = 8
	for i := 0; i < n; i++ {
		h.execute(t, execution.ModeAutonomous)
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, events.EventSessionCompleted, h.rec.waitTerminal(t).Type)
	}
	h.o.Wait()
	assert.Empty(t, h.o.Active())
	assert.Len(t, h.rec.ofType(events.EventSessionStarted), n)
}

func TestExecute_PersistsSessionEventsAndLearning(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "curatord.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	loader := learning.NewLoader(st, zap.NewNop())

	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{
			"ok":    succeed(map[string]any{"title": "Tides"}),
			"flaky": fail("nope"),
		},
		phases: []workflow.Phase{
			{ID: "a", Order: 1, Agent: "ok", RequiresApproval: true},
			{ID: "b", Order: 2, Agent: "flaky"},
		},
		store:  st,
		loader: loader,
	})

	snap := h.execute(t, execution.ModeConversational)
	h.rec.waitApproval(t)

	ctx := context.Background()
	parked, err := st.GetSession(ctx, snap.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "a", parked.AwaitingPhase)
	assert.Equal(t, execution.SessionRunning, parked.Status)

	_, err = h.o.Approve(ctx, snap.SessionID(), Decision{Approved: true})
	require.NoError(t, err)
	h.rec.waitTerminal(t)
	h.o.Wait()

	saved, err := st.GetSession(ctx, snap.SessionID())
	require.NoError(t, err)
	assert.Equal(t, execution.SessionCompleted, saved.Status)
	assert.Equal(t, testIntent, saved.Intent)
	assert.Equal(t, 1, saved.CompletedPhases)
	assert.Equal(t, 1, saved.FailedPhases)
	assert.Empty(t, saved.AwaitingPhase)
	assert.NotNil(t, saved.EndedAt)

	logged, err := st.ListEvents(ctx, snap.SessionID())
	require.NoError(t, err)
	assert.Len(t, logged, len(h.rec.sequence()))

	rows, err := st.RecentLearning(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].PhaseID)
	assert.Equal(t, execution.FeedbackApproved, rows[0].Feedback)
	assert.Equal(t, "Tides", rows[0].Decision["title"])

	level, err := loader.CalculateAutonomyLevel(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, level)
}

func TestExecute_StoreFailuresAreNotFatal(t *testing.T) {
	mockStore := new(MockStore)
	mockStore.On("CreateSession", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	mockStore.On("UpdateSession", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	mockStore.On("InsertEvent", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"ok": succeed(map[string]any{})},
		phases: []workflow.Phase{{ID: "a", Order: 1, Agent: "ok"}},
		store:  mockStore,
	})

	h.execute(t, execution.ModeAutonomous)
	terminal := h.rec.waitTerminal(t)
	h.o.Wait()

	assert.Equal(t, events.EventSessionCompleted, terminal.Type)
	h.logger.AssertLogged(t, zap.WarnLevel, "persisting event failed")
	h.logger.AssertLogged(t, zap.WarnLevel, "persisting new session failed")
}

func TestShutdown_CancelsActiveSessions(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, harnessConfig{
		agents: map[string]execFunc{"slow": blockUntilCancelled(started)},
		phases: []workflow.Phase{{ID: "a", Order: 1, Agent: "slow"}},
	})

	h.execute(t, execution.ModeAutonomous)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.o.Shutdown(ctx))
	assert.Empty(t, h.o.Active())
}

func TestNewSessionID(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	id := NewSessionID(now)
	assert.Regexp(t, regexp.MustCompile(`^session_1700000000123_[0-9a-f]{9}$`), id)
	assert.NotEqual(t, id, NewSessionID(now))
}

func TestWithClockAndIDGenerator(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, harnessConfig{},
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func(time.Time) string { return "session_fixed" }),
	)

	snap := h.execute(t, execution.ModeAutonomous)
	assert.Equal(t, "session_fixed", snap.SessionID())
	assert.Equal(t, fixed, snap.Session.StartedAt)
	h.rec.waitTerminal(t)
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"Curate a gallery show on tidal art", "exhibition"},
		{"Estimate the cost of shipping", "budget"},
		{"Find artworks in the archive", "collection"},
		{"Design a school workshop", "education"},
		{"Draft a press release", "promotion"},
		{"What time is it?", IntentGeneral},
		{"Exhibition budget review", "exhibition"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyIntent(tt.command), tt.command)
	}
}
