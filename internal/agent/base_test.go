package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) Generate(ctx context.Context, prompt, system string) (Generation, error) {
	args := m.Called(ctx, prompt, system)
	return args.Get(0).(Generation), args.Error(1)
}

type jsonLLM struct {
	MockLLM
}

func (m *jsonLLM) GenerateJSON(ctx context.Context, prompt, system string) (Generation, error) {
	args := m.Called(ctx, prompt, system)
	return args.Get(0).(Generation), args.Error(1)
}

type recordingRouter struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingRouter) RouteMessage(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestBaseAgent_GenerateRecordsAction(t *testing.T) {
	llm := new(MockLLM)
	llm.On("Generate", mock.Anything, "hello", "be brief").Return(Generation{Text: "hi", TokensUsed: 2000}, nil)

	a := NewBaseAgent("research", WithLLM(llm), WithCostPer1K(0.01))
	text, err := a.GenerateText(context.Background(), "hello", "be brief")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	actions := a.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "generate", actions[0].Type)
	assert.Equal(t, "research", actions[0].Agent)
	assert.True(t, actions[0].Success)
	assert.Equal(t, 2000, actions[0].TokensUsed)
	assert.InDelta(t, 0.02, actions[0].Cost, 1e-9)
	assert.Equal(t, "hi", actions[0].Output["text"])
}

func TestBaseAgent_GenerateFailureIsRecordedAndReturned(t *testing.T) {
	llm := new(MockLLM)
	llm.On("Generate", mock.Anything, "p", "").Return(Generation{}, errors.New("rate limited"))

	a := NewBaseAgent("budget", WithLLM(llm))
	_, err := a.Generate(context.Background(), "p", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	actions := a.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Success)
	assert.Contains(t, actions[0].Error, "rate limited")
	assert.Zero(t, a.Metrics().SuccessRate)
}

func TestBaseAgent_NoLLM(t *testing.T) {
	a := NewBaseAgent("x")
	assert.False(t, a.HasLLM())

	_, err := a.Generate(context.Background(), "p", "")
	assert.ErrorIs(t, err, ErrNoLLM)

	var out map[string]any
	assert.ErrorIs(t, a.GenerateJSON(context.Background(), "p", "", &out), ErrNoLLM)
	assert.Len(t, a.Actions(), 2)
}

func TestBaseAgent_GenerateJSON(t *testing.T) {
	llm := new(MockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool { return len(p) > len("concept") }), "").
		Return(Generation{Text: "Sure:\n```json\n{\"title\": \"Lumen\", \"sections\": 3}\n```", TokensUsed: 10}, nil)

	a := NewBaseAgent("concept", WithLLM(llm))
	var out struct {
		Title    string `json:"title"`
		Sections int    `json:"sections"`
	}
	require.NoError(t, a.GenerateJSON(context.Background(), "concept", "", &out))
	assert.Equal(t, "Lumen", out.Title)
	assert.Equal(t, 3, out.Sections)
	assert.Equal(t, "generate_json", a.Actions()[0].Type)
}

func TestBaseAgent_GenerateJSONUsesNativeMode(t *testing.T) {
	llm := new(jsonLLM)
	llm.On("GenerateJSON", mock.Anything, "p", "sys").Return(Generation{Text: `{"ok": true}`}, nil)

	a := NewBaseAgent("x", WithLLM(llm))
	var out map[string]bool
	require.NoError(t, a.GenerateJSON(context.Background(), "p", "sys", &out))
	assert.True(t, out["ok"])
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestBaseAgent_GenerateJSONDecodeFailure(t *testing.T) {
	llm := new(MockLLM)
	llm.On("Generate", mock.Anything, mock.Anything, "").Return(Generation{Text: "not json at all"}, nil)

	a := NewBaseAgent("x", WithLLM(llm))
	var out map[string]any
	err := a.GenerateJSON(context.Background(), "p", "", &out)
	require.Error(t, err)
	actions := a.Actions()
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Success)
}

func TestBaseAgent_UseTool(t *testing.T) {
	search := NewTool("collection_search", "search collections", func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"query": in["q"], "hits": 2}, nil
	})
	broken := NewTool("broken", "always fails", func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("offline")
	})
	a := NewBaseAgent("archive", WithTools(search, broken))
	assert.True(t, a.HasTool("collection_search"))

	out, err := a.UseTool(context.Background(), "collection_search", map[string]any{"q": "vermeer"})
	require.NoError(t, err)
	assert.Equal(t, "vermeer", out["query"])

	_, err = a.UseTool(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = a.UseTool(context.Background(), "broken", nil)
	assert.ErrorContains(t, err, "offline")

	actions := a.Actions()
	require.Len(t, actions, 3)
	assert.Equal(t, "tool:collection_search", actions[0].Type)
	assert.True(t, actions[0].Success)
	assert.False(t, actions[1].Success)
	assert.False(t, actions[2].Success)
	assert.InDelta(t, 1.0/3.0, a.Metrics().SuccessRate, 1e-9)
}

func TestBaseAgent_HistoryBounded(t *testing.T) {
	noop := NewTool("noop", "", func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })
	a := NewBaseAgent("x", WithTools(noop), WithHistorySize(5))
	for i := 0; i < 12; i++ {
		_, _ = a.UseTool(context.Background(), "noop", nil)
	}
	assert.Len(t, a.Actions(), 5)
	assert.Equal(t, 5, a.Metrics().TotalActions)
}

func TestBaseAgent_SendMessage(t *testing.T) {
	a := NewBaseAgent("concept")
	_, err := a.SendMessage(context.Background(), "budget", MessageEvent, "t", nil)
	assert.ErrorIs(t, err, ErrNoRouter)

	router := &recordingRouter{}
	a.SetRouter(router)
	msg, err := a.SendMessage(context.Background(), "budget", MessageRequest, "estimate", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, msg.ID, msg.CorrelationID)
	require.Len(t, router.msgs, 1)
	assert.Equal(t, "concept", router.msgs[0].From)
	assert.Equal(t, "budget", router.msgs[0].To)
}

func TestBaseAgent_DeliverAndReceive(t *testing.T) {
	a := NewBaseAgent("archive", WithInboxSize(1))

	require.NoError(t, a.Deliver(context.Background(), Message{Type: MessageEvent, Topic: "one"}))
	assert.ErrorIs(t, a.Deliver(context.Background(), Message{Type: MessageEvent, Topic: "two"}), ErrInboxFull)

	msg, err := a.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", msg.Topic)

	_, ok := a.TryReceive()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.ReceiveMessage(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBaseAgent_RequestHandlerReplies(t *testing.T) {
	router := &recordingRouter{}
	a := NewBaseAgent("budget", WithRequestHandler(func(_ context.Context, msg Message) (map[string]any, error) {
		if msg.Topic == "fail" {
			return nil, errors.New("cannot estimate")
		}
		return map[string]any{"total": 1200.0}, nil
	}))
	a.SetRouter(router)

	require.NoError(t, a.Deliver(context.Background(), Message{ID: "m1", Type: MessageRequest, From: "concept", Topic: "estimate", CorrelationID: "m1"}))
	require.NoError(t, a.Deliver(context.Background(), Message{ID: "m2", Type: MessageRequest, From: "concept", Topic: "fail", CorrelationID: "m2"}))

	require.Len(t, router.msgs, 2)
	resp := router.msgs[0]
	assert.Equal(t, MessageResponse, resp.Type)
	assert.Equal(t, "concept", resp.To)
	assert.Equal(t, "m1", resp.CorrelationID)
	assert.Equal(t, 1200.0, resp.Payload["total"])
	assert.Equal(t, "cannot estimate", router.msgs[1].Payload["error"])

	_, queued := a.TryReceive()
	assert.False(t, queued)
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                           `{"a":1}`,
		"```json\n{\"a\":1}\n```":           `{"a":1}`,
		"```\n[1,2]\n```":                   `[1,2]`,
		"Here you go: {\"a\": {\"b\": 2}}.": `{"a": {"b": 2}}`,
		"no json":                           "no json",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func TestPlanForPhase(t *testing.T) {
	phase := workflow.Phase{ID: "concept", Name: "Concept", Description: "Draft the concept", Agent: "concept"}
	plan := PlanForPhase(phase, map[string]any{"theme": "light"})

	assert.Equal(t, "Draft the concept", plan.Goal)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "concept", plan.Steps[0].ID)
	assert.Equal(t, "concept", plan.Steps[0].Action)
	assert.Equal(t, StepPending, plan.Steps[0].Status)
	assert.Equal(t, "light", plan.Input["theme"])

	plan = PlanForPhase(workflow.Phase{ID: "x", Name: "Only Name"}, nil)
	assert.Equal(t, "Only Name", plan.Goal)
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(errors.Join(errors.New("x"), context.DeadlineExceeded)))
	assert.False(t, IsCancellation(errors.New("x")))
}
