package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "curatord.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(id, user, intent string, offset time.Duration) *execution.Session {
	return &execution.Session{
		ID:        id,
		UserID:    user,
		Command:   "plan an exhibition",
		Intent:    intent,
		Mode:      execution.ModeConversational,
		Status:    execution.SessionRunning,
		StartedAt: base.Add(offset),
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curatord.db")
	s1, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.CreateSession(context.Background(), newSession("s1", "u", "general", 0)))
	require.NoError(t, s1.Close())

	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Ping(context.Background()))

	got, err := s2.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u", got.UserID)
}

func TestSessions_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := newSession("s1", "alice", "exhibition", 0)
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, execution.SessionRunning, got.Status)
	assert.Equal(t, execution.ModeConversational, got.Mode)
	assert.True(t, got.StartedAt.Equal(sess.StartedAt))
	assert.Nil(t, got.EndedAt)
	assert.Empty(t, got.AwaitingPhase)

	ended := base.Add(90 * time.Second)
	sess.Status = execution.SessionCompleted
	sess.CompletedPhases = 3
	sess.FailedPhases = 1
	sess.Progress = 75
	sess.CurrentPhase = 3
	sess.AwaitingPhase = "concept"
	sess.EndedAt = &ended
	sess.Duration = 90 * time.Second
	require.NoError(t, s.UpdateSession(ctx, sess))

	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, execution.SessionCompleted, got.Status)
	assert.Equal(t, 3, got.CompletedPhases)
	assert.Equal(t, 1, got.FailedPhases)
	assert.Equal(t, 75, got.Progress)
	assert.Equal(t, "concept", got.AwaitingPhase)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
	assert.Equal(t, 90*time.Second, got.Duration)
}

func TestSessions_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateSession(ctx, newSession("missing", "u", "general", 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "u", "general", 0)))
	assert.Error(t, s.CreateSession(ctx, newSession("s1", "u", "general", 0)))
}

func TestRecentSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 12; i++ {
		sess := newSession(fmt.Sprintf("s%02d", i), "alice", "budget", time.Duration(i)*time.Minute)
		sess.Status = execution.SessionCompleted
		require.NoError(t, s.CreateSession(ctx, sess))
	}
	running := newSession("running", "alice", "budget", time.Hour)
	require.NoError(t, s.CreateSession(ctx, running))
	failed := newSession("failed", "alice", "budget", 30*time.Minute)
	failed.Status = execution.SessionFailed
	require.NoError(t, s.CreateSession(ctx, failed))
	other := newSession("other", "bob", "budget", time.Hour)
	other.Status = execution.SessionCompleted
	require.NoError(t, s.CreateSession(ctx, other))
	otherIntent := newSession("intent", "alice", "education", time.Hour)
	otherIntent.Status = execution.SessionFailed
	require.NoError(t, s.CreateSession(ctx, otherIntent))

	got, err := s.RecentSessions(ctx, "alice", "budget", 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	// Failed runs count: the success rate is computed over these rows.
	assert.Equal(t, "failed", got[0].ID)
	assert.Equal(t, execution.SessionFailed, got[0].Status)
	assert.Equal(t, "s11", got[1].ID)
	assert.Equal(t, "s03", got[9].ID)
	for _, sess := range got {
		assert.True(t, sess.Status.Terminal())
	}
}

func TestListSessions_Filter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newSession("a", "alice", "budget", 0)
	b := newSession("b", "alice", "education", time.Minute)
	b.Status = execution.SessionFailed
	c := newSession("c", "bob", "budget", 2*time.Minute)
	for _, sess := range []*execution.Session{a, b, c} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	alice, err := s.ListSessions(ctx, SessionFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	failed, err := s.ListSessions(ctx, SessionFilter{Status: execution.SessionFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)

	limited, err := s.ListSessions(ctx, SessionFilter{Intent: "budget", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)
}

func TestEvents_RoundTripInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := []events.Event{
		{Type: events.EventSessionStarted, SessionID: "s1", Timestamp: base, Message: "started"},
		{Type: events.EventPhaseStarted, SessionID: "s1", Timestamp: base, PhaseID: "research", Phase: "Research", Agent: "research"},
		{Type: events.EventPhaseFailed, SessionID: "s1", Timestamp: base, PhaseID: "research", Error: "boom"},
		{Type: events.EventSessionFailed, SessionID: "s1", Timestamp: base, Data: map[string]any{"failed_phases": 1}},
		{Type: events.EventSessionStarted, SessionID: "s2"},
	}
	for _, e := range in {
		require.NoError(t, s.InsertEvent(ctx, e))
	}

	got, err := s.ListEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 4)

	types := make([]events.EventType, len(got))
	for i, e := range got {
		types[i] = e.Type
	}
	assert.Equal(t, []events.EventType{
		events.EventSessionStarted, events.EventPhaseStarted, events.EventPhaseFailed, events.EventSessionFailed,
	}, types)
	assert.Equal(t, "Research", got[1].Phase)
	assert.Equal(t, "research", got[1].Agent)
	assert.Equal(t, "boom", got[2].Error)
	assert.Equal(t, float64(1), got[3].Data["failed_phases"])
	assert.True(t, got[0].Timestamp.Equal(base))

	none, err := s.ListEvents(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLearning_InsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry := execution.LearningEntry{
		UserID: "alice", SessionID: "s1", PhaseID: "concept", TaskType: "exhibition",
		Input: map[string]any{"theme": "light"}, Decision: map[string]any{"title": "Lumen"},
	}
	inserted, err := s.InsertLearning(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	entry.Decision = map[string]any{"title": "Other"}
	inserted, err = s.InsertLearning(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, s.UpdateLearningFeedback(ctx, "s1", "concept", execution.FeedbackApproved))
	rows, err := s.RecentLearning(ctx, "alice", 20)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Lumen", rows[0].Decision["title"])
	assert.Equal(t, "light", rows[0].Input["theme"])
}

func TestLearning_RecentOnlyWithFeedback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rate := 0.5
	for i := 0; i < 25; i++ {
		e := execution.LearningEntry{
			UserID: "alice", SessionID: fmt.Sprintf("s%02d", i), PhaseID: "p", TaskType: "budget",
			Feedback: execution.FeedbackApproved, SuccessRate: &rate,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		_, err := s.InsertLearning(ctx, e)
		require.NoError(t, err)
	}
	_, err := s.InsertLearning(ctx, execution.LearningEntry{UserID: "alice", SessionID: "nofeedback", PhaseID: "p", TaskType: "budget", CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	rows, err := s.RecentLearning(ctx, "alice", 20)
	require.NoError(t, err)
	require.Len(t, rows, 20)
	assert.Equal(t, "s24", rows[0].SessionID)
	require.NotNil(t, rows[0].SuccessRate)
	assert.InDelta(t, 0.5, *rows[0].SuccessRate, 1e-9)
	for _, r := range rows {
		assert.NotEmpty(t, r.Feedback)
	}
}

func TestLearning_CountApproved(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.CountApprovedLearning(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	labels := []string{execution.FeedbackApproved, execution.FeedbackApproved, execution.FeedbackRejected, ""}
	for i, fb := range labels {
		_, err := s.InsertLearning(ctx, execution.LearningEntry{UserID: "alice", SessionID: fmt.Sprint(i), PhaseID: "p", TaskType: "t", Feedback: fb})
		require.NoError(t, err)
	}
	_, err = s.InsertLearning(ctx, execution.LearningEntry{UserID: "bob", SessionID: "b", PhaseID: "p", TaskType: "t", Feedback: execution.FeedbackApproved})
	require.NoError(t, err)

	n, err = s.CountApprovedLearning(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLearning_UpdateFeedbackNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateLearningFeedback(context.Background(), "s1", "p", execution.FeedbackRejected)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			assert.NoError(t, s.CreateSession(ctx, newSession(id, "u", "general", 0)))
			for j := 0; j < 5; j++ {
				assert.NoError(t, s.InsertEvent(ctx, events.Event{Type: events.EventPhaseStarted, SessionID: id}))
			}
		}(i)
	}
	wg.Wait()

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 8)
}
