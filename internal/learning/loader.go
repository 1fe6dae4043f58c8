// Package learning loads per-user execution history and learning feedback
// into an execution context, and records new learning signals.
package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/curatord/internal/execution"
)

const (
	// HistoryLimit is how many recent sessions feed the history aggregate.
	HistoryLimit = 10

	// LearningLimit is how many recent feedback rows are loaded.
	LearningLimit = 20
)

// Store is the persistence the loader needs.
type Store interface {
	RecentSessions(ctx context.Context, userID, intent string, limit int) ([]*execution.Session, error)
	RecentLearning(ctx context.Context, userID string, limit int) ([]execution.LearningEntry, error)
	InsertLearning(ctx context.Context, entry execution.LearningEntry) (bool, error)
	UpdateLearningFeedback(ctx context.Context, sessionID, phaseID, feedback string) error
	CountApprovedLearning(ctx context.Context, userID string) (int, error)
}

// Loader builds execution contexts from stored history.
type Loader struct {
	store  Store
	logger *zap.Logger
}

// NewLoader creates a loader over store.
func NewLoader(store Store, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, logger: logger}
}

// LoadContext returns a context for userID and intent with history and
// learning populated. Storage errors are logged and yield empty history;
// this never fails.
func (l *Loader) LoadContext(ctx context.Context, userID, intent string) execution.Context {
	out := execution.Context{
		UserID:   userID,
		Intent:   intent,
		History:  []execution.UserHistory{},
		Learning: []execution.LearningEntry{},
	}

	var sessions []*execution.Session
	var learning []execution.LearningEntry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = l.store.RecentSessions(gctx, userID, intent, HistoryLimit)
		if err != nil {
			return fmt.Errorf("loading session history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		learning, err = l.store.RecentLearning(gctx, userID, LearningLimit)
		if err != nil {
			return fmt.Errorf("loading learning data: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		l.logger.Warn("execution context degraded to empty history",
			zap.String("user_id", userID),
			zap.String("intent", intent),
			zap.Error(err),
		)
		return out
	}

	if h, ok := Aggregate(intent, sessions); ok {
		out.History = append(out.History, h)
	}
	if learning != nil {
		out.Learning = learning
	}
	return out
}

// Aggregate summarizes finished sessions into one history entry. It reports
// false when there are no sessions.
func Aggregate(taskType string, sessions []*execution.Session) (execution.UserHistory, bool) {
	if len(sessions) == 0 {
		return execution.UserHistory{}, false
	}

	var completed int
	var total time.Duration
	for _, s := range sessions {
		if s.Status == execution.SessionCompleted {
			completed++
		}
		total += s.Duration
	}

	return execution.UserHistory{
		TaskType:        taskType,
		Frequency:       len(sessions),
		SuccessRate:     float64(completed) / float64(len(sessions)),
		AverageDuration: total / time.Duration(len(sessions)),
	}, true
}

// SaveLearningData records what the system decided for one phase. Repeated
// calls for the same session and phase are no-ops.
func (l *Loader) SaveLearningData(ctx context.Context, entry execution.LearningEntry) error {
	inserted, err := l.store.InsertLearning(ctx, entry)
	if err != nil {
		return fmt.Errorf("saving learning data for %s/%s: %w", entry.SessionID, entry.PhaseID, err)
	}
	if !inserted {
		l.logger.Debug("learning data already recorded",
			zap.String("session_id", entry.SessionID),
			zap.String("phase_id", entry.PhaseID),
		)
	}
	return nil
}

// RecordFeedback labels the learning row for a session's phase.
func (l *Loader) RecordFeedback(ctx context.Context, sessionID, phaseID, feedback string) error {
	if err := l.store.UpdateLearningFeedback(ctx, sessionID, phaseID, feedback); err != nil {
		return fmt.Errorf("recording feedback for %s/%s: %w", sessionID, phaseID, err)
	}
	return nil
}

// CalculateAutonomyLevel buckets the user's approved learning volume into a
// level from 1 to 4.
func (l *Loader) CalculateAutonomyLevel(ctx context.Context, userID string) (int, error) {
	n, err := l.store.CountApprovedLearning(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("calculating autonomy level: %w", err)
	}
	return AutonomyLevelFor(n), nil
}

// Autonomy thresholds on approved learning rows.
const (
	level2Threshold = 50
	level3Threshold = 300
	level4Threshold = 1000
)

// AutonomyLevelFor maps an approved-row count to an autonomy level.
func AutonomyLevelFor(approved int) int {
	switch {
	case approved < level2Threshold:
		return 1
	case approved < level3Threshold:
		return 2
	case approved < level4Threshold:
		return 3
	default:
		return 4
	}
}
