package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// InsertLearning records one learning row. A second insert for the same
// session and phase is ignored; inserted reports whether a row was written.
func (s *Store) InsertLearning(ctx context.Context, entry execution.LearningEntry) (inserted bool, err error) {
	input, err := marshalJSON(entry.Input)
	if err != nil {
		return false, fmt.Errorf("marshal learning input: %w", err)
	}
	decision, err := marshalJSON(entry.Decision)
	if err != nil {
		return false, fmt.Errorf("marshal learning decision: %w", err)
	}

	var rate sql.NullFloat64
	if entry.SuccessRate != nil {
		rate = sql.NullFloat64{Float64: *entry.SuccessRate, Valid: true}
	}

	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_data (user_id, session_id, phase_id, task_type, input, decision, feedback, success_rate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, phase_id) DO NOTHING`,
		entry.UserID, entry.SessionID, entry.PhaseID, entry.TaskType, input, decision,
		nullString(entry.Feedback), rate, created.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert learning data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert learning data: %w", err)
	}
	return n > 0, nil
}

// UpdateLearningFeedback sets the feedback label for a session's phase.
func (s *Store) UpdateLearningFeedback(ctx context.Context, sessionID, phaseID, feedback string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learning_data SET feedback = ? WHERE session_id = ? AND phase_id = ?`,
		feedback, sessionID, phaseID,
	)
	if err != nil {
		return fmt.Errorf("update learning feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update learning feedback: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("learning data %s/%s: %w", sessionID, phaseID, ErrNotFound)
	}
	return nil
}

// RecentLearning returns a user's most recent learning rows that carry
// feedback, newest first.
func (s *Store) RecentLearning(ctx context.Context, userID string, limit int) ([]execution.LearningEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, phase_id, task_type, input, decision, feedback, success_rate, created_at
		 FROM learning_data
		 WHERE user_id = ? AND feedback IS NOT NULL
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query learning data: %w", err)
	}
	defer rows.Close()

	var out []execution.LearningEntry
	for rows.Next() {
		var e execution.LearningEntry
		var input, decision, feedback sql.NullString
		var rate sql.NullFloat64

		err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.PhaseID, &e.TaskType,
			&input, &decision, &feedback, &rate, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan learning data: %w", err)
		}

		e.Input = unmarshalJSON(input)
		e.Decision = unmarshalJSON(decision)
		e.Feedback = feedback.String
		if rate.Valid {
			r := rate.Float64
			e.SuccessRate = &r
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountApprovedLearning counts a user's learning rows labelled approved.
func (s *Store) CountApprovedLearning(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_data WHERE user_id = ? AND feedback = ?`,
		userID, execution.FeedbackApproved,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count approved learning data: %w", err)
	}
	return n, nil
}

func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString) map[string]any {
	if !s.Valid {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}
