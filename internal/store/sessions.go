package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/curatord/internal/execution"
)

const sessionColumns = `id, user_id, command, intent, mode, status, current_phase, awaiting_phase,
	completed_phases, failed_phases, progress, started_at, ended_at, duration_ms`

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *execution.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Command, sess.Intent, string(sess.Mode), string(sess.Status),
		sess.CurrentPhase, nullString(sess.AwaitingPhase), sess.CompletedPhases, sess.FailedPhases,
		sess.Progress, sess.StartedAt.UTC(), nullTime(sess.EndedAt), sess.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSession overwrites the mutable columns of an existing session.
func (s *Store) UpdateSession(ctx context.Context, sess *execution.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET intent = ?, status = ?, current_phase = ?, awaiting_phase = ?,
			completed_phases = ?, failed_phases = ?, progress = ?, ended_at = ?, duration_ms = ?
		 WHERE id = ?`,
		sess.Intent, string(sess.Status), sess.CurrentPhase, nullString(sess.AwaitingPhase),
		sess.CompletedPhases, sess.FailedPhases, sess.Progress, nullTime(sess.EndedAt),
		sess.Duration.Milliseconds(), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*execution.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// SessionFilter narrows ListSessions. Zero fields match everything.
type SessionFilter struct {
	UserID string
	Intent string
	Status execution.SessionStatus
	Limit  int
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]*execution.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Intent != "" {
		query += ` AND intent = ?`
		args = append(args, f.Intent)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	return s.querySessions(ctx, query, args...)
}

// RecentSessions returns a user's most recent finished sessions for an
// intent, newest first. Failed sessions are included so callers can derive a
// success rate; running ones are not.
func (s *Store) RecentSessions(ctx context.Context, userID, intent string, limit int) ([]*execution.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND intent = ? AND status IN (?, ?)
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		userID, intent, string(execution.SessionCompleted), string(execution.SessionFailed), limit,
	)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*execution.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*execution.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*execution.Session, error) {
	var sess execution.Session
	var mode, status string
	var awaiting sql.NullString
	var endedAt sql.NullTime
	var durationMS int64

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Command, &sess.Intent, &mode, &status,
		&sess.CurrentPhase, &awaiting, &sess.CompletedPhases, &sess.FailedPhases,
		&sess.Progress, &sess.StartedAt, &endedAt, &durationMS,
	)
	if err != nil {
		return nil, err
	}

	sess.Mode = execution.Mode(mode)
	sess.Status = execution.SessionStatus(status)
	if awaiting.Valid {
		sess.AwaitingPhase = awaiting.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	sess.Duration = time.Duration(durationMS) * time.Millisecond
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
