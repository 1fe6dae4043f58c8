package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/curatord/internal/events"
)

// InsertEvent appends an execution event to the session's log.
func (s *Store) InsertEvent(ctx context.Context, e events.Event) error {
	var payload sql.NullString
	if len(e.Data) > 0 {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_events (session_id, type, phase_id, phase_name, agent, message, payload, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Type), nullString(e.PhaseID), nullString(e.Phase), nullString(e.Agent),
		nullString(e.Message), payload, nullString(e.Error), ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return nil
}

// ListEvents returns a session's events in emission order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, type, phase_id, phase_name, agent, message, payload, error, created_at
		 FROM execution_events WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var typ string
		var phaseID, phase, agent, message, payload, errMsg sql.NullString

		if err := rows.Scan(&e.SessionID, &typ, &phaseID, &phase, &agent, &message, &payload, &errMsg, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Type = events.EventType(typ)
		e.PhaseID = phaseID.String
		e.Phase = phase.String
		e.Agent = agent.String
		e.Message = message.String
		e.Error = errMsg.String
		if payload.Valid {
			var data map[string]any
			if err := json.Unmarshal([]byte(payload.String), &data); err == nil {
				e.Data = data
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
