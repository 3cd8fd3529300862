// Package memory persists gated events and turn lifecycle markers. Every
// call from the core is fail-open: an error is logged and the main path
// proceeds.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/murphys7017/mk2/internal/observation"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	obs_id TEXT NOT NULL,
	obs_type TEXT NOT NULL,
	session_key TEXT NOT NULL,
	actor_id TEXT,
	source_name TEXT NOT NULL,
	payload TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_key);
CREATE INDEX IF NOT EXISTS idx_events_obs ON events(obs_id);

CREATE TABLE IF NOT EXISTS turns (
	turn_id TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	input_event_id TEXT NOT NULL,
	plan TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	error_message TEXT,
	final_output_obs_id TEXT,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key);
`

// TurnStatus values accepted by FinishTurn.
const (
	TurnOK    = "ok"
	TurnError = "error"
)

// EventRecord is one stored event row.
type EventRecord struct {
	EventID    string
	ObsID      string
	ObsType    string
	SessionKey string
	ActorID    string
	SourceName string
	Payload    string
	CreatedAt  time.Time
}

// Service is the sqlite-backed store behind the memory hooks.
type Service struct {
	db *sql.DB
}

// NewService opens (and migrates) the store at dbPath.
func NewService(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}
	return &Service{db: db}, nil
}

// AppendEvent stores one observation and returns the event id.
func (s *Service) AppendEvent(obs *observation.Observation) (string, error) {
	payload, err := json.Marshal(obs.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	eventID := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO events (event_id, obs_id, obs_type, session_key, actor_id, source_name, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, obs.ObsID, string(obs.Type), obs.SessionKey, obs.Actor.ActorID, obs.SourceName, string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return eventID, nil
}

// StartTurn opens a turn for a delivered message event.
func (s *Service) StartTurn(sessionKey, inputEventID, plan string) (string, error) {
	turnID := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO turns (turn_id, session_key, input_event_id, plan) VALUES (?, ?, ?, ?)`,
		turnID, sessionKey, inputEventID, plan,
	)
	if err != nil {
		return "", fmt.Errorf("insert turn: %w", err)
	}
	return turnID, nil
}

// FinishTurn closes a turn with its outcome.
func (s *Service) FinishTurn(turnID, status, errorMessage, finalOutputObsID string) error {
	if status != TurnOK && status != TurnError {
		return fmt.Errorf("invalid turn status: %q", status)
	}
	_, err := s.db.Exec(
		`UPDATE turns SET status = ?, error_message = ?, final_output_obs_id = ?, finished_at = CURRENT_TIMESTAMP WHERE turn_id = ?`,
		status, errorMessage, finalOutputObsID, turnID,
	)
	if err != nil {
		return fmt.Errorf("finish turn: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events for a session, newest first.
func (s *Service) RecentEvents(sessionKey string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT event_id, obs_id, obs_type, session_key, COALESCE(actor_id, ''), source_name, COALESCE(payload, ''), created_at
		 FROM events WHERE session_key = ? ORDER BY created_at DESC LIMIT ?`,
		sessionKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.EventID, &rec.ObsID, &rec.ObsType, &rec.SessionKey, &rec.ActorID, &rec.SourceName, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close flushes and closes the store.
func (s *Service) Close() error {
	return s.db.Close()
}
