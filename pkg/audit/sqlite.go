package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	args, err := encodeArguments(event.Arguments)
	if err != nil {
		return err
	}
	var started int64
	if !event.StartedAt.IsZero() {
		started = event.StartedAt.UTC().UnixNano()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_audit_events (
			run_id, agent, turn, tool, arguments_json, outcome, kind, message, started_at, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Agent,
		event.Turn,
		event.Tool,
		string(args),
		event.Outcome,
		event.Kind,
		event.Message,
		started,
		int64(event.Duration),
	)
	return err
}

// List returns audit events matching the filter.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT run_id, agent, turn, tool, arguments_json, outcome, kind, message, started_at, duration_ns
		FROM tool_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Agent != "" {
		addFilter("agent = ?", filter.Agent)
	}
	if filter.Tool != "" {
		addFilter("tool = ?", filter.Tool)
	}
	if filter.Outcome != "" {
		addFilter("outcome = ?", filter.Outcome)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			argsJSON string
			started  int64
			duration int64
		)
		if err := rows.Scan(
			&event.RunID,
			&event.Agent,
			&event.Turn,
			&event.Tool,
			&argsJSON,
			&event.Outcome,
			&event.Kind,
			&event.Message,
			&started,
			&duration,
		); err != nil {
			return nil, err
		}
		if decoded, err := decodeArguments([]byte(argsJSON)); err == nil {
			event.Arguments = decoded
		}
		if started != 0 {
			event.StartedAt = time.Unix(0, started).UTC()
		}
		event.Duration = time.Duration(duration)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tool_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL DEFAULT '',
			agent TEXT NOT NULL,
			turn INTEGER NOT NULL DEFAULT 0,
			tool TEXT NOT NULL,
			arguments_json TEXT,
			outcome TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_audit_run ON tool_audit_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_audit_agent ON tool_audit_events(agent)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
