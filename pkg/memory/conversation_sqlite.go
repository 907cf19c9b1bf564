package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func sanitizeTableName(table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// SQLiteConversation implements ConversationMemory on the simulation database,
// so transcripts survive the run next to the platform data.
type SQLiteConversation struct {
	db     *sql.DB
	table  string
	config ConversationConfig
}

// SQLiteConfig configures the SQLite conversation store.
type SQLiteConfig struct {
	// DB is the database connection. Required.
	DB *sql.DB
	// TableName is the table to use. Default: "agent_transcripts".
	TableName string
	// ConversationConfig for truncation and the clock.
	ConversationConfig ConversationConfig
}

// NewSQLiteConversation creates a SQLite conversation store and ensures its
// table exists.
func NewSQLiteConversation(ctx context.Context, cfg SQLiteConfig) (*SQLiteConversation, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	table := cfg.TableName
	if table == "" {
		table = "agent_transcripts"
	}
	table, err := sanitizeTableName(table)
	if err != nil {
		return nil, err
	}
	c := &SQLiteConversation{db: cfg.DB, table: table, config: cfg.ConversationConfig}
	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SQLiteConversation) initialize(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT,
			tool_name TEXT,
			turn INTEGER NOT NULL DEFAULT 0,
			metadata_json TEXT,
			created_at INTEGER NOT NULL
		)`, c.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id, seq)`, c.table, c.table),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage adds a message to the conversation.
func (c *SQLiteConversation) AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.config.now()
	}

	var metadata sql.NullString
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, role, content, tool_call_id, tool_name, turn, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.table)
	_, err := c.db.ExecContext(ctx, query,
		msg.ID,
		sessionID,
		msg.Role,
		msg.Content,
		sql.NullString{String: msg.ToolCallID, Valid: msg.ToolCallID != ""},
		sql.NullString{String: msg.ToolName, Valid: msg.ToolName != ""},
		msg.Turn,
		metadata,
		msg.CreatedAt.UTC().UnixNano(),
	)
	return err
}

// GetMessages retrieves all messages for a session.
func (c *SQLiteConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, role, content, tool_call_id, tool_name, turn, metadata_json, created_at
		FROM %s
		WHERE session_id = ?
		ORDER BY seq ASC
	`, c.table)
	messages, err := c.queryMessages(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	if c.config.TruncationStrategy != nil && len(messages) > 0 {
		return c.config.TruncationStrategy.Truncate(ctx, messages)
	}
	return messages, nil
}

// GetRecentMessages retrieves the last limit messages for a session, minus
// tool results whose request is older than the window.
func (c *SQLiteConversation) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		return c.GetMessages(ctx, sessionID)
	}
	query := fmt.Sprintf(`
		SELECT id, session_id, role, content, tool_call_id, tool_name, turn, metadata_json, created_at
		FROM (
			SELECT seq, id, session_id, role, content, tool_call_id, tool_name, turn, metadata_json, created_at
			FROM %s
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) sub
		ORDER BY seq ASC
	`, c.table)
	msgs, err := c.queryMessages(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return trimOrphanToolMessages(msgs), nil
}

// Clear removes all messages for a session.
func (c *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, c.table), sessionID)
	return err
}

// ListSessions returns all session IDs, sorted.
func (c *SQLiteConversation) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT session_id FROM %s ORDER BY session_id`, c.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

func (c *SQLiteConversation) queryMessages(ctx context.Context, query string, args ...any) ([]ConversationMessage, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var (
			msg        ConversationMessage
			toolCallID sql.NullString
			toolName   sql.NullString
			metadata   sql.NullString
			created    int64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Role,
			&msg.Content,
			&toolCallID,
			&toolName,
			&msg.Turn,
			&metadata,
			&created,
		); err != nil {
			return nil, err
		}
		msg.ToolCallID = toolCallID.String
		msg.ToolName = toolName.String
		msg.CreatedAt = time.Unix(0, created).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				msg.Metadata = nil
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
