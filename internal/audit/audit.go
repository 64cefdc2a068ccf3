// Package audit records every dispatched tool call in a SQLite ledger.
// Conversation history is not stored here.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome classifies how a tool call ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success" // remote call succeeded
	OutcomeFailure Outcome = "failure" // upstream returned an error payload
	OutcomeInvalid Outcome = "invalid" // arguments rejected, nothing called
	OutcomeError   Outcome = "error"   // the call itself failed
)

// Entry is one recorded tool call.
type Entry struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Outcome   Outcome        `json:"outcome"`
	Detail    string         `json:"detail,omitempty"`
	Duration  time.Duration  `json:"duration"`
	CreatedAt time.Time      `json:"created_at"`
}

const createToolCallsTable = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT,
	session_id TEXT,
	tool TEXT NOT NULL,
	arguments TEXT,
	outcome TEXT NOT NULL,
	detail TEXT,
	duration_ms INTEGER,
	created_at DATETIME
);`

const createSessionIndex = `CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, id);`

// Log is the SQLite-backed tool-call ledger.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path. Use ":memory:" for a throwaway one.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createToolCallsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tool_calls table: %w", err)
	}
	if _, err := db.Exec(createSessionIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tool_calls index: %w", err)
	}
	return &Log{db: db}, nil
}

// Record appends an entry. CreatedAt defaults to now.
func (l *Log) Record(ctx context.Context, e Entry) error {
	args, err := json.Marshal(e.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO tool_calls (request_id, session_id, tool, arguments, outcome, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SessionID, e.Tool, string(args), string(e.Outcome), e.Detail,
		e.Duration.Milliseconds(), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record tool call: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty sessionID means
// every session.
func (l *Log) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, request_id, session_id, tool, arguments, outcome, detail, duration_ms, created_at
		FROM tool_calls`
	params := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		params = append(params, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	params = append(params, limit)

	rows, err := l.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			args       string
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.SessionID, &e.Tool, &args, &outcome, &e.Detail, &durationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &e.Arguments); err != nil {
			return nil, fmt.Errorf("failed to decode arguments of tool call %d: %w", e.ID, err)
		}
		e.Outcome = Outcome(outcome)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tool calls: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
