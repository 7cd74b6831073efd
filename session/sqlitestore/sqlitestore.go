// Package sqlitestore provides SQLite-backed persistence for conversation
// sessions.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MegaGrindStone/go-mcp-client/session"
)

// SQLiteStore implements session.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration

	now func() time.Time
}

// New opens a SQLite-backed store at the given path. Use ":memory:" for an
// in-memory database. A non-positive ttl falls back to session.DefaultTTL.
func New(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role         TEXT NOT NULL,
    content      TEXT NOT NULL,
    tool_calls   TEXT NOT NULL DEFAULT '[]',
    tool_call_id TEXT NOT NULL DEFAULT '',
    timestamp    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
`
	_, err := s.db.Exec(schema)
	return err
}

func encodeToolCalls(calls []session.ToolCall) (string, error) {
	if len(calls) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeToolCalls(src string, dest *[]session.ToolCall) error {
	if src == "" || src == "[]" {
		*dest = nil
		return nil
	}
	return json.Unmarshal([]byte(src), dest)
}

// Append implements session.Store.
func (s *SQLiteStore) Append(sessionID string, turn session.Turn) error {
	callsJSON, err := encodeToolCalls(turn.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// An expired session starts over rather than resurrecting stale turns.
	expired, err := s.sessionExpired(tx, sessionID)
	if err != nil {
		return err
	}
	if expired {
		if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete expired turns: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO turns (session_id, role, content, tool_calls, tool_call_id, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(turn.Role), turn.Content, callsJSON, turn.ToolCallID, turn.Timestamp,
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO sessions (session_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET expires_at = excluded.expires_at`,
		sessionID, s.now().Add(s.ttl),
	); err != nil {
		return fmt.Errorf("refresh session expiry: %w", err)
	}

	return tx.Commit()
}

// Turns implements session.Store.
func (s *SQLiteStore) Turns(sessionID string) ([]session.Turn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	expired, err := s.sessionExpired(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if expired {
		if err := deleteSession(tx, sessionID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return nil, nil
	}

	rows, err := tx.Query(
		`SELECT role, content, tool_calls, tool_call_id, timestamp FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var t session.Turn
		var roleStr string
		var callsJSON string
		if err := rows.Scan(&roleStr, &t.Content, &callsJSON, &t.ToolCallID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = session.Role(roleStr)
		if err := decodeToolCalls(callsJSON, &t.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// Expire implements session.Store.
func (s *SQLiteStore) Expire(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteSession(tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Close implements session.Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sessionExpired reports whether the session exists but has passed its expiry.
func (s *SQLiteStore) sessionExpired(tx *sql.Tx, sessionID string) (bool, error) {
	var expiresAt time.Time
	err := tx.QueryRow(
		`SELECT expires_at FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query session expiry: %w", err)
	}
	return s.now().After(expiresAt), nil
}

func deleteSession(tx *sql.Tx, sessionID string) error {
	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
