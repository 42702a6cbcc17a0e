package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"

	"github.com/inercia/go-toolloop/pkg/llm"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	body       TEXT    NOT NULL,
	PRIMARY KEY (session_id, seq)
)`

// SQLite persists histories in a SQLite database. Each message is stored as
// its JSON encoding, ordered by a per-session sequence number.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// a single connection serializes writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append adds msg at the end of the session history
func (s *SQLite) Append(ctx context.Context, sessionID string, msg llm.ChatMessage) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&next)
	if err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, role, body) VALUES (?, ?, ?, ?)`,
		sessionID, next, string(msg.Role), string(body))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return tx.Commit()
}

// List returns the session history, oldest first
func (s *SQLite) List(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	msgs := []llm.ChatMessage{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		var msg llm.ChatMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Clear drops the session history
func (s *SQLite) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Close releases the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
