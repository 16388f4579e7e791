// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

// schema creates the three tables on first open. Timestamps are stored as
// unix nanoseconds so message ordering is stable even within one
// millisecond.
const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner_updated
	ON chat_sessions(owner_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created
	ON chat_messages(session_id, created_at ASC);

CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
`

// SQLiteStore implements ChatStore on an embedded SQLite database.
//
// # Thread Safety
//
// database/sql serializes access to the connection pool; the store itself
// holds no mutable state.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ ChatStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite is single-writer; cap the pool to avoid lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateSession inserts a new session owned by ownerID.
func (s *SQLiteStore) CreateSession(ctx context.Context, id, ownerID, title string) error {
	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, owner_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, title, now, now)
	if err != nil {
		return &PersistenceError{Op: "create_session", Err: err}
	}
	return nil
}

// GetSession returns the session if the caller owns it, ErrNotFound
// otherwise.
func (s *SQLiteStore) GetSession(ctx context.Context, id, ownerID string) (*datatypes.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, updated_at FROM chat_sessions
		 WHERE id = ? AND owner_id = ?`,
		id, ownerID)

	var sess datatypes.Session
	var updated int64
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get_session", Err: err}
	}
	sess.UpdatedAt = time.Unix(0, updated)
	return &sess, nil
}

// ListSessions returns the caller's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string) ([]datatypes.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, updated_at FROM chat_sessions
		 WHERE owner_id = ? ORDER BY updated_at DESC`,
		ownerID)
	if err != nil {
		return nil, &PersistenceError{Op: "list_sessions", Err: err}
	}
	defer rows.Close()

	var sessions []datatypes.Session
	for rows.Next() {
		var sess datatypes.Session
		var updated int64
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &updated); err != nil {
			return nil, &PersistenceError{Op: "list_sessions", Err: err}
		}
		sess.UpdatedAt = time.Unix(0, updated)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list_sessions", Err: err}
	}
	return sessions, nil
}

// TouchSession bumps updated_at to now.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), id)
	if err != nil {
		return &PersistenceError{Op: "touch_session", Err: err}
	}
	return nil
}

// ListMessages returns the session log in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]datatypes.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
		 WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "list_messages", Err: err}
	}
	defer rows.Close()

	var messages []datatypes.StoredMessage
	for rows.Next() {
		var msg datatypes.StoredMessage
		var created int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &created); err != nil {
			return nil, &PersistenceError{Op: "list_messages", Err: err}
		}
		msg.CreatedAt = time.Unix(0, created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list_messages", Err: err}
	}
	return messages, nil
}

// AppendMessage inserts one message row at the tail of the session log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, role, content, time.Now().UnixNano())
	if err != nil {
		return &PersistenceError{Op: "append_message", Err: err}
	}
	return nil
}

// PutDocument upserts a document row. Used by the ingestion collaborator and
// by tests; not part of the ChatStore interface the pipeline consumes.
func (s *SQLiteStore) PutDocument(ctx context.Context, id, ownerID, name, extractedText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, name, extracted_text, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			extracted_text = excluded.extracted_text`,
		id, ownerID, name, extractedText, time.Now().UnixNano())
	if err != nil {
		return &PersistenceError{Op: "put_document", Err: err}
	}
	return nil
}

// DocumentText returns the extracted text of a caller-owned document.
func (s *SQLiteStore) DocumentText(ctx context.Context, documentID, ownerID string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT extracted_text FROM documents WHERE id = ? AND owner_id = ?`,
		documentID, ownerID)

	var text string
	if err := row.Scan(&text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", &PersistenceError{Op: "document_text", Err: err}
	}
	return text, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
