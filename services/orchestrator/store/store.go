// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists chat sessions, messages, and document text.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

// ErrNotFound is returned when a requested session or document does not
// exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a storage failure with the operation that caused it.
// Handlers map these to HTTP 500; vision and retrieval failures never take
// this form.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ChatStore is the durable backing for sessions and their message logs.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by request handlers and
// the write-back recorder.
type ChatStore interface {
	// CreateSession inserts a new session owned by ownerID.
	CreateSession(ctx context.Context, id, ownerID, title string) error

	// GetSession returns the session with the given id if ownerID owns it.
	// Returns ErrNotFound otherwise.
	GetSession(ctx context.Context, id, ownerID string) (*datatypes.Session, error)

	// ListSessions returns the caller's sessions, most recently updated first.
	ListSessions(ctx context.Context, ownerID string) ([]datatypes.Session, error)

	// TouchSession bumps the session's updated_at to now.
	TouchSession(ctx context.Context, id string) error

	// ListMessages returns the session's messages ordered by creation time
	// ascending. The stored order is authoritative.
	ListMessages(ctx context.Context, sessionID string) ([]datatypes.StoredMessage, error)

	// AppendMessage inserts one message row at the tail of the session log.
	AppendMessage(ctx context.Context, sessionID, role, content string) error

	// DocumentText returns the extracted text of a document if ownerID owns
	// it. Returns ErrNotFound when absent.
	DocumentText(ctx context.Context, documentID, ownerID string) (string, error)

	// Close releases the underlying database handle.
	Close() error
}
