// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "alice", "First chat"))

	sess, err := s.GetSession(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "First chat", sess.Title)
	assert.Equal(t, "alice", sess.OwnerID)
}

func TestGetSession_OwnershipEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "alice", "Private"))

	_, err := s.GetSession(ctx, "s1", "mallory")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSession(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "alice", "Older"))
	require.NoError(t, s.CreateSession(ctx, "s2", "alice", "Newer"))
	require.NoError(t, s.CreateSession(ctx, "s3", "bob", "Not alice's"))

	// Touching the older session moves it to the top.
	require.NoError(t, s.TouchSession(ctx, "s1"))

	sessions, err := s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "s2", sessions[1].ID)
}

func TestMessages_OrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "alice", "Chat"))
	require.NoError(t, s.AppendMessage(ctx, "s1", datatypes.RoleUser, "q1"))
	require.NoError(t, s.AppendMessage(ctx, "s1", datatypes.RoleAssistant, "a1"))
	require.NoError(t, s.AppendMessage(ctx, "s1", datatypes.RoleUser, "q2"))

	messages, err := s.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "q1", messages[0].Content)
	assert.Equal(t, "a1", messages[1].Content)
	assert.Equal(t, "q2", messages[2].Content)
	assert.True(t, messages[0].CreatedAt.Before(messages[2].CreatedAt))
}

func TestListMessages_EmptySession(t *testing.T) {
	s := newTestStore(t)

	messages, err := s.ListMessages(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDocumentText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, "d1", "alice", "notes.txt", "extracted content"))

	text, err := s.DocumentText(ctx, "d1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "extracted content", text)

	_, err = s.DocumentText(ctx, "d1", "mallory")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.DocumentText(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
