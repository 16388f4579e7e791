// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairolabs/kairo-server/services/orchestrator/conversation"
	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
)

// =============================================================================
// Mocks
// =============================================================================

type mockStore struct {
	sessions     map[string]*datatypes.Session
	messages     map[string][]datatypes.StoredMessage
	documents    map[string]string
	appended     []datatypes.StoredMessage
	createErr    error
	listMsgErr   error
	appendErr    error
	touchErr     error
	touchedIDs   []string
	createdCount int
}

var _ store.ChatStore = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		sessions:  make(map[string]*datatypes.Session),
		messages:  make(map[string][]datatypes.StoredMessage),
		documents: make(map[string]string),
	}
}

func (m *mockStore) CreateSession(_ context.Context, id, ownerID, title string) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.createdCount++
	m.sessions[id] = &datatypes.Session{ID: id, OwnerID: ownerID, Title: title}
	return nil
}

func (m *mockStore) GetSession(_ context.Context, id, ownerID string) (*datatypes.Session, error) {
	sess, ok := m.sessions[id]
	if !ok || sess.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

func (m *mockStore) ListSessions(_ context.Context, ownerID string) ([]datatypes.Session, error) {
	var out []datatypes.Session
	for _, sess := range m.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (m *mockStore) TouchSession(_ context.Context, id string) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	m.touchedIDs = append(m.touchedIDs, id)
	return nil
}

func (m *mockStore) ListMessages(_ context.Context, sessionID string) ([]datatypes.StoredMessage, error) {
	if m.listMsgErr != nil {
		return nil, m.listMsgErr
	}
	return m.messages[sessionID], nil
}

func (m *mockStore) AppendMessage(_ context.Context, sessionID, role, content string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	row := datatypes.StoredMessage{SessionID: sessionID, Role: role, Content: content}
	m.messages[sessionID] = append(m.messages[sessionID], row)
	m.appended = append(m.appended, row)
	return nil
}

func (m *mockStore) DocumentText(_ context.Context, documentID, _ string) (string, error) {
	text, ok := m.documents[documentID]
	if !ok {
		return "", store.ErrNotFound
	}
	return text, nil
}

func (m *mockStore) Close() error { return nil }

type mockDescriber struct {
	descriptions []string
	calls        int
}

func (d *mockDescriber) Describe(_ context.Context, _ datatypes.Attachment) string {
	d.calls++
	return "mock description"
}

func (d *mockDescriber) DescribeAll(_ context.Context, atts []datatypes.Attachment) []string {
	d.calls += len(atts)
	out := make([]string, len(atts))
	for i := range atts {
		if i < len(d.descriptions) {
			out[i] = d.descriptions[i]
		} else {
			out[i] = fmt.Sprintf("description %d", i+1)
		}
	}
	return out
}

type mockRetriever struct {
	context string
}

func (r *mockRetriever) Retrieve(_ context.Context, documentID, _ string) string {
	if documentID == "" {
		return ""
	}
	return r.context
}

// =============================================================================
// Helpers
// =============================================================================

func newTestPipeline(t *testing.T, st *mockStore) (*ChatPipeline, *mockDescriber) {
	t.Helper()
	desc := &mockDescriber{}
	return NewChatPipeline(st, desc, &mockRetriever{context: "doc context"}), desc
}

func userRequest(chatID string, text string) *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		ChatID: chatID,
		Messages: []datatypes.Message{
			{Role: datatypes.RoleUser, Content: datatypes.TextContent(text)},
		},
	}
}

func seedSession(st *mockStore, id, owner string, rows ...datatypes.StoredMessage) {
	st.sessions[id] = &datatypes.Session{ID: id, OwnerID: owner, Title: "seeded"}
	st.messages[id] = rows
}

// =============================================================================
// Tests
// =============================================================================

func TestPrepare_CreatesNewSession(t *testing.T) {
	st := newMockStore()
	pipeline, _ := newTestPipeline(t, st)

	result, err := pipeline.Prepare(context.Background(), "alice", userRequest("new", "Hello there"))

	require.NoError(t, err)
	assert.True(t, result.SessionCreated)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "Hello there", st.sessions[result.SessionID].Title)

	require.Len(t, result.Sequence, 1)
	assert.Equal(t, datatypes.RoleUser, result.Sequence[0].Role)
	assert.Equal(t, "Hello there", result.Sequence[0].Content.ExtractText())

	// The user turn was persisted.
	require.Len(t, st.appended, 1)
	assert.Equal(t, datatypes.RoleUser, st.appended[0].Role)
	assert.Equal(t, "Hello there", st.appended[0].Content)
}

func TestPrepare_EmptyChatIDCreatesSession(t *testing.T) {
	st := newMockStore()
	pipeline, _ := newTestPipeline(t, st)

	result, err := pipeline.Prepare(context.Background(), "alice", userRequest("", "Hi"))

	require.NoError(t, err)
	assert.True(t, result.SessionCreated)
}

func TestPrepare_ReusesExistingSession(t *testing.T) {
	st := newMockStore()
	seedSession(st, "s1", "alice",
		datatypes.StoredMessage{Role: datatypes.RoleUser, Content: "q1"},
		datatypes.StoredMessage{Role: datatypes.RoleAssistant, Content: "a1"},
	)
	pipeline, _ := newTestPipeline(t, st)

	result, err := pipeline.Prepare(context.Background(), "alice", userRequest("s1", "q2"))

	require.NoError(t, err)
	assert.False(t, result.SessionCreated)
	assert.Equal(t, "s1", result.SessionID)

	require.Len(t, result.Sequence, 3)
	assert.Equal(t, "q1", result.Sequence[0].Content.ExtractText())
	assert.Equal(t, "a1", result.Sequence[1].Content.ExtractText())
	assert.Equal(t, "q2", result.Sequence[2].Content.ExtractText())
}

func TestPrepare_ForeignChatIDGetsFreshSession(t *testing.T) {
	st := newMockStore()
	seedSession(st, "s1", "bob")
	pipeline, _ := newTestPipeline(t, st)

	result, err := pipeline.Prepare(context.Background(), "alice", userRequest("s1", "Hi"))

	require.NoError(t, err)
	assert.True(t, result.SessionCreated)
	assert.NotEqual(t, "s1", result.SessionID)
}

func TestPrepare_DeduplicatesRecordedTail(t *testing.T) {
	st := newMockStore()
	seedSession(st, "s1", "alice",
		datatypes.StoredMessage{Role: datatypes.RoleUser, Content: "retry me"},
	)
	pipeline, _ := newTestPipeline(t, st)

	result, err := pipeline.Prepare(context.Background(), "alice", userRequest("s1", "retry me"))

	require.NoError(t, err)
	assert.Empty(t, st.appended, "already-recorded turn must not be re-persisted")
	require.Len(t, result.Sequence, 1)
	assert.Equal(t, "retry me", result.Sequence[0].Content.ExtractText())
}

func TestPrepare_RegenerateSkipsPersist(t *testing.T) {
	st := newMockStore()
	seedSession(st, "s1", "alice",
		datatypes.StoredMessage{Role: datatypes.RoleUser, Content: "original"},
	)
	pipeline, _ := newTestPipeline(t, st)

	req := userRequest("s1", "original")
	req.IsRegenerate = true

	_, err := pipeline.Prepare(context.Background(), "alice", req)

	require.NoError(t, err)
	assert.Empty(t, st.appended)
}

func TestPrepare_VisionAugmentation(t *testing.T) {
	st := newMockStore()
	pipeline, desc := newTestPipeline(t, st)
	desc.descriptions = []string{"A cat."}

	req := userRequest("new", "look at this")
	req.Messages[0].Attachments = []datatypes.Attachment{
		{ContentType: "image/png", URL: "data:image/png;base64,AAAA"},
	}

	result, err := pipeline.Prepare(context.Background(), "alice", req)

	require.NoError(t, err)
	want := "look at this\n\n[The user has shared 1 image(s). Here is the visual analysis from Sarvam Vision:]\nImage 1:\nA cat."
	assert.Equal(t, want, result.Sequence[len(result.Sequence)-1].Content.ExtractText())

	// The persisted user row carries the raw text, not the augmented one.
	require.Len(t, st.appended, 1)
	assert.Equal(t, "look at this", st.appended[0].Content)
}

func TestPrepare_ImageOnlyMessageGetsStem(t *testing.T) {
	st := newMockStore()
	pipeline, desc := newTestPipeline(t, st)
	desc.descriptions = []string{"A dog."}

	req := userRequest("new", "")
	req.Messages[0].Attachments = []datatypes.Attachment{
		{ContentType: "image/png", URL: "data:image/png;base64,AAAA"},
	}

	result, err := pipeline.Prepare(context.Background(), "alice", req)

	require.NoError(t, err)
	tail := result.Sequence[len(result.Sequence)-1].Content.ExtractText()
	assert.Contains(t, tail, "Attached images.")
	assert.Contains(t, tail, "A dog.")
}

func TestPrepare_NonImageAttachmentsSkipVision(t *testing.T) {
	st := newMockStore()
	pipeline, desc := newTestPipeline(t, st)

	req := userRequest("new", "read this pdf")
	req.Messages[0].Attachments = []datatypes.Attachment{
		{ContentType: "application/pdf", URL: "data:application/pdf;base64,AAAA"},
	}

	result, err := pipeline.Prepare(context.Background(), "alice", req)

	require.NoError(t, err)
	assert.Zero(t, desc.calls)
	assert.Equal(t, "read this pdf", result.Sequence[0].Content.ExtractText())
}

func TestPrepare_HistoryLoadFailureDegrades(t *testing.T) {
	st := newMockStore()
	seedSession(st, "s1", "alice")
	st.listMsgErr = &store.PersistenceError{Op: "list_messages", Err: errors.New("disk on fire")}
	pipeline, _ := newTestPipeline(t, st)

	result, err := pipeline.Prepare(context.Background(), "alice", userRequest("s1", "still works"))

	require.NoError(t, err)
	require.Len(t, result.Sequence, 1)
	assert.Equal(t, "still works", result.Sequence[0].Content.ExtractText())
}

func TestPrepare_SessionCreateFailureIsFatal(t *testing.T) {
	st := newMockStore()
	st.createErr = &store.PersistenceError{Op: "create_session", Err: errors.New("disk full")}
	pipeline, _ := newTestPipeline(t, st)

	_, err := pipeline.Prepare(context.Background(), "alice", userRequest("new", "Hi"))

	var perr *store.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create_session", perr.Op)
}

func TestPrepare_UserAppendFailureIsFatal(t *testing.T) {
	st := newMockStore()
	st.appendErr = &store.PersistenceError{Op: "append_message", Err: errors.New("disk full")}
	pipeline, _ := newTestPipeline(t, st)

	_, err := pipeline.Prepare(context.Background(), "alice", userRequest("new", "Hi"))

	var perr *store.PersistenceError
	require.ErrorAs(t, err, &perr)
}

func TestPrepare_AssistantTailWithEmptyHistory(t *testing.T) {
	st := newMockStore()
	pipeline, _ := newTestPipeline(t, st)

	req := &datatypes.ChatRequest{
		ChatID: "new",
		Messages: []datatypes.Message{
			{Role: datatypes.RoleAssistant, Content: datatypes.TextContent("orphan")},
		},
	}

	result, err := pipeline.Prepare(context.Background(), "alice", req)
	assert.ErrorIs(t, err, conversation.ErrEmptySequence)

	// The resolved session still comes back so handlers can expose its id.
	require.NotNil(t, result)
	assert.NotEmpty(t, result.SessionID)
}

func TestPrepare_RetrievesDocumentContext(t *testing.T) {
	st := newMockStore()
	pipeline, _ := newTestPipeline(t, st)

	req := userRequest("new", "summarize")
	req.DocumentID = "d1"

	result, err := pipeline.Prepare(context.Background(), "alice", req)

	require.NoError(t, err)
	assert.Equal(t, "doc context", result.RAGContext)

	req.DocumentID = ""
	result, err = pipeline.Prepare(context.Background(), "alice", req)
	require.NoError(t, err)
	assert.Empty(t, result.RAGContext)
}
