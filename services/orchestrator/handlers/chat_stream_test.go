// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairolabs/kairo-server/services/llm"
	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/middleware"
	"github.com/kairolabs/kairo-server/services/orchestrator/rag"
	"github.com/kairolabs/kairo-server/services/orchestrator/ratelimit"
	"github.com/kairolabs/kairo-server/services/orchestrator/services"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Mocks
// =============================================================================

// streamingMockLLM streams a fixed token list and records what it was asked.
type streamingMockLLM struct {
	tokens       []string
	streamErr    error
	gotSystem    string
	gotMessages  []datatypes.Message
	gotParams    llm.GenerationParams
	streamCalled bool
}

var _ llm.LLMClient = (*streamingMockLLM)(nil)

func (m *streamingMockLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return strings.Join(m.tokens, ""), nil
}

func (m *streamingMockLLM) ChatStream(_ context.Context, system string, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	m.streamCalled = true
	m.gotSystem = system
	m.gotMessages = messages
	m.gotParams = params
	for _, tok := range m.tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	return m.streamErr
}

// nopDescriber keeps handler tests independent of the vision backends.
type nopDescriber struct{}

func (nopDescriber) Describe(_ context.Context, _ datatypes.Attachment) string { return "mock image" }

func (nopDescriber) DescribeAll(_ context.Context, atts []datatypes.Attachment) []string {
	out := make([]string, len(atts))
	for i := range out {
		out[i] = "mock image"
	}
	return out
}

type denyLimiter struct{}

func (denyLimiter) Allow(_ context.Context, _ string) bool { return false }

// =============================================================================
// Helpers
// =============================================================================

type testEnv struct {
	router *gin.Engine
	store  *store.SQLiteStore
	llm    *streamingMockLLM
}

func newTestEnv(t *testing.T, mock *streamingMockLLM, limiter ratelimit.UsageLimiter) *testEnv {
	t.Helper()

	chatStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { chatStore.Close() })

	pipeline := services.NewChatPipeline(chatStore, nopDescriber{}, rag.NewStoreRetriever(chatStore))
	handler := NewChatStreamHandler(
		pipeline,
		services.NewTurnRecorder(chatStore),
		mock,
		limiter,
		0.7,
		time.Minute,
	)

	provider, err := middleware.NewStaticTokenProvider(
		`{"tok-alice":{"user_id":"alice","name":"Alice","instructions":"Be brief."}}`)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/chat/stream", middleware.AuthMiddleware(provider), handler.HandleChatStream)

	return &testEnv{router: router, store: chatStore, llm: mock}
}

func (e *testEnv) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-alice")
	e.router.ServeHTTP(rec, req)
	return rec
}

// requireAssistantRow polls until the asynchronous write-back lands.
func requireAssistantRow(t *testing.T, chatStore *store.SQLiteStore, sessionID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		messages, err := chatStore.ListMessages(context.Background(), sessionID)
		if err != nil || len(messages) == 0 {
			return false
		}
		tail := messages[len(messages)-1]
		return tail.Role == datatypes.RoleAssistant && tail.Content == want
	}, 3*time.Second, 20*time.Millisecond, "assistant turn never persisted")
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleChatStream_HappyPath(t *testing.T) {
	mock := &streamingMockLLM{tokens: []string{"Hello", " there", "!"}}
	env := newTestEnv(t, mock, ratelimit.NopLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[{"role":"user","content":"Hi Kairo"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	sessionID := rec.Header().Get("X-Chat-Id")
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "X-Chat-Id", rec.Header().Get("Access-Control-Expose-Headers"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, `"content":"Hello"`)
	assert.Contains(t, body, `"content":" there"`)
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, fmt.Sprintf(`"session_id":"%s"`, sessionID))

	// System prompt carries the caller's profile.
	assert.Contains(t, mock.gotSystem, "You are Kairo, an evolving intelligence AI.")
	assert.Contains(t, mock.gotSystem, "The user's name is Alice.")
	assert.Contains(t, mock.gotSystem, "Be brief.")
	require.NotNil(t, mock.gotParams.Temperature)
	assert.InDelta(t, 0.7, *mock.gotParams.Temperature, 0.001)

	// Session row and both transcript rows exist.
	sess, err := env.store.GetSession(context.Background(), sessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Hi Kairo", sess.Title)

	requireAssistantRow(t, env.store, sessionID, "Hello there!")

	messages, err := env.store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, datatypes.RoleUser, messages[0].Role)
	assert.Equal(t, "Hi Kairo", messages[0].Content)
}

func TestHandleChatStream_SecondTurnReusesSession(t *testing.T) {
	mock := &streamingMockLLM{tokens: []string{"answer one"}}
	env := newTestEnv(t, mock, ratelimit.NopLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[{"role":"user","content":"first"}]}`)
	sessionID := rec.Header().Get("X-Chat-Id")
	requireAssistantRow(t, env.store, sessionID, "answer one")

	mock.tokens = []string{"answer two"}
	rec = env.post(t, fmt.Sprintf(
		`{"chatId":"%s","messages":[{"role":"user","content":"second"}]}`, sessionID))

	assert.Equal(t, sessionID, rec.Header().Get("X-Chat-Id"))

	// Model saw the full reconciled history.
	require.Len(t, mock.gotMessages, 3)
	assert.Equal(t, "first", mock.gotMessages[0].Content.ExtractText())
	assert.Equal(t, "answer one", mock.gotMessages[1].Content.ExtractText())
	assert.Equal(t, "second", mock.gotMessages[2].Content.ExtractText())
}

func TestHandleChatStream_Unauthorized(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{}, ratelimit.NopLimiter{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer wrong-token")
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.llm.streamCalled)
}

func TestHandleChatStream_InvalidBody(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{}, ratelimit.NopLimiter{})

	rec := env.post(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatStream_EmptyMessages(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{}, ratelimit.NopLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.llm.streamCalled)
}

func TestHandleChatStream_EmptySequenceKeepsChatIDHeader(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{}, ratelimit.NopLimiter{})

	// An assistant-only tail on a fresh session normalizes to nothing.
	rec := env.post(t, `{"chatId":"new","messages":[{"role":"assistant","content":"orphan"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no messages to process")
	assert.NotEmpty(t, rec.Header().Get("X-Chat-Id"))
	assert.False(t, env.llm.streamCalled)
}

func TestHandleChatStream_RateLimited(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{}, denyLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, env.llm.streamCalled)
}

func TestHandleChatStream_LLMFailureEmitsErrorEvent(t *testing.T) {
	mock := &streamingMockLLM{
		tokens:    []string{"partial"},
		streamErr: errors.New("upstream exploded"),
	}
	env := newTestEnv(t, mock, ratelimit.NopLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[{"role":"user","content":"hi"}]}`)
	sessionID := rec.Header().Get("X-Chat-Id")

	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
	assert.NotContains(t, body, "upstream exploded", "internal error details must not leak")
	assert.NotContains(t, body, "event: done")

	// The failed turn is not persisted.
	time.Sleep(100 * time.Millisecond)
	messages, err := env.store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, datatypes.RoleUser, messages[0].Role)
}

func TestHandleChatStream_RetryDoesNotDuplicateUserRow(t *testing.T) {
	mock := &streamingMockLLM{tokens: []string{"ok"}}
	env := newTestEnv(t, mock, ratelimit.NopLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[{"role":"user","content":"once"}]}`)
	sessionID := rec.Header().Get("X-Chat-Id")
	requireAssistantRow(t, env.store, sessionID, "ok")

	// Simulate a client retry carrying the same tail after the assistant
	// row landed: a fresh user row is appended because the tail moved on.
	rec = env.post(t, fmt.Sprintf(
		`{"chatId":"%s","messages":[{"role":"user","content":"once"}],"isRegenerate":true}`, sessionID))
	assert.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(100 * time.Millisecond)
	messages, err := env.store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)

	userRows := 0
	for _, m := range messages {
		if m.Role == datatypes.RoleUser {
			userRows++
		}
	}
	assert.Equal(t, 1, userRows, "regenerate must not re-persist the user turn")
}

func TestHandleChatStream_HashChainLinksEvents(t *testing.T) {
	mock := &streamingMockLLM{tokens: []string{"a", "b"}}
	env := newTestEnv(t, mock, ratelimit.NopLimiter{})

	rec := env.post(t, `{"chatId":"new","messages":[{"role":"user","content":"hi"}]}`)

	body := rec.Body.String()
	// Every event after the first must reference a previous hash.
	assert.GreaterOrEqual(t, strings.Count(body, `"prev_hash":"`), 3)
}
