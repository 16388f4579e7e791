// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/middleware"
	"github.com/kairolabs/kairo-server/services/orchestrator/observability"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
)

// ChatsHandler serves GET /v1/chats: the caller's sessions, most recently
// updated first.
type ChatsHandler struct {
	store  store.ChatStore
	logger *slog.Logger
}

// NewChatsHandler wires the handler. The store is required.
func NewChatsHandler(chatStore store.ChatStore) *ChatsHandler {
	if chatStore == nil {
		panic("NewChatsHandler: store is required")
	}
	return &ChatsHandler{
		store:  chatStore,
		logger: slog.Default().With("component", "chats_handler"),
	}
}

// HandleListChats returns the caller's session list.
func (h *ChatsHandler) HandleListChats(c *gin.Context) {
	metrics := observability.DefaultMetrics()

	auth := middleware.GetAuthInfo(c)
	if auth == nil {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChats, observability.ErrCodeUnauthorized).Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessions, err := h.store.ListSessions(c.Request.Context(), auth.UserID)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChats, observability.ErrCodePersistence).Inc()
		h.logger.Error("session list failed", "user_id", auth.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal storage error"})
		return
	}
	if sessions == nil {
		sessions = []datatypes.Session{}
	}

	metrics.RequestsTotal.WithLabelValues(observability.EndpointChats, strconv.Itoa(http.StatusOK)).Inc()
	c.JSON(http.StatusOK, gin.H{"chats": sessions})
}
