// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires HTTP routes to handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kairolabs/kairo-server/services/orchestrator/handlers"
	"github.com/kairolabs/kairo-server/services/orchestrator/middleware"
)

// Handlers bundles everything SetupRoutes needs.
type Handlers struct {
	ChatStream *handlers.ChatStreamHandler
	Chats      *handlers.ChatsHandler
	Auth       middleware.AuthProvider
}

// SetupRoutes registers all routes on the router.
//
// /health and /metrics are unauthenticated; everything under /v1 passes
// through the auth middleware.
func SetupRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(h.Auth))
	{
		v1.POST("/chat/stream", h.ChatStream.HandleChatStream)
		v1.GET("/chats", h.Chats.HandleListChats)
	}
}
