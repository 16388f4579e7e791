// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the HTTP handlers for the orchestrator service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kairolabs/kairo-server/services/llm"
	"github.com/kairolabs/kairo-server/services/orchestrator/conversation"
	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/middleware"
	"github.com/kairolabs/kairo-server/services/orchestrator/observability"
	"github.com/kairolabs/kairo-server/services/orchestrator/prompt"
	"github.com/kairolabs/kairo-server/services/orchestrator/ratelimit"
	"github.com/kairolabs/kairo-server/services/orchestrator/services"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
)

// handlerTracer is the package-level tracer for handler spans.
var handlerTracer = otel.Tracer("kairo-server/handlers")

const (
	// heartbeatInterval is how often keep-alive comments are written while
	// the stream is open.
	heartbeatInterval = 15 * time.Second

	// chatIDHeader carries the authoritative session id back to the client.
	chatIDHeader = "X-Chat-Id"
)

// ChatStreamHandler serves POST /v1/chat/stream.
//
// # Description
//
// The handler runs the full exchange: authenticate, validate, prepare the
// message sequence through the pipeline, stream model tokens over SSE, and
// hand the drained answer to the turn recorder for durable write-back.
//
// # Thread Safety
//
// Safe for concurrent use; per-request state lives on the stack.
type ChatStreamHandler struct {
	pipeline    *services.ChatPipeline
	recorder    *services.TurnRecorder
	llmClient   llm.LLMClient
	limiter     ratelimit.UsageLimiter
	temperature float32
	deadline    time.Duration
	logger      *slog.Logger
}

// NewChatStreamHandler wires the handler. All dependencies are required.
func NewChatStreamHandler(
	pipeline *services.ChatPipeline,
	recorder *services.TurnRecorder,
	llmClient llm.LLMClient,
	limiter ratelimit.UsageLimiter,
	temperature float32,
	deadline time.Duration,
) *ChatStreamHandler {
	if pipeline == nil {
		panic("NewChatStreamHandler: pipeline is required")
	}
	if recorder == nil {
		panic("NewChatStreamHandler: recorder is required")
	}
	if llmClient == nil {
		panic("NewChatStreamHandler: llm client is required")
	}
	if limiter == nil {
		panic("NewChatStreamHandler: limiter is required")
	}
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	return &ChatStreamHandler{
		pipeline:    pipeline,
		recorder:    recorder,
		llmClient:   llmClient,
		limiter:     limiter,
		temperature: temperature,
		deadline:    deadline,
		logger:      slog.Default().With("component", "chat_stream"),
	}
}

// HandleChatStream processes one streaming chat exchange.
func (h *ChatStreamHandler) HandleChatStream(c *gin.Context) {
	metrics := observability.DefaultMetrics()
	start := time.Now()

	ctx, span := handlerTracer.Start(c.Request.Context(), "chat.stream")
	defer span.End()

	// Step 1: Authenticate.
	auth := middleware.GetAuthInfo(c)
	if auth == nil {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeUnauthorized).Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	span.SetAttributes(attribute.String("chat.user_id", auth.UserID))

	// Step 2: Parse and validate the request.
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeBadRequest).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeBadRequest).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Step 3: Check the usage limiter before any session work.
	if !h.limiter.Allow(ctx, auth.UserID) {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeRateLimited).Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily message limit reached"})
		return
	}

	// Step 4: Prepare the exchange.
	result, err := h.pipeline.Prepare(ctx, auth.UserID, &req)
	if err != nil {
		if result != nil && result.SessionID != "" {
			c.Header(chatIDHeader, result.SessionID)
			c.Header("Access-Control-Expose-Headers", chatIDHeader)
		}
		h.respondPrepareError(c, span, err)
		return
	}
	span.SetAttributes(attribute.String("chat.session_id", result.SessionID))

	// Step 5: Build the system prompt.
	systemPrompt := prompt.BuildSystemPrompt(
		prompt.ParseMode(req.Mode),
		prompt.Profile{Name: auth.Name, About: auth.About, Instructions: auth.Instructions},
		result.RAGContext,
	)

	// Step 6: Expose the authoritative session id, then switch to SSE. The
	// header must be set before the first body write.
	c.Header(chatIDHeader, result.SessionID)
	c.Header("Access-Control-Expose-Headers", chatIDHeader)
	SetSSEHeaders(c.Writer)

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeInternal).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	if err := writer.WriteStatus("Thinking..."); err != nil {
		h.logger.Warn("client gone before first event", "session_id", result.SessionID)
		return
	}

	// Step 7: Heartbeat goroutine keeps the connection alive through slow
	// model spans.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if writer.WriteKeepAlive() == nil {
					metrics.KeepAlivesTotal.Inc()
				}
			case <-heartbeatDone:
				return
			}
		}
	}()

	// Step 8: Stream the model response.
	answer, tokenCount, err := h.streamResponse(c, writer, systemPrompt, result, start)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// Disconnected clients get no write-back; the user never saw
			// the answer, so persisting it would desync the transcript.
			metrics.ClientDisconnectsTotal.Inc()
			h.logger.Info("client disconnected mid-stream",
				"session_id", result.SessionID, "tokens", tokenCount)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm stream failed")
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeLLM).Inc()
		h.logger.Error("llm stream failed", "session_id", result.SessionID, "error", err)
		_ = writer.WriteError("generation failed, please retry")
		return
	}

	metrics.StreamDurationSeconds.Observe(time.Since(start).Seconds())
	metrics.RequestsTotal.WithLabelValues(observability.EndpointChatStream, strconv.Itoa(http.StatusOK)).Inc()

	if err := writer.WriteDone(result.SessionID); err != nil {
		h.logger.Warn("client gone at done event", "session_id", result.SessionID)
		return
	}

	// Step 9: Durable write-back after the stream has fully drained.
	recordDone := h.recorder.Record(result.SessionID, answer)
	go func() {
		if recErr := <-recordDone; recErr != nil {
			h.logger.Error("write-back failed, transcript is missing assistant turn",
				"session_id", result.SessionID, "error", recErr)
		}
	}()

	h.logger.Info("chat stream complete",
		"session_id", result.SessionID,
		"tokens", tokenCount,
		"duration_ms", time.Since(start).Milliseconds(),
		"session_created", result.SessionCreated)
}

// streamResponse runs the model stream, forwarding tokens over SSE and
// accumulating the full answer for write-back.
func (h *ChatStreamHandler) streamResponse(c *gin.Context, writer SSEWriter, systemPrompt string, result *services.PipelineResult, start time.Time) (string, int64, error) {
	var accumulator strings.Builder
	var tokenCount atomic.Int64
	var firstToken time.Time

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deadline)
	defer cancel()

	temp := h.temperature
	params := llm.GenerationParams{Temperature: &temp}

	err := h.llmClient.ChatStream(ctx, systemPrompt, result.Sequence, params, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if tokenCount.Add(1) == 1 {
				firstToken = time.Now()
				observability.DefaultMetrics().TimeToFirstTokenSeconds.Observe(firstToken.Sub(start).Seconds())
			}
			accumulator.WriteString(event.Content)
			return writer.WriteToken(event.Content)
		case llm.StreamEventError:
			return errors.New(event.Error)
		}
		return nil
	})
	return accumulator.String(), tokenCount.Load(), err
}

// respondPrepareError maps pipeline failures onto the HTTP error taxonomy.
func (h *ChatStreamHandler) respondPrepareError(c *gin.Context, span trace.Span, err error) {
	metrics := observability.DefaultMetrics()
	var perr *store.PersistenceError
	switch {
	case errors.Is(err, conversation.ErrEmptySequence):
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeBadRequest).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": conversation.ErrEmptySequence.Error()})
	case errors.As(err, &perr):
		span.SetStatus(codes.Error, "persistence failure")
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodePersistence).Inc()
		h.logger.Error("pipeline persistence failure", "op", perr.Op, "error", perr.Err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal storage error"})
	default:
		span.SetStatus(codes.Error, "pipeline failure")
		metrics.ErrorsTotal.WithLabelValues(observability.EndpointChatStream, observability.ErrCodeInternal).Inc()
		h.logger.Error("pipeline failure", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
