// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the orchestration logic between the HTTP
// handlers and the storage, vision, and retrieval backends.
package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kairolabs/kairo-server/services/orchestrator/conversation"
	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/rag"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
	"github.com/kairolabs/kairo-server/services/orchestrator/vision"
)

// tracer is the package-level tracer for pipeline spans.
var tracer = otel.Tracer("kairo-server/services")

// Stage identifies where in the preparation pipeline a request currently is.
// Used for span attributes and failure logs.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageResolving   Stage = "resolving_session"
	StageLoading     Stage = "loading_history"
	StageAugmenting  Stage = "augmenting_vision"
	StageNormalizing Stage = "normalizing"
	StageStreaming   Stage = "streaming"
	StageFinished    Stage = "finished"
	StageFailed      Stage = "failed"
)

// imageOnlyStem replaces an empty user text when images are attached, so the
// augmented turn never starts with the vision block alone.
const imageOnlyStem = "Attached images."

// PipelineResult is everything the streaming handler needs to run the model
// exchange.
type PipelineResult struct {
	// SessionID is the authoritative session id for this exchange.
	SessionID string

	// SessionCreated is true when this request created the session.
	SessionCreated bool

	// Sequence is the normalized, model-ready message sequence.
	Sequence []datatypes.Message

	// RAGContext is retrieved document text, empty when ungrounded.
	RAGContext string
}

// ChatPipeline prepares a chat request for streaming: session resolution,
// history reconciliation, vision augmentation, and normalization.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the backends.
type ChatPipeline struct {
	store     store.ChatStore
	describer vision.Describer
	retriever rag.ContextRetriever
	logger    *slog.Logger
}

// NewChatPipeline wires the pipeline. All dependencies are required.
func NewChatPipeline(chatStore store.ChatStore, describer vision.Describer, retriever rag.ContextRetriever) *ChatPipeline {
	if chatStore == nil {
		panic("NewChatPipeline: store is required")
	}
	if describer == nil {
		panic("NewChatPipeline: describer is required")
	}
	if retriever == nil {
		panic("NewChatPipeline: retriever is required")
	}
	return &ChatPipeline{
		store:     chatStore,
		describer: describer,
		retriever: retriever,
		logger:    slog.Default().With("component", "chat_pipeline"),
	}
}

// Prepare runs the full preparation pipeline for one request.
//
// # Description
//
// Step 1: Resolve the session. "new" or empty chat ids create a session
// titled from the latest message. An id the caller does not own also creates
// a fresh session; the client learns the authoritative id from the response
// header.
//
// Step 2: Load the persisted history. A load failure degrades to an empty
// history so a flaky read never blocks the exchange.
//
// Step 3: Persist the latest user turn unless it is a regenerate or the
// history tail already records it.
//
// Step 4: Describe image attachments and fold the descriptions into the
// latest turn's text. Vision failures degrade to placeholders, never errors.
//
// Step 5: Normalize into a strictly alternating user/assistant sequence.
//
// # Outputs
//
//   - *PipelineResult: Ready-to-stream exchange state.
//   - error: conversation.ErrEmptySequence for an unusable sequence (HTTP
//     400), *store.PersistenceError for fatal storage failures (HTTP 500).
func (p *ChatPipeline) Prepare(ctx context.Context, ownerID string, req *datatypes.ChatRequest) (*PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.prepare")
	defer span.End()

	latest := req.Latest()
	if latest == nil {
		return nil, conversation.ErrEmptySequence
	}
	latestText := latest.Content.ExtractText()

	// Step 1: resolve the session.
	span.SetAttributes(attribute.String("pipeline.stage", string(StageResolving)))
	sessionID, created, err := p.resolveSession(ctx, ownerID, req, latest)
	if err != nil {
		span.SetAttributes(attribute.String("pipeline.stage", string(StageFailed)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("chat.session_id", sessionID),
		attribute.Bool("chat.session_created", created),
	)

	// Step 2: load history, degrading to empty on failure.
	span.SetAttributes(attribute.String("pipeline.stage", string(StageLoading)))
	history := p.loadHistory(ctx, sessionID)

	// Step 3: persist the latest user turn if it is new.
	if latest.Role == datatypes.RoleUser && !req.IsRegenerate &&
		!conversation.AlreadyRecorded(history, latestText) {
		if err := p.store.AppendMessage(ctx, sessionID, datatypes.RoleUser, latestText); err != nil {
			span.SetAttributes(attribute.String("pipeline.stage", string(StageFailed)))
			return nil, err
		}
	}

	// Step 4: vision augmentation.
	finalContent := latest.Content
	if images := latest.ImageAttachments(); len(images) > 0 && latest.Role == datatypes.RoleUser {
		span.SetAttributes(
			attribute.String("pipeline.stage", string(StageAugmenting)),
			attribute.Int("chat.image_count", len(images)),
		)
		descriptions := p.describer.DescribeAll(ctx, images)
		stem := latestText
		if stem == "" {
			stem = imageOnlyStem
		}
		finalContent = datatypes.TextContent(stem + vision.ContextBlock(descriptions))
	}

	// Step 5: reconcile and normalize. A non-user tail carries no new turn;
	// the persisted history already has everything.
	span.SetAttributes(attribute.String("pipeline.stage", string(StageNormalizing)))
	working := history
	if latest.Role == datatypes.RoleUser {
		working = conversation.BuildWorkingSequence(history, latestText, finalContent)
	}
	sequence, err := conversation.Normalize(working, p.logger)
	if err != nil {
		span.SetAttributes(attribute.String("pipeline.stage", string(StageFailed)))
		// The session was already resolved; return it so the handler can
		// still expose the authoritative id on the error response.
		return &PipelineResult{SessionID: sessionID, SessionCreated: created}, err
	}

	ragContext := p.retriever.Retrieve(ctx, req.DocumentID, ownerID)

	span.SetAttributes(
		attribute.String("pipeline.stage", string(StageFinished)),
		attribute.Int("chat.sequence_len", len(sequence)),
		attribute.Bool("chat.grounded", ragContext != ""),
	)
	return &PipelineResult{
		SessionID:      sessionID,
		SessionCreated: created,
		Sequence:       sequence,
		RAGContext:     ragContext,
	}, nil
}

// resolveSession returns the session id to use, creating one when the
// request asks for it or references a session the caller does not own.
func (p *ChatPipeline) resolveSession(ctx context.Context, ownerID string, req *datatypes.ChatRequest, latest *datatypes.Message) (string, bool, error) {
	if !req.WantsNewSession() {
		sess, err := p.store.GetSession(ctx, req.ChatID, ownerID)
		if err == nil {
			return sess.ID, false, nil
		}
		if err != store.ErrNotFound {
			return "", false, err
		}
		p.logger.Warn("chat id not found for caller, creating fresh session",
			"chat_id", req.ChatID, "user_id", ownerID)
	}

	id := uuid.NewString()
	title := datatypes.DeriveTitle(latest)
	if err := p.store.CreateSession(ctx, id, ownerID, title); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// loadHistory returns the persisted log as conversation messages, or an
// empty slice when the read fails.
func (p *ChatPipeline) loadHistory(ctx context.Context, sessionID string) []datatypes.Message {
	stored, err := p.store.ListMessages(ctx, sessionID)
	if err != nil {
		p.logger.Warn("history load failed, continuing with empty history",
			"session_id", sessionID, "error", err)
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Bool("chat.history_degraded", true))
		return nil
	}
	history := make([]datatypes.Message, 0, len(stored))
	for _, row := range stored {
		history = append(history, datatypes.Message{
			Role:    row.Role,
			Content: datatypes.TextContent(row.Content),
		})
	}
	return history
}
