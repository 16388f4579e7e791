// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rag retrieves document context for grounded answers.
package rag

import (
	"context"
	"log/slog"

	"github.com/kairolabs/kairo-server/services/orchestrator/store"
)

// MaxContextChars caps how much document text is injected into the prompt.
// TODO: replace the head-of-document slice with chunked embedding retrieval
// once the embedding pipeline lands.
const MaxContextChars = 3000

// ContextRetriever returns grounding text for a document reference.
type ContextRetriever interface {
	// Retrieve returns up to MaxContextChars of context for the document, or
	// empty string when the document is absent or retrieval fails. Retrieval
	// failures never fail the chat request.
	Retrieve(ctx context.Context, documentID, ownerID string) string
}

// storeRetriever reads extracted text straight from the document store.
type storeRetriever struct {
	store  store.ChatStore
	logger *slog.Logger
}

// Compile-time interface check.
var _ ContextRetriever = (*storeRetriever)(nil)

// NewStoreRetriever creates a retriever backed by the chat store.
func NewStoreRetriever(chatStore store.ChatStore) ContextRetriever {
	return &storeRetriever{
		store:  chatStore,
		logger: slog.Default().With("component", "rag"),
	}
}

// Retrieve returns the head of the document's extracted text.
func (r *storeRetriever) Retrieve(ctx context.Context, documentID, ownerID string) string {
	if documentID == "" {
		return ""
	}
	text, err := r.store.DocumentText(ctx, documentID, ownerID)
	if err != nil {
		r.logger.Warn("document retrieval failed, answering ungrounded",
			"document_id", documentID, "error", err)
		return ""
	}
	runes := []rune(text)
	if len(runes) > MaxContextChars {
		return string(runes[:MaxContextChars])
	}
	return text
}
