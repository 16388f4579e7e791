// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the request type for the streaming chat endpoint.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message's
	// extracted text. Guards against memory exhaustion from oversized inputs.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100

	// NewChatID is the sentinel chat id that forces session creation.
	NewChatID = "new"
)

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate = validator.New()

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest represents a streaming chat request body.
//
// # Description
//
// ChatRequest carries the client's view of the conversation plus routing
// metadata. The persisted message log is authoritative; the Messages field is
// only trusted for its final entry (the caller's latest message), which may
// carry image attachments.
//
// # Fields
//
//   - Messages: Required, 1-100 entries. Each entry has a role and content
//     (string or typed-parts array) and optionally attachments.
//   - Mode: Optional persona mode ("code-assistant", "writer", "web-search", ...).
//   - IsRegenerate: When true, the latest user message is never re-persisted.
//   - ChatID: Existing session id; empty or "new" creates a session.
//   - DocumentID: Optional document to ground the reply on (retrieval stub).
type ChatRequest struct {
	Messages     []Message `json:"messages" validate:"required,min=1,max=100"`
	Mode         string    `json:"mode"`
	IsRegenerate bool      `json:"isRegenerate"`
	ChatID       string    `json:"chatId"`
	DocumentID   string    `json:"documentId,omitempty"`
}

// Validate checks structural constraints and per-message size limits.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	for i, msg := range r.Messages {
		if len(msg.Content.ExtractText()) > MaxMessageContentBytes {
			return fmt.Errorf("message %d exceeds %d byte content limit", i, MaxMessageContentBytes)
		}
	}
	return nil
}

// Latest returns the final message of the request, or nil when the message
// list is empty.
func (r *ChatRequest) Latest() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}

// WantsNewSession reports whether the request asks for a fresh session.
func (r *ChatRequest) WantsNewSession() bool {
	return r.ChatID == "" || r.ChatID == NewChatID
}
