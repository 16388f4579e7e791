// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for external language-model providers.
//
// All backends implement LLMClient. Streaming backends deliver tokens through
// a StreamCallback as they arrive; nothing is buffered ahead of the caller.
package llm

import (
	"context"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

// GenerationParams are per-request decoding parameters. Nil pointers mean
// "use the provider default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// StreamEventType identifies the kind of a streaming event.
type StreamEventType string

const (
	// StreamEventToken carries one generated token in Content.
	StreamEventToken StreamEventType = "token"

	// StreamEventError carries a provider-side failure in Error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one unit of streamed model output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback is invoked for each streamed event, in token order.
// Returning a non-nil error aborts the stream (e.g. on client disconnect).
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; handlers call them from
// multiple request goroutines.
type LLMClient interface {
	// Generate runs a single blocking completion for the given prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// ChatStream streams a chat completion for the given system prompt and
	// message sequence, invoking callback per token until the stream is
	// drained or the context is canceled.
	ChatStream(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
