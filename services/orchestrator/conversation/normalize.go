// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation reconciles a client's message list with the persisted
// session log and normalizes the result into a model-ready sequence.
//
// # Description
//
// The persisted log is authoritative. The only client-supplied entry that is
// trusted is the latest user message, which may need vision augmentation.
// Everything else is rebuilt from storage, then normalized so the sequence
// starts with a user turn and strictly alternates user/assistant, which is
// what the chat backends require.
package conversation

import (
	"errors"
	"log/slog"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

// ErrEmptySequence is returned when reconciliation produces no usable
// messages. Handlers map it to HTTP 400.
var ErrEmptySequence = errors.New("no messages to process")

// roleJoiner separates merged same-role contents.
const roleJoiner = "\n\n"

// AlreadyRecorded reports whether the tail of the history is a user entry
// whose stored content equals the latest message's extracted text. When
// true, the user turn was persisted on a previous attempt (or by a
// regenerate) and must not be appended again.
func AlreadyRecorded(history []datatypes.Message, latestText string) bool {
	if len(history) == 0 {
		return false
	}
	tail := history[len(history)-1]
	return tail.Role == datatypes.RoleUser && tail.Content.ExtractText() == latestText
}

// BuildWorkingSequence merges the authoritative history with the caller's
// latest turn.
//
// # Inputs
//
//   - history: Messages rebuilt from storage, oldest first.
//   - latestText: The extracted text of the caller's latest message, used
//     for the duplicate check against the history tail.
//   - finalContent: The content the latest user turn should carry, after any
//     vision augmentation.
//
// # Description
//
// When the history tail already records latestText, the tail is replaced
// with finalContent so augmentation lands on the persisted entry instead of
// duplicating it. Otherwise the turn is appended, unless it would be an
// exact no-augmentation duplicate of the tail.
func BuildWorkingSequence(history []datatypes.Message, latestText string, finalContent datatypes.MessageContent) []datatypes.Message {
	entry := datatypes.Message{Role: datatypes.RoleUser, Content: finalContent}
	if AlreadyRecorded(history, latestText) {
		merged := make([]datatypes.Message, len(history))
		copy(merged, history)
		merged[len(merged)-1] = entry
		return merged
	}
	return append(append([]datatypes.Message{}, history...), entry)
}

// Normalize rewrites a sequence to satisfy the backend contract: first entry
// is a user turn, roles strictly alternate, no entry is empty.
//
// # Description
//
// Three passes over the input:
//
//  1. Entries with roles other than user/assistant are dropped.
//  2. Leading assistant entries are dropped (with a log line; they indicate
//     a corrupted or truncated log, not a client bug).
//  3. Adjacent same-role entries are merged. Two text contents join with a
//     blank line; if either side is multimodal the merge promotes both to
//     part lists with a blank-line text part between, so image parts are
//     never lost.
//
// # Outputs
//
//   - []datatypes.Message: The normalized sequence.
//   - error: ErrEmptySequence when nothing survives.
func Normalize(seq []datatypes.Message, logger *slog.Logger) ([]datatypes.Message, error) {
	if logger == nil {
		logger = slog.Default()
	}

	filtered := make([]datatypes.Message, 0, len(seq))
	for _, msg := range seq {
		if msg.Role != datatypes.RoleUser && msg.Role != datatypes.RoleAssistant {
			logger.Debug("dropping message with unsupported role", "role", msg.Role)
			continue
		}
		filtered = append(filtered, msg)
	}

	start := 0
	for start < len(filtered) && filtered[start].Role != datatypes.RoleUser {
		start++
	}
	if start > 0 {
		logger.Warn("dropping leading assistant entries before first user turn", "count", start)
	}
	filtered = filtered[start:]

	if len(filtered) == 0 {
		return nil, ErrEmptySequence
	}

	merged := make([]datatypes.Message, 0, len(filtered))
	for _, msg := range filtered {
		if len(merged) == 0 || merged[len(merged)-1].Role != msg.Role {
			merged = append(merged, msg)
			continue
		}
		prev := &merged[len(merged)-1]
		prev.Content = mergeContents(prev.Content, msg.Content)
		prev.Attachments = append(prev.Attachments, msg.Attachments...)
	}
	return merged, nil
}

// mergeContents combines two same-role contents. Text with text joins on a
// blank line; anything involving parts promotes both sides to part lists.
func mergeContents(a, b datatypes.MessageContent) datatypes.MessageContent {
	if a.Kind == datatypes.ContentText && b.Kind == datatypes.ContentText {
		return datatypes.TextContent(a.Text + roleJoiner + b.Text)
	}
	parts := make([]datatypes.ContentPart, 0, len(a.AsParts())+len(b.AsParts())+1)
	parts = append(parts, a.AsParts()...)
	parts = append(parts, datatypes.ContentPart{Type: datatypes.PartTypeText, Text: roleJoiner})
	parts = append(parts, b.AsParts()...)
	return datatypes.PartsContent(parts)
}
