// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the message model shared by the chat pipeline and the
// LLM clients. Message content is a tagged union: clients may send either a
// plain string or an ordered list of typed parts (text and image references).
// All merge and extraction logic switches on the tag explicitly instead of
// inspecting runtime types.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// Roles and Part Types
// =============================================================================

const (
	// RoleUser marks a message authored by the caller.
	RoleUser = "user"

	// RoleAssistant marks a message authored by the model.
	RoleAssistant = "assistant"
)

const (
	// PartTypeText is a plain text content part.
	PartTypeText = "text"

	// PartTypeImage is an image-reference content part (data URL or remote URL).
	PartTypeImage = "image"
)

// =============================================================================
// Content Union
// =============================================================================

// ContentKind discriminates the MessageContent union.
type ContentKind int

const (
	// ContentText means the content is a single plain string.
	ContentText ContentKind = iota

	// ContentParts means the content is an ordered list of typed parts.
	ContentParts
)

// ContentPart is one entry of a multimodal content list.
//
// # Fields
//
//   - Type: PartTypeText or PartTypeImage.
//   - Text: Populated for text parts.
//   - Image: Populated for image parts; a data URL or remote reference.
type ContentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// MessageContent is a tagged union of plain text and typed content parts.
//
// # Description
//
// The inbound wire format allows "content" to be either a JSON string or a
// JSON array of parts. MessageContent preserves that distinction via Kind so
// downstream merge logic never has to guess. Use TextContent and PartsContent
// to construct values; zero value is empty text.
//
// # Thread Safety
//
// Values are treated as immutable after construction.
type MessageContent struct {
	Kind  ContentKind
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string as message content.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// PartsContent wraps an ordered part list as message content.
func PartsContent(parts []ContentPart) MessageContent {
	return MessageContent{Kind: ContentParts, Parts: parts}
}

// AsParts returns the content in the typed-parts representation, wrapping
// plain text as a single text part. Used when merging adjacent same-role
// entries where at least one side is multimodal.
func (m MessageContent) AsParts() []ContentPart {
	if m.Kind == ContentParts {
		return m.Parts
	}
	return []ContentPart{{Type: PartTypeText, Text: m.Text}}
}

// ExtractText returns the plain-text view of the content: the string itself
// for text content, or the first text part for multimodal content. Returns
// empty string when no text part exists.
func (m MessageContent) ExtractText() string {
	if m.Kind == ContentText {
		return m.Text
	}
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			return p.Text
		}
	}
	return ""
}

// IsEmpty reports whether the content carries neither text nor parts.
func (m MessageContent) IsEmpty() bool {
	if m.Kind == ContentText {
		return m.Text == ""
	}
	return len(m.Parts) == 0
}

// MarshalJSON encodes text content as a JSON string and parts content as a
// JSON array, matching the inbound wire format.
func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.Kind == ContentParts {
		return json.Marshal(m.Parts)
	}
	return json.Marshal(m.Text)
}

// UnmarshalJSON decodes either a JSON string or a JSON array of parts.
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("unmarshal content parts: %w", err)
		}
		*m = MessageContent{Kind: ContentParts, Parts: parts}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("unmarshal content text: %w", err)
	}
	*m = MessageContent{Kind: ContentText, Text: text}
	return nil
}

// =============================================================================
// Attachments and Messages
// =============================================================================

// Attachment is a client-supplied file reference on a message.
//
// ContentType is a MIME type; URL is a data URL (or equivalent reference)
// carrying the payload. Only image/* attachments are processed by the vision
// augmenter; other types are handled by the document-extraction collaborator
// before the message reaches this service.
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// Message is one conversational turn as submitted by a client or assembled
// for a model invocation.
type Message struct {
	Role        string         `json:"role"`
	Content     MessageContent `json:"content"`
	Attachments []Attachment   `json:"experimental_attachments,omitempty"`
}

// ImageAttachments returns the message's attachments filtered to image MIME
// types, preserving submission order.
func (msg Message) ImageAttachments() []Attachment {
	var images []Attachment
	for _, att := range msg.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") && att.URL != "" {
			images = append(images, att)
		}
	}
	return images
}
