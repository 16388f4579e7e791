// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

const (
	// TitleMaxLen is the maximum length of a derived session title.
	TitleMaxLen = 100

	// TitlePlaceholder is used when the triggering message has no text part.
	TitlePlaceholder = "New Chat"
)

// Session is one conversation thread owned by a single caller.
//
// Title is derived from the first message and never changes; UpdatedAt is
// bumped on every completed exchange so recent sessions sort first.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is one persisted message row. Within a session, rows are
// totally ordered by CreatedAt; that order is authoritative over any order
// the caller supplies.
type StoredMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DeriveTitle builds a session title from the triggering message: the first
// TitleMaxLen characters of its extracted text, or TitlePlaceholder when the
// message carries no text.
func DeriveTitle(msg *Message) string {
	if msg == nil {
		return TitlePlaceholder
	}
	text := msg.Content.ExtractText()
	if text == "" {
		return TitlePlaceholder
	}
	runes := []rune(text)
	if len(runes) > TitleMaxLen {
		return string(runes[:TitleMaxLen])
	}
	return text
}
