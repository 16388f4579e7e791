// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// StreamEvent is one Server-Sent Event emitted during a streaming chat
// response.
//
// # Description
//
// Every event carries a UUID, a creation timestamp, and a hash chained to the
// previous event so a client (or auditor) can verify stream integrity after
// the fact. The Type field selects which payload fields are populated:
//
//   - "status":  Message
//   - "token":   Content
//   - "error":   Error
//   - "done":    SessionId
//
// # Assumptions
//
//   - Id, CreatedAt, Hash and PrevHash are populated by the SSE writer, not
//     by the code constructing the event.
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionId string `json:"session_id,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}
