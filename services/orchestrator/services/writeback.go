// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/observability"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
)

const (
	// writebackTimeout bounds the whole write-back attempt sequence.
	writebackTimeout = 30 * time.Second

	// writebackAttempts is how many times a failed write is retried.
	writebackAttempts = 3

	// writebackBackoff is the base delay between attempts.
	writebackBackoff = 250 * time.Millisecond
)

// TurnRecorder persists the completed assistant turn after a stream drains.
//
// # Description
//
// Recording runs on a detached context so a client disconnect after the last
// token cannot cancel the durable write. The assistant row is appended
// first, then the session's updated_at is bumped so the session sorts to
// the top of the caller's list.
//
// # Thread Safety
//
// Safe for concurrent use.
type TurnRecorder struct {
	store  store.ChatStore
	logger *slog.Logger
}

// NewTurnRecorder wires the recorder. The store is required.
func NewTurnRecorder(chatStore store.ChatStore) *TurnRecorder {
	if chatStore == nil {
		panic("NewTurnRecorder: store is required")
	}
	return &TurnRecorder{
		store:  chatStore,
		logger: slog.Default().With("component", "turn_recorder"),
	}
}

// Record persists the assistant answer asynchronously.
//
// # Outputs
//
//   - <-chan error: Receives exactly one value when recording finishes; nil
//     on success, the final attempt's error otherwise. Buffered, so the
//     caller may drop it without leaking the goroutine.
func (r *TurnRecorder) Record(sessionID, answer string) <-chan error {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writebackTimeout)
		defer cancel()

		err := r.withRetries(ctx, func() error {
			return r.store.AppendMessage(ctx, sessionID, datatypes.RoleAssistant, answer)
		})
		if err != nil {
			observability.DefaultMetrics().WritebackFailuresTotal.Inc()
			r.logger.Error("assistant turn lost after retries",
				"session_id", sessionID, "error", err)
			done <- err
			return
		}

		if err := r.withRetries(ctx, func() error {
			return r.store.TouchSession(ctx, sessionID)
		}); err != nil {
			// The answer is durable; a stale updated_at only affects sort
			// order, so log and report success.
			r.logger.Warn("session touch failed after write-back",
				"session_id", sessionID, "error", err)
		}
		done <- nil
	}()
	return done
}

// withRetries runs op up to writebackAttempts times with linear backoff.
func (r *TurnRecorder) withRetries(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= writebackAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == writebackAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(writebackBackoff * time.Duration(attempt)):
		}
	}
	return err
}
