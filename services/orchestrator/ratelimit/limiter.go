// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit gates chat requests per caller.
package ratelimit

import "context"

// DefaultDailyLimit is the per-user daily request allowance enforced once a
// real limiter backend is wired in.
const DefaultDailyLimit = 50

// UsageLimiter decides whether a caller may start another chat exchange.
// Handlers map a denial to HTTP 429 before any session or model work.
type UsageLimiter interface {
	// Allow reports whether the user may proceed.
	Allow(ctx context.Context, userID string) bool
}

// NopLimiter allows every request. It keeps the 429 handler path wired while
// quota accounting lives elsewhere.
type NopLimiter struct{}

// Compile-time interface check.
var _ UsageLimiter = NopLimiter{}

// Allow always returns true.
func (NopLimiter) Allow(_ context.Context, _ string) bool { return true }
