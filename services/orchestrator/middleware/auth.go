// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides gin middleware for the orchestrator service.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// authInfoKey is the gin context key carrying the authenticated caller.
const authInfoKey = "kairo_auth_info"

// ErrUnauthorized is returned by providers for any invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo identifies the authenticated caller and carries the profile
// fields the prompt builder personalizes with.
type AuthInfo struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name,omitempty"`
	About        string `json:"about,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// AuthProvider validates a bearer token and resolves the caller.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate resolves the token to caller identity, or ErrUnauthorized.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// =============================================================================
// Providers
// =============================================================================

// StaticTokenProvider authenticates against a fixed token-to-profile map,
// typically loaded from the KAIRO_AUTH_TOKENS environment variable.
type StaticTokenProvider struct {
	tokens map[string]AuthInfo
}

// Compile-time interface check.
var _ AuthProvider = (*StaticTokenProvider)(nil)

// NewStaticTokenProvider parses a JSON object mapping token strings to
// AuthInfo values.
//
// # Examples
//
//	{"tok-abc": {"user_id": "u1", "name": "Asha"}}
func NewStaticTokenProvider(rawJSON string) (*StaticTokenProvider, error) {
	tokens := make(map[string]AuthInfo)
	if err := json.Unmarshal([]byte(rawJSON), &tokens); err != nil {
		return nil, fmt.Errorf("parse auth token map: %w", err)
	}
	for token, info := range tokens {
		if info.UserID == "" {
			return nil, fmt.Errorf("auth token %q has no user_id", truncateToken(token))
		}
	}
	return &StaticTokenProvider{tokens: tokens}, nil
}

// Validate resolves the token against the static map.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	info, ok := p.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return &info, nil
}

// NopAuthProvider accepts every request as a fixed local user. Used for
// single-user deployments where no token map is configured.
type NopAuthProvider struct{}

// Compile-time interface check.
var _ AuthProvider = NopAuthProvider{}

// Validate always succeeds with the local user identity.
func (NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user"}, nil
}

// =============================================================================
// Middleware
// =============================================================================

// AuthMiddleware validates the Authorization header via the provider and
// stores the resolved caller on the gin context. Any validation failure
// aborts with 401 and a generic body.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	if provider == nil {
		panic("AuthMiddleware: provider is required")
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		SetAuthInfo(c, info)
		c.Next()
	}
}

// SetAuthInfo stores the caller on the gin context.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller stored by AuthMiddleware, or nil when the
// request did not pass through it.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, ok := v.(*AuthInfo)
	if !ok {
		return nil
	}
	return info
}

// extractBearerToken pulls the token out of an Authorization header value.
// Returns empty string for anything that is not a well-formed Bearer scheme.
func extractBearerToken(header string) string {
	const scheme = "bearer "
	if len(header) <= len(scheme) {
		return ""
	}
	if !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}

// truncateToken shortens a token for inclusion in error messages.
func truncateToken(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[:6] + "..."
}
