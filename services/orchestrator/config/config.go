// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads orchestrator configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the orchestrator service.
//
// # Description
//
// Every field has a sensible default so a bare `kairo-server` starts locally
// against an on-disk SQLite file. Production deployments override via
// environment variables; there is no config file.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DBPath is the SQLite database file path.
	DBPath string

	// LLMBackend selects the chat backend ("sarvam" or "openai").
	LLMBackend string

	// ChatModel is the model name passed to the backend.
	ChatModel string

	// SarvamBaseURL overrides the Sarvam chat API base.
	SarvamBaseURL string

	// Temperature is the default sampling temperature for chat streams.
	Temperature float32

	// VisionURL is the primary Sarvam vision-describe endpoint.
	VisionURL string

	// VisionFallbackURL is the document-intelligence fallback endpoint.
	VisionFallbackURL string

	// VisionTimeout bounds each vision API call.
	VisionTimeout time.Duration

	// StreamDeadline bounds one full streaming exchange.
	StreamDeadline time.Duration

	// AuthTokens is the raw JSON token-to-profile map. Empty disables
	// token auth and every request runs as the local user.
	AuthTokens string

	// OTLPEndpoint is the OpenTelemetry collector address. Empty disables
	// trace export.
	OTLPEndpoint string
}

// Load reads configuration from the environment, applying defaults for any
// unset variable. It never fails; invalid numeric values fall back to the
// default with a warning.
func Load() *Config {
	cfg := &Config{
		Port:              envOr("KAIRO_PORT", "8080"),
		DBPath:            envOr("KAIRO_DB_PATH", "kairo.db"),
		LLMBackend:        envOr("KAIRO_LLM_BACKEND", "sarvam"),
		ChatModel:         envOr("KAIRO_CHAT_MODEL", "sarvam-m"),
		SarvamBaseURL:     os.Getenv("SARVAM_BASE_URL"),
		Temperature:       envFloat("KAIRO_TEMPERATURE", 0.7),
		VisionURL:         envOr("SARVAM_VISION_URL", "https://api.sarvam.ai/v1/vision/describe"),
		VisionFallbackURL: envOr("SARVAM_VISION_FALLBACK_URL", "https://api.sarvam.ai/document-intelligence/v1/jobs"),
		VisionTimeout:     envDuration("KAIRO_VISION_TIMEOUT", 30*time.Second),
		StreamDeadline:    envDuration("KAIRO_STREAM_DEADLINE", 5*time.Minute),
		AuthTokens:        os.Getenv("KAIRO_AUTH_TOKENS"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 32)
	if err != nil {
		slog.Warn("invalid float in environment, using default", "key", key, "value", v)
		return fallback
	}
	return float32(parsed)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return parsed
}
