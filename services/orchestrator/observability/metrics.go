// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the orchestrator.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the Prometheus namespace for all service metrics.
	MetricsNamespace = "kairo"

	// StreamingSubsystem groups metrics for the streaming chat path.
	StreamingSubsystem = "streaming"
)

// Endpoint label values.
const (
	EndpointChatStream = "chat_stream"
	EndpointChats      = "chats"
)

// Error code label values.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodePersistence  = "persistence"
	ErrCodeLLM          = "llm"
	ErrCodeInternal     = "internal"
)

// Vision tier label values.
const (
	VisionTierPrimary     = "primary"
	VisionTierFallback    = "fallback"
	VisionTierPlaceholder = "placeholder"
)

// StreamingMetrics holds every metric the streaming chat path emits.
//
// # Thread Safety
//
// Prometheus collectors are safe for concurrent use.
type StreamingMetrics struct {
	// RequestsTotal counts requests by endpoint and HTTP status.
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failed requests by endpoint and error code.
	ErrorsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds observes latency until the first token event.
	TimeToFirstTokenSeconds prometheus.Histogram

	// StreamDurationSeconds observes full stream duration.
	StreamDurationSeconds prometheus.Histogram

	// ActiveStreams gauges currently open SSE streams.
	ActiveStreams prometheus.Gauge

	// KeepAlivesTotal counts heartbeat comments written.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts streams aborted by the client.
	ClientDisconnectsTotal prometheus.Counter

	// VisionDescriptionsTotal counts image descriptions by resolution tier.
	VisionDescriptionsTotal *prometheus.CounterVec

	// WritebackFailuresTotal counts assistant-turn persistence failures that
	// exhausted all retries.
	WritebackFailuresTotal prometheus.Counter
}

var (
	defaultMetrics *StreamingMetrics
	metricsOnce    sync.Once
)

// InitMetrics registers all streaming metrics with the given registerer.
// Call once at startup; later DefaultMetrics calls return the same set.
func InitMetrics(reg prometheus.Registerer) *StreamingMetrics {
	metricsOnce.Do(func() {
		factory := promauto.With(reg)
		defaultMetrics = &StreamingMetrics{
			RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "requests_total",
				Help:      "Requests handled, by endpoint and status.",
			}, []string{"endpoint", "status"}),
			ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "errors_total",
				Help:      "Failed requests, by endpoint and error code.",
			}, []string{"endpoint", "code"}),
			TimeToFirstTokenSeconds: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Latency from request start to first token event.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
			StreamDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Duration of completed streams.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			}),
			ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "active_streams",
				Help:      "Currently open SSE streams.",
			}),
			KeepAlivesTotal: factory.NewCounter(prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "keepalives_total",
				Help:      "SSE heartbeat comments written.",
			}),
			ClientDisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Streams aborted by client disconnect.",
			}),
			VisionDescriptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "vision_descriptions_total",
				Help:      "Image descriptions resolved, by tier.",
			}, []string{"tier"}),
			WritebackFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: StreamingSubsystem,
				Name:      "writeback_failures_total",
				Help:      "Assistant-turn writes that exhausted all retries.",
			}),
		}
	})
	return defaultMetrics
}

// DefaultMetrics returns the process-wide metric set, registering against
// the default registry if InitMetrics has not run yet.
func DefaultMetrics() *StreamingMetrics {
	return InitMetrics(prometheus.DefaultRegisterer)
}
