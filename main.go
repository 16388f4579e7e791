// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command kairo-server runs the Kairo chat orchestrator: session-aware
// streaming chat over SSE with vision augmentation and durable transcripts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/kairolabs/kairo-server/services/llm"
	"github.com/kairolabs/kairo-server/services/orchestrator/config"
	"github.com/kairolabs/kairo-server/services/orchestrator/handlers"
	"github.com/kairolabs/kairo-server/services/orchestrator/middleware"
	"github.com/kairolabs/kairo-server/services/orchestrator/observability"
	"github.com/kairolabs/kairo-server/services/orchestrator/rag"
	"github.com/kairolabs/kairo-server/services/orchestrator/ratelimit"
	"github.com/kairolabs/kairo-server/services/orchestrator/routes"
	"github.com/kairolabs/kairo-server/services/orchestrator/services"
	"github.com/kairolabs/kairo-server/services/orchestrator/store"
	"github.com/kairolabs/kairo-server/services/orchestrator/vision"
)

const serviceName = "kairo-server"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	// Tracing is optional; without a collector endpoint the no-op provider
	// stays in place.
	if cfg.OTLPEndpoint != "" {
		shutdown, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("tracer init failed, continuing without export", "error", err)
		} else {
			defer shutdown()
		}
	}

	observability.InitMetrics(prometheus.DefaultRegisterer)

	chatStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("store init failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer chatStore.Close()

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		logger.Error("llm client init failed", "backend", cfg.LLMBackend, "error", err)
		os.Exit(1)
	}

	visionKey, err := llm.SarvamAPIKey()
	if err != nil {
		// Vision degrades to transport placeholders without a key; only the
		// chat backend strictly needs one.
		logger.Warn("no sarvam key for vision, image analysis will degrade", "error", err)
	}
	describer := vision.NewSarvamDescriber(cfg.VisionURL, cfg.VisionFallbackURL, visionKey, cfg.VisionTimeout)

	authProvider, err := buildAuthProvider(cfg)
	if err != nil {
		logger.Error("auth provider init failed", "error", err)
		os.Exit(1)
	}

	pipeline := services.NewChatPipeline(chatStore, describer, rag.NewStoreRetriever(chatStore))
	recorder := services.NewTurnRecorder(chatStore)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, routes.Handlers{
		ChatStream: handlers.NewChatStreamHandler(
			pipeline, recorder, llmClient, ratelimit.NopLimiter{},
			cfg.Temperature, cfg.StreamDeadline,
		),
		Chats: handlers.NewChatsHandler(chatStore),
		Auth:  authProvider,
	})

	logger.Info("starting kairo-server",
		"port", cfg.Port,
		"backend", cfg.LLMBackend,
		"model", cfg.ChatModel,
		"db", cfg.DBPath)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// buildLLMClient selects the chat backend from configuration.
func buildLLMClient(cfg *config.Config) (llm.LLMClient, error) {
	switch cfg.LLMBackend {
	case "sarvam":
		return llm.NewSarvamClient(cfg.SarvamBaseURL, cfg.ChatModel)
	case "openai":
		return llm.NewOpenAIClient("", cfg.ChatModel)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.LLMBackend)
	}
}

// buildAuthProvider selects token auth when a token map is configured and
// falls back to the single local user otherwise.
func buildAuthProvider(cfg *config.Config) (middleware.AuthProvider, error) {
	if cfg.AuthTokens == "" {
		slog.Warn("no auth tokens configured, running as single local user")
		return middleware.NopAuthProvider{}, nil
	}
	return middleware.NewStaticTokenProvider(cfg.AuthTokens)
}

// initTracer configures the OTLP gRPC trace exporter and returns a shutdown
// function.
func initTracer(endpoint string) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}, nil
}
