// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// openaiSecretPaths are checked, in order, when OPENAI_API_KEY is unset.
var openaiSecretPaths = []string{
	"/run/secrets/openai_api_key",
	"/run/secrets/openai_api_key.txt",
}

// OpenAIClient implements LLMClient against the OpenAI chat-completions API.
// It exists as an alternate backend for deployments without Sarvam access.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// Compile-time interface check.
var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI-backed LLM client.
//
// # Inputs
//
//   - baseURL: API base; empty keeps the go-openai default.
//   - model: Model name; empty selects DefaultOpenAIModel.
//
// # Outputs
//
//   - *OpenAIClient: Ready-to-use client.
//   - error: Non-nil when no API key can be resolved.
func NewOpenAIClient(baseURL, model string) (*OpenAIClient, error) {
	apiKey, err := resolveAPIKey("OPENAI_API_KEY", openaiSecretPaths)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: slog.Default().With("component", "openai_llm"),
	}, nil
}

// Generate runs a single blocking completion for the given prompt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	applyParams(&req, params)

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream streams a chat completion token by token. See
// SarvamClient.ChatStream for delivery semantics; the two backends share the
// same wire conversion.
func (c *OpenAIClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(system, messages),
		Stream:   true,
	}
	applyParams(&req, params)

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("openai stream open: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("openai stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: delta}); cbErr != nil {
			return cbErr
		}
	}
}
