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
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
)

const (
	// DefaultSarvamBaseURL is the OpenAI-compatible Sarvam chat endpoint.
	DefaultSarvamBaseURL = "https://api.sarvam.ai/v1"

	// DefaultSarvamModel is the chat model used when none is configured.
	DefaultSarvamModel = "sarvam-m"

	// sarvamAuthHeader carries the subscription key on every request.
	sarvamAuthHeader = "api-subscription-key"
)

// sarvamSecretPaths are checked, in order, when SARVAM_API_KEY is unset.
var sarvamSecretPaths = []string{
	"/run/secrets/sarvam_api_key",
	"/run/secrets/sarvam_api_key.txt",
}

// SarvamAPIKey resolves the Sarvam subscription key from the environment or
// the mounted secret files. Shared with the vision describer, which calls
// the same API family.
func SarvamAPIKey() (string, error) {
	return resolveAPIKey("SARVAM_API_KEY", sarvamSecretPaths)
}

// SarvamClient implements LLMClient against the Sarvam chat-completions API.
//
// # Description
//
// Sarvam exposes an OpenAI-compatible surface, so the client wraps
// go-openai with a custom transport that injects the subscription-key
// header Sarvam requires instead of a bearer token.
//
// # Thread Safety
//
// Safe for concurrent use. The embedded openai.Client is stateless per call.
type SarvamClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// Compile-time interface check.
var _ LLMClient = (*SarvamClient)(nil)

// headerTransport injects a static header on every outbound request.
type headerTransport struct {
	base   http.RoundTripper
	header string
	value  string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set(t.header, t.value)
	return t.base.RoundTrip(clone)
}

// NewSarvamClient creates a Sarvam-backed LLM client.
//
// # Inputs
//
//   - baseURL: API base; empty selects DefaultSarvamBaseURL.
//   - model: Model name; empty selects DefaultSarvamModel.
//
// # Outputs
//
//   - *SarvamClient: Ready-to-use client.
//   - error: Non-nil when no API key can be resolved.
//
// # Assumptions
//
//   - The key is read from SARVAM_API_KEY, falling back to the mounted
//     secret files under /run/secrets.
func NewSarvamClient(baseURL, model string) (*SarvamClient, error) {
	apiKey, err := resolveAPIKey("SARVAM_API_KEY", sarvamSecretPaths)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultSarvamBaseURL
	}
	if model == "" {
		model = DefaultSarvamModel
	}

	cfg := openai.DefaultConfig("")
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &headerTransport{
			base:   http.DefaultTransport,
			header: sarvamAuthHeader,
			value:  apiKey,
		},
	}

	return &SarvamClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: slog.Default().With("component", "sarvam_llm"),
	}, nil
}

// Generate runs a single blocking completion for the given prompt.
func (c *SarvamClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	applyParams(&req, params)

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sarvam completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("sarvam completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream streams a chat completion token by token.
//
// # Description
//
// The system prompt becomes the leading system message; the conversation
// sequence is converted turn by turn, preserving multimodal parts. Tokens are
// delivered via callback in arrival order. A non-nil callback error aborts
// the stream immediately.
func (c *SarvamClient) ChatStream(ctx context.Context, system string, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(system, messages),
		Stream:   true,
	}
	applyParams(&req, params)

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("sarvam stream open: %w", err)
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
			return fmt.Errorf("sarvam stream recv: %w", err)
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

// applyParams copies non-nil generation parameters onto the request.
func applyParams(req *openai.ChatCompletionRequest, params GenerationParams) {
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
}

// convertMessages maps the internal message model onto the OpenAI wire shape.
// Plain-text content becomes a string message; typed parts become MultiContent
// so image references survive the trip.
func convertMessages(system string, messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{Role: msg.Role}
		if msg.Content.Kind == datatypes.ContentParts {
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case datatypes.PartTypeImage:
					converted.MultiContent = append(converted.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.Image},
					})
				default:
					converted.MultiContent = append(converted.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		} else {
			converted.Content = msg.Content.Text
		}
		out = append(out, converted)
	}
	return out
}

// resolveAPIKey reads the key from the named environment variable, falling
// back to the given secret files.
func resolveAPIKey(envVar string, secretPaths []string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}
	for _, path := range secretPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no API key: set %s or mount a secret file", envVar)
}
