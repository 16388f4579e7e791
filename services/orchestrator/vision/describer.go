// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vision turns image attachments into text descriptions.
//
// # Description
//
// The describer calls the Sarvam vision-describe endpoint, falls back to the
// document-intelligence endpoint when the primary rejects the image, and
// degrades to fixed placeholder strings when both fail. A vision failure
// never fails the chat request; the worst outcome is a placeholder in the
// augmented prompt.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kairolabs/kairo-server/services/orchestrator/datatypes"
	"github.com/kairolabs/kairo-server/services/orchestrator/observability"
)

// Placeholder descriptions, surfaced verbatim in the augmented prompt. These
// are part of the prompt contract; do not reword them.
const (
	// PlaceholderBadData is used when the attachment URL is not a decodable
	// base64 data URL.
	PlaceholderBadData = "[Image could not be processed]"

	// PlaceholderUnsupported is used when both endpoints reject the image.
	PlaceholderUnsupported = "[Image uploaded — visual analysis not available for this image type]"

	// PlaceholderTransport is used when a network-level failure prevents any
	// endpoint from answering.
	PlaceholderTransport = "[Image uploaded — could not process visual content at this time]"

	// PlaceholderEmpty is used when an endpoint accepts the image but returns
	// no usable description field.
	PlaceholderEmpty = "[Image processed]"
)

// maxConcurrentDescribes bounds parallel vision calls per request.
const maxConcurrentDescribes = 4

// Describer resolves image attachments to text descriptions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Describer interface {
	// Describe returns a description for one image attachment. It never
	// returns an error; failures degrade to placeholder strings.
	Describe(ctx context.Context, att datatypes.Attachment) string

	// DescribeAll describes every attachment, returning descriptions in the
	// same order as the input slice.
	DescribeAll(ctx context.Context, atts []datatypes.Attachment) []string
}

// sarvamDescriber implements Describer against the Sarvam vision APIs.
type sarvamDescriber struct {
	client      *http.Client
	primaryURL  string
	fallbackURL string
	apiKey      string
	logger      *slog.Logger
}

// Compile-time interface check.
var _ Describer = (*sarvamDescriber)(nil)

// NewSarvamDescriber creates a describer for the given endpoints.
//
// # Inputs
//
//   - primaryURL: Vision-describe endpoint.
//   - fallbackURL: Document-intelligence endpoint tried when the primary
//     returns a non-2xx status.
//   - apiKey: Sarvam subscription key, sent as api-subscription-key.
//   - timeout: Per-call HTTP timeout.
func NewSarvamDescriber(primaryURL, fallbackURL, apiKey string, timeout time.Duration) Describer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &sarvamDescriber{
		client:      &http.Client{Timeout: timeout},
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		apiKey:      apiKey,
		logger:      slog.Default().With("component", "vision"),
	}
}

// describeResponse is the subset of the vision response we consume. The
// first non-empty of Markdown, Text, Description wins.
type describeResponse struct {
	Markdown    string `json:"markdown"`
	Text        string `json:"text"`
	Description string `json:"description"`
}

func (r describeResponse) content() string {
	switch {
	case r.Markdown != "":
		return r.Markdown
	case r.Text != "":
		return r.Text
	case r.Description != "":
		return r.Description
	}
	return ""
}

// Describe resolves one attachment through the tier chain: decode the data
// URL, try the primary endpoint, then the fallback, then placeholders.
func (d *sarvamDescriber) Describe(ctx context.Context, att datatypes.Attachment) string {
	payload, mimeType, ok := decodeDataURL(att.URL)
	if !ok {
		d.logger.Warn("image attachment has undecodable data URL", "name", att.Name)
		observability.DefaultMetrics().VisionDescriptionsTotal.WithLabelValues(observability.VisionTierPlaceholder).Inc()
		return PlaceholderBadData
	}

	desc, status, err := d.callDescribe(ctx, d.primaryURL, payload, mimeType, true)
	if err == nil && status/100 == 2 {
		observability.DefaultMetrics().VisionDescriptionsTotal.WithLabelValues(observability.VisionTierPrimary).Inc()
		if desc == "" {
			return PlaceholderEmpty
		}
		return desc
	}
	if err != nil {
		d.logger.Warn("primary vision call failed", "error", err)
		observability.DefaultMetrics().VisionDescriptionsTotal.WithLabelValues(observability.VisionTierPlaceholder).Inc()
		return PlaceholderTransport
	}
	d.logger.Info("primary vision endpoint rejected image, trying fallback", "status", status)

	desc, status, err = d.callDescribe(ctx, d.fallbackURL, payload, mimeType, false)
	if err == nil && status/100 == 2 {
		observability.DefaultMetrics().VisionDescriptionsTotal.WithLabelValues(observability.VisionTierFallback).Inc()
		if desc == "" {
			return PlaceholderEmpty
		}
		return desc
	}
	observability.DefaultMetrics().VisionDescriptionsTotal.WithLabelValues(observability.VisionTierPlaceholder).Inc()
	if err != nil {
		d.logger.Warn("fallback vision call failed", "error", err)
		return PlaceholderTransport
	}
	d.logger.Warn("both vision endpoints rejected image", "fallback_status", status)
	return PlaceholderUnsupported
}

// DescribeAll describes attachments in parallel while preserving input
// order in the result slice.
func (d *sarvamDescriber) DescribeAll(ctx context.Context, atts []datatypes.Attachment) []string {
	results := make([]string, len(atts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDescribes)
	for i, att := range atts {
		g.Go(func() error {
			results[i] = d.Describe(gctx, att)
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()
	return results
}

// callDescribe posts the image as multipart form data and extracts a
// description. withSettings selects the richer primary-endpoint form fields.
func (d *sarvamDescriber) callDescribe(ctx context.Context, url string, payload []byte, mimeType string, withSettings bool) (string, int, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	ext := extensionFor(mimeType)
	part, err := writer.CreateFormFile("file", "image."+ext)
	if err != nil {
		return "", 0, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", 0, fmt.Errorf("write multipart: %w", err)
	}
	if err := writer.WriteField("output_format", "markdown"); err != nil {
		return "", 0, fmt.Errorf("write field: %w", err)
	}
	if withSettings {
		if err := writer.WriteField("description_settings", `{"language":"en"}`); err != nil {
			return "", 0, fmt.Errorf("write field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", 0, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("api-subscription-key", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode, nil
	}

	var parsed describeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		d.logger.Warn("vision response not decodable", "error", err)
		return "", resp.StatusCode, nil
	}
	return strings.TrimSpace(parsed.content()), resp.StatusCode, nil
}

// decodeDataURL splits a base64 data URL into its payload and MIME type.
func decodeDataURL(url string) (payload []byte, mimeType string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return nil, "", false
	}
	rest := url[len(prefix):]
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return nil, "", false
	}
	mimeType = rest[:semi]
	encoded := rest[semi+len(";base64,"):]
	if mimeType == "" || encoded == "" {
		return nil, "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", false
	}
	return decoded, mimeType, true
}

// extensionFor derives a filename extension from an image MIME type.
func extensionFor(mimeType string) string {
	sub := strings.TrimPrefix(mimeType, "image/")
	if sub == "" || sub == mimeType {
		return "png"
	}
	if sub == "jpeg" {
		return "jpg"
	}
	return sub
}
