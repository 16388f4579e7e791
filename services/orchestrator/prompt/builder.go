// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompt assembles system prompts from the active persona mode, the
// caller's profile, and optional retrieved document context.
package prompt

import (
	"fmt"
	"strings"
)

// Mode selects a persona variant layered on top of the base prompt.
type Mode string

const (
	ModeDefault       Mode = "default"
	ModeCodeAssistant Mode = "code-assistant"
	ModeWriter        Mode = "writer"
	ModeWebSearch     Mode = "web-search"
)

// basePrompt is the persona every mode builds on. The wording is part of the
// prompt contract.
const basePrompt = "You are Kairo, an evolving intelligence AI. You are a highly capable text assistant."

// modeSuffixes are appended verbatim after the profile block.
var modeSuffixes = map[Mode]string{
	ModeCodeAssistant: "You are an expert programmer. Provide clean, efficient code. Always explain your technical decisions.",
	ModeWriter:        "You are an expert writer and editor. Focus on prose, tone, and grammar. Do not use markdown code blocks unless explicitly requested.",
	ModeWebSearch:     "You are a research assistant. Provide factual summaries.",
}

// Alternate persona templates, kept as an extension point for clients that
// swap the base persona entirely instead of layering a suffix. Unused by the
// default builder.
const (
	PersonaStudy   = "You are Kairo, a helpful study companion. Explain concepts clearly, encourage critical thinking, and summarize main points."
	PersonaCoding  = "You are Kairo, an expert software developer. Provide clean, well-documented, and production-ready code. Use markdown format exclusively for code blocks."
	PersonaELI5    = "You are Kairo. Explain complex topics as if I am 5 years old. Use simple language, analogies, and keep it very brief."
	PersonaMCQ     = "You are Kairo, an examiner. Generate multiple choice questions with 4 options and provide the correct answer at the end."
	PersonaDefault = "You are Kairo, a helpful multilingual AI assistant powered by Sarvam. You fluently understand and respond in multiple Indian languages along with English."
)

// ParseMode maps a client-supplied mode string to a Mode. Both the display
// form ("Code Assistant") and the slug form ("code-assistant") are accepted;
// anything else falls back to the default persona.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "code assistant", "code-assistant":
		return ModeCodeAssistant
	case "writer":
		return ModeWriter
	case "web search", "web-search":
		return ModeWebSearch
	default:
		return ModeDefault
	}
}

// Profile is the caller's personalization data, taken from the auth layer.
// Empty fields are omitted from the prompt.
type Profile struct {
	Name         string
	About        string
	Instructions string
}

// BuildSystemPrompt assembles the full system prompt.
//
// # Description
//
// Sections are appended in a fixed order: base persona, profile blocks, mode
// suffix, retrieval context. Each section is separated by a blank line.
//
// # Examples
//
//	BuildSystemPrompt(ModeWriter, Profile{Name: "Asha"}, "")
//	// "You are Kairo, ...\n\nThe user's name is Asha.\n\nYou are an expert
//	//  writer and editor. ..."
func BuildSystemPrompt(mode Mode, profile Profile, ragContext string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if profile.Name != "" {
		fmt.Fprintf(&b, "\n\nThe user's name is %s.", profile.Name)
	}
	if profile.About != "" {
		fmt.Fprintf(&b, "\n\nAbout the User:\n%s", profile.About)
	}
	if profile.Instructions != "" {
		fmt.Fprintf(&b, "\n\nCustom Instructions on how to respond:\n%s", profile.Instructions)
	}

	if suffix, ok := modeSuffixes[mode]; ok {
		b.WriteString("\n\n")
		b.WriteString(suffix)
	}

	if ragContext != "" {
		fmt.Fprintf(&b, "\n\nUse the following extracted context to inform your answer:\n---\n%s\n---", ragContext)
	}
	return b.String()
}
