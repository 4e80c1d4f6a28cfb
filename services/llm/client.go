// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the model clients the repair backends are built on:
// a local Ollama server and the OpenAI and Gemini cloud APIs.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the service cannot be used right now: it is
	// unreachable, unconfigured, or the model is not installed.
	ErrUnavailable = errors.New("llm service unavailable")

	// ErrEmptyResponse means the service answered without any text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is one turn of a chat exchange. Role is "system", "user" or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Chat sends a conversation and returns the assistant's reply.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// Ping checks that the service is reachable and the model usable. It
	// returns an error wrapping ErrUnavailable otherwise.
	Ping(ctx context.Context) error

	// Model returns the model identifier requests are sent to.
	Model() string
}

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams literals.
func Int(v int) *int { return &v }
