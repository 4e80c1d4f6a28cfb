// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/medic/services/llm"
)

const (
	// DefaultTimeout bounds one proposal request.
	DefaultTimeout = 2 * time.Minute

	// probeTimeout bounds an availability probe.
	probeTimeout = 5 * time.Second
)

// LLMBackend adapts an llm.LLMClient to the Backend interface.
type LLMBackend struct {
	id      string
	detail  string
	client  llm.LLMClient
	timeout time.Duration
	params  llm.GenerationParams
}

var _ Backend = (*LLMBackend)(nil)

// NewLLMBackend wraps client under the given id. detail is a short
// human-readable description (host, credential state) for listings.
func NewLLMBackend(id, detail string, client llm.LLMClient, timeout time.Duration) *LLMBackend {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMBackend{
		id:      id,
		detail:  detail,
		client:  client,
		timeout: timeout,
		params: llm.GenerationParams{
			Temperature: llm.Float32(0.2),
			MaxTokens:   llm.Int(4096),
		},
	}
}

func (b *LLMBackend) ID() string       { return b.id }
func (b *LLMBackend) Model() string    { return b.client.Model() }
func (b *LLMBackend) Describe() string { return b.detail }

// Available pings the underlying service.
func (b *LLMBackend) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := b.client.Ping(ctx); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

// Propose sends the repair prompt and returns the raw answer.
func (b *LLMBackend) Propose(ctx context.Context, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(req)},
	}

	slog.Info("requesting fix",
		"backend", b.id,
		"model", b.client.Model(),
		"error_kind", req.ErrorKind,
		"span", fmt.Sprintf("%d-%d", req.StartLine, req.EndLine),
		"prior_attempts", len(req.PriorRejected))

	start := time.Now()
	text, err := b.client.Chat(callCtx, messages, b.params)
	if err != nil {
		// The caller's own cancellation is not a backend failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, b.wrap(callCtx, err)
	}

	return &Response{
		Text:      text,
		BackendID: b.id,
		ModelID:   b.client.Model(),
		Latency:   time.Since(start),
	}, nil
}

// wrap classifies a client error into the backend taxonomy.
func (b *LLMBackend) wrap(ctx context.Context, err error) error {
	var kind error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = ErrBackendTimeout
	case errors.Is(err, llm.ErrUnavailable):
		kind = ErrBackendUnavailable
	default:
		kind = ErrBackendInvalidResponse
	}
	return &BackendError{
		Backend: b.id,
		Model:   b.client.Model(),
		Err:     fmt.Errorf("%w: %v", kind, err),
	}
}
