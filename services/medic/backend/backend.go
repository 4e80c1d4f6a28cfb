// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend turns a crash diagnosis into a proposed replacement for
// the failing source region.
//
// A Backend is anything that can answer a Request with replacement text.
// The concrete variants wrap the model clients in services/llm; the
// Selector tries them in a fixed order.
package backend

import (
	"context"
	"time"

	"github.com/AleutianAI/medic/services/medic/extract"
)

// Backend produces replacement source for a failing region.
type Backend interface {
	// ID names the backend variant ("ollama", "openai", "gemini").
	ID() string

	// Model returns the model identifier requests go to.
	Model() string

	// Available probes the backend. It returns an error matching
	// ErrBackendUnavailable when the backend cannot serve requests.
	Available(ctx context.Context) error

	// Propose asks for a replacement of req.SourceSpan.
	Propose(ctx context.Context, req *Request) (*Response, error)
}

// Request is everything a backend sees about one crash.
type Request struct {
	FilePath  string
	StartLine int
	EndLine   int
	CrashLine int

	// SourceSpan is the exact text to be replaced.
	SourceSpan string
	SpanKind   extract.SpanKind

	// UnitName is the function name for unit spans.
	UnitName string

	ErrorKind    string
	ErrorMessage string

	// Frames is the traceback, outermost first, one "file:line in fn"
	// entry per frame.
	Frames []string

	// PriorRejected holds earlier proposals for this crash site that
	// did not fix it, oldest first.
	PriorRejected []string
}

// Response is a backend's raw answer.
type Response struct {
	Text      string
	BackendID string
	ModelID   string
	Latency   time.Duration
}

// Proposal is a normalized replacement ready for validation and diffing.
type Proposal struct {
	Context      *extract.SourceContext
	ProposedText string
	BackendID    string
	ModelID      string
}
