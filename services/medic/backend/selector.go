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
	"strings"
)

// Selection modes. Any other value names a backend ID directly.
const (
	ModeAuto  = "auto"
	ModeLocal = "local"
	ModeCloud = "cloud"
)

// Backend IDs.
const (
	IDOllama = "ollama"
	IDOpenAI = "openai"
	IDGemini = "gemini"
)

// Describer is implemented by backends that can summarize their
// configuration for listings.
type Describer interface {
	Describe() string
}

// Status is the probe result for one backend.
type Status struct {
	ID     string
	Model  string
	Detail string
	Err    error
}

// Selector picks a backend per request.
//
// # Description
//
// Backends are held in probe order, local first. In auto mode each is
// probed in turn and the next is tried when one is unavailable or times
// out. Every other mode resolves to exactly one backend and never falls
// back.
type Selector struct {
	mode     string
	backends []Backend
}

var _ Backend = (*Selector)(nil)

// NewSelector creates a Selector over backends in probe order.
func NewSelector(mode string, backends ...Backend) *Selector {
	if mode == "" {
		mode = ModeAuto
	}
	return &Selector{mode: strings.ToLower(mode), backends: backends}
}

// ID returns the selection mode.
func (s *Selector) ID() string { return s.mode }

// Model returns the model of the first candidate.
func (s *Selector) Model() string {
	if c := s.candidates(); len(c) > 0 {
		return c[0].Model()
	}
	return ""
}

// Backends returns all configured backends in probe order.
func (s *Selector) Backends() []Backend {
	return s.backends
}

// candidates returns the backends eligible under the mode.
func (s *Selector) candidates() []Backend {
	switch s.mode {
	case ModeAuto:
		return s.backends
	case ModeLocal:
		return s.pick(func(b Backend) bool { return b.ID() == IDOllama })
	case ModeCloud:
		return s.pick(func(b Backend) bool { return b.ID() != IDOllama })
	default:
		return s.pick(func(b Backend) bool { return b.ID() == s.mode })
	}
}

// pick returns the first backend matching keep.
func (s *Selector) pick(keep func(Backend) bool) []Backend {
	for _, b := range s.backends {
		if keep(b) {
			return []Backend{b}
		}
	}
	return nil
}

// Available reports whether any candidate is usable.
func (s *Selector) Available(ctx context.Context) error {
	var errs []error
	for _, b := range s.candidates() {
		err := b.Available(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return s.unavailable(errs)
}

// Propose sends req to the first usable candidate.
func (s *Selector) Propose(ctx context.Context, req *Request) (*Response, error) {
	candidates := s.candidates()
	fallback := s.mode == ModeAuto

	var errs []error
	for _, b := range candidates {
		if fallback {
			if err := b.Available(ctx); err != nil {
				slog.Info("backend unavailable, trying next", "backend", b.ID(), "error", err)
				errs = append(errs, err)
				continue
			}
		}

		resp, err := b.Propose(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		retryable := errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBackendTimeout)
		if !fallback || !retryable {
			return nil, err
		}
		slog.Warn("backend failed, trying next", "backend", b.ID(), "error", err)
		errs = append(errs, err)
	}
	return nil, s.unavailable(errs)
}

// unavailable joins probe failures under ErrBackendUnavailable, keeping a
// timeout visible when that was the last failure.
func (s *Selector) unavailable(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("%w: no backend configured for mode %q", ErrBackendUnavailable, s.mode)
	}
	last := errs[len(errs)-1]
	if errors.Is(last, ErrBackendTimeout) && len(errs) == 1 {
		return last
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, errors.Join(errs...))
}

// Probe checks every configured backend, regardless of mode.
func (s *Selector) Probe(ctx context.Context) []Status {
	out := make([]Status, 0, len(s.backends))
	for _, b := range s.backends {
		st := Status{ID: b.ID(), Model: b.Model(), Err: b.Available(ctx)}
		if d, ok := b.(Describer); ok {
			st.Detail = d.Describe()
		}
		out = append(out, st)
	}
	return out
}
