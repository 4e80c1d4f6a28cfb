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
	"fmt"
)

// Unconfigured stands in for a backend that could not be built, usually
// for a missing credential. It is listed and probed like any other backend
// but is never available.
type Unconfigured struct {
	id     string
	model  string
	reason string
}

var _ Backend = (*Unconfigured)(nil)

// NewUnconfigured creates a placeholder for backend id.
func NewUnconfigured(id, model, reason string) *Unconfigured {
	return &Unconfigured{id: id, model: model, reason: reason}
}

func (u *Unconfigured) ID() string       { return u.id }
func (u *Unconfigured) Model() string    { return u.model }
func (u *Unconfigured) Describe() string { return u.reason }

func (u *Unconfigured) Available(ctx context.Context) error {
	return u.err()
}

func (u *Unconfigured) Propose(ctx context.Context, req *Request) (*Response, error) {
	return nil, u.err()
}

func (u *Unconfigured) err() error {
	return &BackendError{
		Backend: u.id,
		Model:   u.model,
		Err:     fmt.Errorf("%w: %s", ErrBackendUnavailable, u.reason),
	}
}
