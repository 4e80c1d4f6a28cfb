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
	"sync"
)

// MockBackend is a scriptable Backend for tests.
type MockBackend struct {
	IDValue    string
	ModelValue string

	AvailableFunc func(ctx context.Context) error
	ProposeFunc   func(ctx context.Context, req *Request) (*Response, error)

	mu    sync.Mutex
	Calls []*Request
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) ID() string {
	if m.IDValue == "" {
		return "mock"
	}
	return m.IDValue
}

func (m *MockBackend) Model() string {
	if m.ModelValue == "" {
		return "mock-model"
	}
	return m.ModelValue
}

func (m *MockBackend) Available(ctx context.Context) error {
	if m.AvailableFunc != nil {
		return m.AvailableFunc(ctx)
	}
	return nil
}

func (m *MockBackend) Propose(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()

	if m.ProposeFunc != nil {
		return m.ProposeFunc(ctx, req)
	}
	return &Response{Text: req.SourceSpan, BackendID: m.ID(), ModelID: m.Model()}, nil
}

// CallCount returns the number of Propose calls so far.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
