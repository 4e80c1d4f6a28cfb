// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrNonInteractive is returned when a prompt needs an answer but no
	// user can give one.
	ErrNonInteractive = errors.New("prompt requires an interactive terminal")

	// ErrCancelled is returned when the user aborts a prompt.
	ErrCancelled = errors.New("prompt cancelled by user")

	// ErrInvalidSelection is returned for an answer that names no option.
	ErrInvalidSelection = errors.New("invalid selection")
)

// UserPrompter asks the user questions.
//
// # Description
//
// Implementations decide how answers are obtained: from a terminal, from
// a fixed policy (--auto-fix), or from a test script. All blocking
// methods honor ctx; a cancelled context returns an error wrapping
// context.Canceled.
type UserPrompter interface {
	// Confirm asks a yes/no question. Anything but y/yes is no.
	Confirm(ctx context.Context, prompt string) (bool, error)

	// Select asks the user to pick one of options and returns its index.
	Select(ctx context.Context, prompt string, options []string) (int, error)

	// IsInteractive reports whether a person is answering.
	IsInteractive() bool
}

// =============================================================================
// InteractivePrompter
// =============================================================================

// InteractivePrompter reads answers line by line.
type InteractivePrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

var _ UserPrompter = (*InteractivePrompter)(nil)

// NewInteractivePrompter prompts on stderr and reads stdin.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
}

// NewInteractivePrompterWithIO prompts on w and reads r.
func NewInteractivePrompterWithIO(r io.Reader, w io.Writer) *InteractivePrompter {
	return &InteractivePrompter{reader: bufio.NewReader(r), writer: w}
}

// Confirm prints prompt with a [y/N] hint. EOF counts as no.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	fmt.Fprintf(p.writer, "%s [y/N] ", prompt)

	line, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Select prints numbered options and reads a 1-based choice. An empty
// answer or end of input returns ErrCancelled; any other answer that
// names no option returns ErrInvalidSelection.
func (p *InteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("select: no options")
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("select: %w", err)
	}

	fmt.Fprintln(p.writer, prompt)
	for i, opt := range options {
		fmt.Fprintf(p.writer, "  %d. %s\n", i+1, opt)
	}
	fmt.Fprintf(p.writer, "Enter choice [1-%d]: ", len(options))

	line, err := p.readLine(ctx)
	if err != nil {
		return 0, err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return 0, fmt.Errorf("select: %w", ErrCancelled)
	}
	choice, convErr := strconv.Atoi(answer)
	if convErr != nil || choice < 1 || choice > len(options) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSelection, answer)
	}
	return choice - 1, nil
}

// IsInteractive returns true.
func (p *InteractivePrompter) IsInteractive() bool { return true }

// readLine returns the next line without its terminator. EOF yields
// whatever was read, possibly "". A read blocked on a terminal cannot be
// interrupted, so cancellation abandons it.
func (p *InteractivePrompter) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.writer)
		return "", fmt.Errorf("prompt: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return "", fmt.Errorf("reading answer: %w", r.err)
		}
		return strings.TrimRight(r.line, "\r\n"), nil
	}
}

// =============================================================================
// Policy prompters
// =============================================================================

// NonInteractivePrompter refuses every prompt.
type NonInteractivePrompter struct{}

var _ UserPrompter = (*NonInteractivePrompter)(nil)

// NewNonInteractivePrompter is used when stdin is not a terminal.
func NewNonInteractivePrompter() *NonInteractivePrompter {
	return &NonInteractivePrompter{}
}

func (p *NonInteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

func (p *NonInteractivePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	return 0, fmt.Errorf("%w: %s", ErrNonInteractive, prompt)
}

func (p *NonInteractivePrompter) IsInteractive() bool { return false }

// AutoApprovePrompter answers yes and picks the first option.
type AutoApprovePrompter struct{}

var _ UserPrompter = (*AutoApprovePrompter)(nil)

// NewAutoApprovePrompter is used for --auto-fix.
func NewAutoApprovePrompter() *AutoApprovePrompter {
	return &AutoApprovePrompter{}
}

func (p *AutoApprovePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return true, nil
}

func (p *AutoApprovePrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("select: no options")
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("select: %w", err)
	}
	return 0, nil
}

func (p *AutoApprovePrompter) IsInteractive() bool { return false }

// =============================================================================
// MockPrompter
// =============================================================================

// PromptCall records one call made to a MockPrompter.
type PromptCall struct {
	Method  string
	Prompt  string
	Options []string
}

// MockPrompter is a scriptable UserPrompter for tests. Calling a method
// whose func is unset panics.
type MockPrompter struct {
	ConfirmFunc       func(ctx context.Context, prompt string) (bool, error)
	SelectFunc        func(ctx context.Context, prompt string, options []string) (int, error)
	IsInteractiveFunc func() bool

	mu    sync.Mutex
	Calls []PromptCall
}

var _ UserPrompter = (*MockPrompter)(nil)

func (m *MockPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	m.record(PromptCall{Method: "Confirm", Prompt: prompt})
	if m.ConfirmFunc == nil {
		panic("MockPrompter.ConfirmFunc not set")
	}
	return m.ConfirmFunc(ctx, prompt)
}

func (m *MockPrompter) Select(ctx context.Context, prompt string, options []string) (int, error) {
	m.record(PromptCall{Method: "Select", Prompt: prompt, Options: append([]string(nil), options...)})
	if m.SelectFunc == nil {
		panic("MockPrompter.SelectFunc not set")
	}
	return m.SelectFunc(ctx, prompt, options)
}

func (m *MockPrompter) IsInteractive() bool {
	if m.IsInteractiveFunc == nil {
		return true
	}
	return m.IsInteractiveFunc()
}

// Reset clears the call history.
func (m *MockPrompter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockPrompter) record(c PromptCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}
