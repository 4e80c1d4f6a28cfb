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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
)

// ErrEditorUnavailable is returned when no editor command is configured
// or it cannot be started.
var ErrEditorUnavailable = errors.New("no usable editor")

// Editor lets the user change text before it is used.
type Editor interface {
	// Edit opens initial in an editor and returns the saved text. suffix
	// (for example ".py") selects syntax highlighting.
	Edit(ctx context.Context, initial, suffix string) (string, error)
}

// ExecEditor runs an external editor command on a temp file.
type ExecEditor struct {
	// Command is split on whitespace; the file path is appended.
	Command string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ Editor = (*ExecEditor)(nil)

// EditorCommand returns $VISUAL, then $EDITOR, then "vi".
func EditorCommand() string {
	for _, key := range []string{"VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "vi"
}

// NewExecEditor creates an editor attached to the process terminal.
func NewExecEditor() *ExecEditor {
	return &ExecEditor{
		Command: EditorCommand(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Edit writes initial to a temp file, waits for the editor to exit and
// returns the file's contents.
func (e *ExecEditor) Edit(ctx context.Context, initial, suffix string) (string, error) {
	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return "", ErrEditorUnavailable
	}

	f, err := os.CreateTemp("", "medic-edit-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("creating edit file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(initial); err != nil {
		f.Close()
		return "", fmt.Errorf("writing edit file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing edit file: %w", err)
	}

	cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], path)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = e.Stdin, e.Stdout, e.Stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("editor: %w", ctx.Err())
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%w: %v", ErrEditorUnavailable, err)
		}
		return "", fmt.Errorf("editor %s failed: %w", fields[0], err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading edited file: %w", err)
	}
	return string(data), nil
}

// MockEditor is a scriptable Editor for tests.
type MockEditor struct {
	EditFunc func(ctx context.Context, initial, suffix string) (string, error)
	Calls    []string
}

var _ Editor = (*MockEditor)(nil)

func (m *MockEditor) Edit(ctx context.Context, initial, suffix string) (string, error) {
	m.Calls = append(m.Calls, initial)
	if m.EditFunc == nil {
		return initial, nil
	}
	return m.EditFunc(ctx, initial, suffix)
}
