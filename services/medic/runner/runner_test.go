// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(stdout, stderr *bytes.Buffer) *Runner {
	return New(Config{Stdout: stdout, Stderr: stderr, GracePeriod: 500 * time.Millisecond})
}

func TestRunner_CleanExit(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newTestRunner(&out, &errOut)

	report, err := r.Run(context.Background(), []string{"sh", "-c", "echo hello"}, 0)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.Equal(t, 0, report.ExitCode)
	assert.Equal(t, "hello\n", report.Stdout)
	assert.Equal(t, "hello\n", out.String(), "output must be passed through")
}

func TestRunner_ForwardsStdin(t *testing.T) {
	var out, errOut bytes.Buffer
	r := New(Config{Stdout: &out, Stderr: &errOut, Stdin: strings.NewReader("Ada\n")})

	report, err := r.Run(context.Background(), []string{"sh", "-c", `read name && echo "hello $name"`}, 0)
	require.NoError(t, err)

	assert.True(t, report.Clean(), report.Stderr)
	assert.Equal(t, "hello Ada\n", report.Stdout)
}

func TestNew_DefaultsToProcessStreams(t *testing.T) {
	r := New(Config{})
	assert.Same(t, os.Stdin, r.cfg.Stdin)
	assert.Same(t, os.Stdout, r.cfg.Stdout)
	assert.Same(t, os.Stderr, r.cfg.Stderr)
}

func TestRunner_NonZeroExitCapturesStderr(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newTestRunner(&out, &errOut)

	script := `echo 'Traceback (most recent call last):' >&2; echo 'ZeroDivisionError: division by zero' >&2; exit 1`
	report, err := r.Run(context.Background(), []string{"sh", "-c", script}, 0)
	require.NoError(t, err)

	assert.False(t, report.Clean())
	assert.Equal(t, KindExit, report.Kind)
	assert.Equal(t, 1, report.ExitCode)
	assert.Contains(t, report.Stderr, "ZeroDivisionError")
	assert.Equal(t, report.Stderr, errOut.String())
	assert.Empty(t, report.Stdout)
}

func TestRunner_Timeout(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newTestRunner(&out, &errOut)

	start := time.Now()
	report, err := r.Run(context.Background(), []string{"sleep", "10"}, 200*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, KindTimeout, report.Kind)
	assert.False(t, report.Clean())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_ParentCancel(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newTestRunner(&out, &errOut)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	report, err := r.Run(ctx, []string{"sleep", "10"}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, report)
}

func TestRunner_SpawnErrors(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(notExec, []byte("#!/bin/sh\necho hi\n"), 0644))

	tests := []struct {
		name    string
		command []string
	}{
		{"empty", nil},
		{"missing executable", []string{"definitely-not-a-real-binary-medic"}},
		{"permission denied", []string{notExec}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Config{})
			_, err := r.Run(context.Background(), tt.command, 0)
			require.Error(t, err)

			var spawnErr *SpawnError
			assert.True(t, errors.As(err, &spawnErr))
			assert.True(t, errors.Is(err, ErrSpawn))
		})
	}
}

func TestRunner_CaptureLimitKeepsTail(t *testing.T) {
	var out, errOut bytes.Buffer
	r := New(Config{Stdout: &out, Stderr: &errOut, CaptureLimit: 16})

	report, err := r.Run(context.Background(), []string{"sh", "-c", "printf 'aaaaaaaaaaaaaaaaaaaaTAIL' >&2; exit 3"}, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, report.ExitCode)
	assert.True(t, report.Truncated)
	assert.True(t, strings.HasSuffix(report.Stderr, "TAIL"))
	assert.Len(t, report.Stderr, 16)
}

func TestExpandCommand(t *testing.T) {
	assert.Equal(t, []string{"python3", "app.py"}, ExpandCommand([]string{"app.py"}, ""))
	assert.Equal(t, []string{"py", "app.PY"}, ExpandCommand([]string{"app.PY"}, "py"))
	assert.Equal(t, []string{"pytest", "tests/"}, ExpandCommand([]string{"pytest", "tests/"}, ""))
	assert.Equal(t, []string{"./run.sh"}, ExpandCommand([]string{"./run.sh"}, ""))
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	assert.Equal(t, "abc", tb.String())
	assert.False(t, tb.Truncated())

	_, _ = tb.Write([]byte("def"))
	assert.Equal(t, "bcdef", tb.String())
	assert.True(t, tb.Truncated())

	tb2 := newTailBuffer(3)
	_, _ = tb2.Write([]byte("123456"))
	assert.Equal(t, "456", tb2.String())
	assert.True(t, tb2.Truncated())
}
