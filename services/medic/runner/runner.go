// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package runner executes the wrapped command and captures how it ended.

Output is streamed to the user as the child produces it while a bounded
tail of each stream is kept for traceback parsing. All process execution
goes through the Executor interface so the orchestrator can be tested
with scripted runs.
*/
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultCaptureLimit is the number of trailing bytes kept per stream.
	DefaultCaptureLimit = 1 << 20

	// DefaultGracePeriod is how long the child gets between the interrupt
	// and a hard kill once the timeout fires.
	DefaultGracePeriod = 2 * time.Second

	// DefaultPython is the interpreter used for the "script.py" shorthand.
	DefaultPython = "python3"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// CrashKind classifies how a run ended.
type CrashKind string

const (
	// KindNone means the process exited with status zero.
	KindNone CrashKind = "none"

	// KindExit means the process exited with a non-zero status.
	KindExit CrashKind = "exit"

	// KindTimeout means the run exceeded its timeout and was terminated.
	KindTimeout CrashKind = "timeout"
)

// CrashReport is the captured result of one run.
type CrashReport struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	Kind     CrashKind
	Duration time.Duration

	// Truncated is set when either stream exceeded the capture limit and
	// only its tail was kept.
	Truncated bool
}

// Clean reports whether the run ended normally.
func (r *CrashReport) Clean() bool {
	return r.Kind == KindNone
}

// Executor runs a command to completion.
type Executor interface {
	Run(ctx context.Context, command []string, timeout time.Duration) (*CrashReport, error)
}

// Config configures a Runner. Zero values select the defaults.
type Config struct {
	// Stdout and Stderr receive the live pass-through. Nil means the
	// process' own stdout/stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Stdin feeds the child so programs that prompt keep working. Nil
	// means the process' own stdin.
	Stdin io.Reader

	// Dir is the child's working directory. Empty inherits ours.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	CaptureLimit int
	GracePeriod  time.Duration
}

// Runner is the os/exec backed Executor.
type Runner struct {
	cfg Config
}

var _ Executor = (*Runner)(nil)

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.CaptureLimit <= 0 {
		cfg.CaptureLimit = DefaultCaptureLimit
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Runner{cfg: cfg}
}

// Run executes command and waits for it to finish.
//
// # Description
//
// The child's output is copied live to the configured writers and its
// tail retained in the report. When timeout is positive and elapses, the
// child receives an interrupt (Python prints a traceback for the frame it
// was executing), then is killed after the grace period; the report's
// Kind is KindTimeout.
//
// # Outputs
//
//   - *CrashReport: Always non-nil when err is nil or a context error.
//   - error: *SpawnError when the command could not be started; the
//     parent context's error when the run was cancelled by the caller.
func (r *Runner) Run(ctx context.Context, command []string, timeout time.Duration) (*CrashReport, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, &SpawnError{Command: command, Err: ErrEmptyCommand}
	}

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Stdin = r.cfg.Stdin
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = r.cfg.GracePeriod

	stdoutTail := newTailBuffer(r.cfg.CaptureLimit)
	stderrTail := newTailBuffer(r.cfg.CaptureLimit)
	cmd.Stdout = io.MultiWriter(r.cfg.Stdout, stdoutTail)
	cmd.Stderr = io.MultiWriter(r.cfg.Stderr, stderrTail)

	slog.Debug("starting target", "command", strings.Join(command, " "), "timeout", timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	waitErr := cmd.Wait()

	report := &CrashReport{
		Command:   append([]string(nil), command...),
		ExitCode:  exitCode(cmd, waitErr),
		Stdout:    stdoutTail.String(),
		Stderr:    stderrTail.String(),
		Duration:  time.Since(start),
		Truncated: stdoutTail.Truncated() || stderrTail.Truncated(),
	}

	switch {
	case ctx.Err() != nil:
		report.Kind = KindExit
		return report, fmt.Errorf("run interrupted: %w", ctx.Err())
	case timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		report.Kind = KindTimeout
		slog.Warn("target exceeded timeout", "timeout", timeout)
	case report.ExitCode == 0 && waitErr == nil:
		report.Kind = KindNone
	default:
		report.Kind = KindExit
	}

	slog.Debug("target finished",
		"exit_code", report.ExitCode,
		"kind", string(report.Kind),
		"duration_ms", report.Duration.Milliseconds())

	return report, nil
}

// exitCode extracts the exit status; -1 when the child died from a signal.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// ExpandCommand applies the script shorthand: a single argument ending in
// ".py" runs under the given interpreter. Anything else is returned as is.
func ExpandCommand(args []string, python string) []string {
	if len(args) == 1 && strings.EqualFold(filepath.Ext(args[0]), ".py") {
		if python == "" {
			python = DefaultPython
		}
		return []string{python, args[0]}
	}
	return args
}
