// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/medic/pkg/ux"
	"github.com/AleutianAI/medic/services/medic/ast"
	"github.com/AleutianAI/medic/services/medic/backend"
	"github.com/AleutianAI/medic/services/medic/diff"
	"github.com/AleutianAI/medic/services/medic/extract"
	"github.com/AleutianAI/medic/services/medic/journal"
	"github.com/AleutianAI/medic/services/medic/metrics"
	"github.com/AleutianAI/medic/services/medic/runner"
)

// appSource has compute() on lines 4-8 and the crash on line 7.
const appSource = `import sys


def compute(values):
    total = 0
    for v in values:
        total += v / 0
    return total


if __name__ == "__main__":
    print(compute([1, 2, 3]))
`

const fixedCompute = `def compute(values):
    total = 0
    for v in values:
        total += v
    return total
`

// movedCrash fixes line 7 but divides by zero on line 8 instead.
const movedCrash = `def compute(values):
    total = 0
    for v in values:
        total += v
    return total / 0
`

// stillCrashing keeps the division on line 7; n makes each text distinct.
func stillCrashing(n int) string {
	return fmt.Sprintf(`def compute(values):
    total = 0
    for v in values:
        total += v / 0  # attempt %d
    return total
`, n)
}

func pyTraceback(path string, line int, code, errLine string) string {
	return "Traceback (most recent call last):\n" +
		fmt.Sprintf("  File \"%s\", line 12, in <module>\n", path) +
		"    print(compute([1, 2, 3]))\n" +
		fmt.Sprintf("  File \"%s\", line %d, in compute\n", path, line) +
		"    " + code + "\n" +
		errLine + "\n"
}

// =============================================================================
// Fakes
// =============================================================================

// fileRunner crashes based on the current content of the target file.
type fileRunner struct {
	path    string
	timeout bool
	runs    int
}

func (r *fileRunner) Run(ctx context.Context, command []string, timeout time.Duration) (*runner.CrashReport, error) {
	r.runs++
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	content := string(data)

	errLine := "ZeroDivisionError: division by zero"
	kind := runner.KindExit
	if r.timeout {
		errLine = "KeyboardInterrupt"
		kind = runner.KindTimeout
	}

	report := &runner.CrashReport{Command: command, ExitCode: 1, Kind: kind}
	switch {
	case strings.Contains(content, "v / 0"):
		report.Stderr = pyTraceback(r.path, 7, "total += v / 0", errLine)
	case strings.Contains(content, "total / 0"):
		report.Stderr = pyTraceback(r.path, 8, "return total / 0", errLine)
	default:
		return &runner.CrashReport{Command: command, Kind: runner.KindNone}, nil
	}
	return report, nil
}

type runFunc func(ctx context.Context, command []string, timeout time.Duration) (*runner.CrashReport, error)

func (f runFunc) Run(ctx context.Context, command []string, timeout time.Duration) (*runner.CrashReport, error) {
	return f(ctx, command, timeout)
}

// replies answers successive proposals with texts, repeating the last.
func replies(texts ...string) func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	n := 0
	return func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		text := texts[min(n, len(texts)-1)]
		n++
		return &backend.Response{Text: text, BackendID: "mock", ModelID: "mock-model"}, nil
	}
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	root    string
	path    string
	runner  *fileRunner
	backend *backend.MockBackend
	journal *journal.MockRecorder
	out     *bytes.Buffer
	cfg     Config
	deps    Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "app.py")
	require.NoError(t, os.WriteFile(path, []byte(appSource), 0644))

	parser, err := ast.NewParser()
	require.NoError(t, err)
	engine, err := diff.NewEngine(diff.Config{Root: root, Parser: parser})
	require.NoError(t, err)

	f := &fixture{
		root:    root,
		path:    path,
		runner:  &fileRunner{path: path},
		backend: &backend.MockBackend{IDValue: "mock"},
		journal: &journal.MockRecorder{},
		out:     &bytes.Buffer{},
	}
	f.cfg = Config{
		Command:   []string{"python3", path},
		Root:      root,
		AutoFix:   true,
		SessionID: "session-1",
	}
	f.deps = Dependencies{
		Runner:    f.runner,
		Extractor: extract.NewExtractor(parser, 5),
		Backend:   f.backend,
		Engine:    engine,
		Journal:   f.journal,
		Console:   ux.NewPlainConsole(f.out),
	}
	return f
}

func (f *fixture) run(t *testing.T) *Outcome {
	t.Helper()
	return f.runCtx(t, context.Background())
}

func (f *fixture) runCtx(t *testing.T, ctx context.Context) *Outcome {
	t.Helper()
	o, err := New(f.cfg, f.deps)
	require.NoError(t, err)
	out := o.Run(ctx)
	require.NotNil(t, out)
	return out
}

func (f *fixture) content(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) outcomes() []journal.Outcome {
	var out []journal.Outcome
	for _, r := range f.journal.All() {
		out = append(out, r.Outcome)
	}
	return out
}

// =============================================================================
// Terminal paths
// =============================================================================

func TestRun_CleanExit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.path, []byte("print('ok')\n"), 0644))

	out := f.run(t)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, ReasonClean, out.Reason)
	assert.Equal(t, ExitOK, out.ExitCode())
	assert.Zero(t, out.Attempts)
	assert.Zero(t, f.backend.CallCount())
	assert.Empty(t, f.journal.All())
}

func TestRun_Undiagnosable(t *testing.T) {
	f := newFixture(t)
	f.deps.Runner = runFunc(func(ctx context.Context, command []string, timeout time.Duration) (*runner.CrashReport, error) {
		return &runner.CrashReport{Command: command, ExitCode: 139, Stderr: "Segmentation fault\n", Kind: runner.KindExit}, nil
	})

	out := f.run(t)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonUndiagnosable, out.Reason)
	assert.Equal(t, ExitUndiagnosable, out.ExitCode())
	assert.True(t, errors.Is(out.Err, ErrUndiagnosableCrash))
	assert.Zero(t, f.backend.CallCount())
	assert.Equal(t, 139, out.LastReport.ExitCode)
}

func TestRun_FrameOutsideRoot(t *testing.T) {
	f := newFixture(t)
	f.deps.Runner = runFunc(func(ctx context.Context, command []string, timeout time.Duration) (*runner.CrashReport, error) {
		stderr := pyTraceback("/usr/lib/python3/json/decoder.py", 355, "raise JSONDecodeError", "json.decoder.JSONDecodeError: Expecting value")
		return &runner.CrashReport{Command: command, ExitCode: 1, Stderr: stderr, Kind: runner.KindExit}, nil
	})

	out := f.run(t)
	assert.Equal(t, ReasonUndiagnosable, out.Reason)
	assert.Contains(t, out.Message, "no frame of the traceback")
	require.NotNil(t, out.LastTraceback)
	assert.Zero(t, f.backend.CallCount())
}

func TestRun_SpawnError(t *testing.T) {
	f := newFixture(t)
	f.deps.Runner = runFunc(func(ctx context.Context, command []string, timeout time.Duration) (*runner.CrashReport, error) {
		return nil, &runner.SpawnError{Command: command, Err: exec.ErrNotFound}
	})

	out := f.run(t)
	assert.Equal(t, ReasonSpawn, out.Reason)
	assert.Equal(t, ExitSpawn, out.ExitCode())
	assert.True(t, errors.Is(out.Err, runner.ErrSpawn))
}

// =============================================================================
// Repair loop
// =============================================================================

func TestRun_FixedOnFirstAttempt(t *testing.T) {
	f := newFixture(t)
	f.backend.ProposeFunc = replies(fixedCompute)

	out := f.run(t)
	require.Equal(t, StateDone, out.State, out.Message)
	assert.Equal(t, ReasonFixed, out.Reason)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Applied())
	assert.Equal(t, 2, f.runner.runs)
	assert.Contains(t, f.content(t), "        total += v\n")

	require.Len(t, out.History, 1)
	res := out.History[0]
	assert.Equal(t, diff.StatusFixed, res.Status)
	assert.FileExists(t, res.BackupPath)
	backup, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, appSource, string(backup))

	req := f.backend.Calls[0]
	assert.Equal(t, "ZeroDivisionError", req.ErrorKind)
	assert.Equal(t, 7, req.CrashLine)
	assert.Equal(t, "compute", req.UnitName)
	assert.Empty(t, req.PriorRejected)

	recs := f.journal.All()
	require.Len(t, recs, 1)
	assert.Equal(t, journal.OutcomeFixed, recs[0].Outcome)
	assert.Equal(t, "session-1", recs[0].SessionID)
	assert.Equal(t, 1, recs[0].Attempt)
	assert.Equal(t, "app.py", recs[0].File)
	assert.Equal(t, 7, recs[0].Line)
	assert.Equal(t, "mock", recs[0].BackendID)
	assert.Equal(t, 1, recs[0].LinesAdded)
	assert.Equal(t, 1, recs[0].LinesDeleted)
	assert.Equal(t, res.BackupPath, recs[0].BackupPath)
}

func TestRun_BoundedRetryFeedsBackRejected(t *testing.T) {
	f := newFixture(t)
	f.backend.ProposeFunc = replies(stillCrashing(1), stillCrashing(2), stillCrashing(3), fixedCompute)

	out := f.run(t)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonVerification, out.Reason)
	assert.Equal(t, ExitFailure, out.ExitCode())
	assert.True(t, errors.Is(out.Err, ErrVerificationFailed))
	assert.Equal(t, DefaultMaxAttempts, out.Attempts)
	assert.Equal(t, 3, f.backend.CallCount(), "no fourth proposal is requested")

	require.Len(t, out.History, 3)
	for _, h := range out.History {
		assert.True(t, h.Applied)
		assert.Equal(t, diff.StatusStillFailing, h.Status)
	}
	assert.Contains(t, out.LastDiff, "# attempt 3")

	assert.Empty(t, f.backend.Calls[0].PriorRejected)
	assert.Equal(t, []string{stillCrashing(1)}, f.backend.Calls[1].PriorRejected)
	assert.Equal(t, []string{stillCrashing(1), stillCrashing(2)}, f.backend.Calls[2].PriorRejected)

	assert.Equal(t, []journal.Outcome{
		journal.OutcomeStillFailing, journal.OutcomeStillFailing, journal.OutcomeStillFailing,
	}, f.outcomes())
	for i, r := range f.journal.All() {
		assert.Equal(t, i+1, r.Attempt)
	}
}

func TestRun_CrashElsewhereStartsFreshHistory(t *testing.T) {
	f := newFixture(t)
	f.backend.ProposeFunc = replies(movedCrash, fixedCompute)

	out := f.run(t)
	require.Equal(t, StateDone, out.State, out.Message)
	assert.Equal(t, 2, out.Attempts)

	require.Equal(t, 2, f.backend.CallCount())
	assert.Equal(t, 8, f.backend.Calls[1].CrashLine)
	assert.Empty(t, f.backend.Calls[1].PriorRejected)

	require.Len(t, out.History, 2)
	assert.Equal(t, diff.StatusStillFailing, out.History[0].Status)
	assert.Equal(t, diff.StatusFixed, out.History[1].Status)
	assert.Equal(t, []journal.Outcome{journal.OutcomeStillFailing, journal.OutcomeFixed}, f.outcomes())
}

func TestRun_InvalidResponseConsumesAttempts(t *testing.T) {
	f := newFixture(t)
	// The default mock echoes the original span, which is not a change.
	f.cfg.MaxAttempts = 2

	out := f.run(t)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonInvalidResponse, out.Reason)
	assert.True(t, errors.Is(out.Err, backend.ErrBackendInvalidResponse))
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, f.backend.CallCount())
	assert.Equal(t, appSource, f.content(t))
	assert.Equal(t, []journal.Outcome{journal.OutcomeInvalidResponse, journal.OutcomeInvalidResponse}, f.outcomes())
}

func TestRun_InvalidResponseThenFix(t *testing.T) {
	f := newFixture(t)
	f.backend.ProposeFunc = replies("```python\n```", fixedCompute)

	out := f.run(t)
	require.Equal(t, StateDone, out.State, out.Message)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []journal.Outcome{journal.OutcomeInvalidResponse, journal.OutcomeFixed}, f.outcomes())
}

func TestRun_ValidationRejected(t *testing.T) {
	f := newFixture(t)
	f.backend.ProposeFunc = replies("def compute(values:\n    return 0\n")

	out := f.run(t)
	assert.Equal(t, ReasonValidation, out.Reason)
	assert.True(t, errors.Is(out.Err, diff.ErrValidationRejected))
	assert.Equal(t, appSource, f.content(t))
	assert.Empty(t, out.History)
	assert.Equal(t, []journal.Outcome{journal.OutcomeValidationRejected}, f.outcomes())
}

func TestRun_BackendFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason Reason
	}{
		{"unavailable", backend.ErrBackendUnavailable, ReasonBackendUnavailable},
		{"timeout", backend.ErrBackendTimeout, ReasonBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.backend.ProposeFunc = func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				return nil, &backend.BackendError{Backend: "ollama", Model: "m", Err: tt.err}
			}

			out := f.run(t)
			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, ExitFailure, out.ExitCode())
			assert.Equal(t, 1, f.backend.CallCount())
			require.NotNil(t, out.LastContext)
			assert.Equal(t, 4, out.LastContext.StartLine)

			recs := f.journal.All()
			require.Len(t, recs, 1)
			assert.Equal(t, journal.OutcomeBackendUnavailable, recs[0].Outcome)
		})
	}
}

func TestRun_TimeoutCrash(t *testing.T) {
	f := newFixture(t)
	f.runner.timeout = true
	f.cfg.RunTimeout = time.Second
	f.backend.ProposeFunc = replies(fixedCompute)

	out := f.run(t)
	require.Equal(t, StateDone, out.State, out.Message)
	require.Equal(t, 1, f.backend.CallCount())
	assert.Equal(t, backend.TimeoutKind, f.backend.Calls[0].ErrorKind)

	recs := f.journal.All()
	require.Len(t, recs, 1)
	assert.Equal(t, backend.TimeoutKind, recs[0].ErrorKind)
}

// =============================================================================
// Confirmation
// =============================================================================

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.DryRun = true
	f.backend.ProposeFunc = replies(fixedCompute)

	out := f.run(t)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, ReasonDryRun, out.Reason)
	assert.Equal(t, ExitOK, out.ExitCode())
	assert.False(t, out.Applied())
	assert.Equal(t, appSource, f.content(t))
	assert.NoDirExists(t, filepath.Join(f.root, ".medic", "backups"))
	assert.Equal(t, 1, f.runner.runs)

	require.Len(t, out.History, 1)
	assert.Equal(t, diff.StatusAborted, out.History[0].Status)
	assert.Contains(t, out.LastDiff, "+        total += v\n")
	assert.Contains(t, f.out.String(), "total += v / 0")
	assert.Equal(t, []journal.Outcome{journal.OutcomeDryRun}, f.outcomes())
}

func TestRun_Rejected(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoFix = false
	f.backend.ProposeFunc = replies(fixedCompute)
	prompter := &ux.MockPrompter{
		SelectFunc: func(ctx context.Context, prompt string, options []string) (int, error) {
			return len(options) - 1, nil
		},
	}
	f.deps.Prompter = prompter

	out := f.run(t)
	assert.Equal(t, ReasonRejected, out.Reason)
	assert.Equal(t, ExitRejected, out.ExitCode())
	assert.True(t, errors.Is(out.Err, ErrRejected))
	assert.Equal(t, appSource, f.content(t))

	require.Len(t, prompter.Calls, 1)
	assert.Equal(t, []string{choiceApply, choiceReject}, prompter.Calls[0].Options)
	assert.Equal(t, []journal.Outcome{journal.OutcomeRejected}, f.outcomes())
}

func TestRun_NonInteractiveWithoutAutoFix(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoFix = false
	f.backend.ProposeFunc = replies(fixedCompute)

	out := f.run(t)
	assert.Equal(t, ReasonRejected, out.Reason)
	assert.True(t, errors.Is(out.Err, ErrRejected))
	assert.True(t, errors.Is(out.Err, ux.ErrNonInteractive))
	assert.Contains(t, out.Message, "--auto-fix")
	assert.Equal(t, appSource, f.content(t))
}

func TestRun_InvalidChoiceAsksAgain(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoFix = false
	f.backend.ProposeFunc = replies(fixedCompute)
	var prompts bytes.Buffer
	f.deps.Prompter = ux.NewInteractivePrompterWithIO(strings.NewReader("y\n1\n"), &prompts)

	out := f.run(t)
	require.Equal(t, StateDone, out.State, out.Message)
	assert.Equal(t, ReasonFixed, out.Reason)
	assert.NotEqual(t, appSource, f.content(t))
	assert.Equal(t, 2, strings.Count(prompts.String(), "Apply this fix?"))
	assert.Contains(t, f.out.String(), `invalid selection: "y"`)
}

func TestRun_EndOfInputRejects(t *testing.T) {
	for name, input := range map[string]string{"eof": "", "empty answer": "\n", "invalid then eof": "yes\n"} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.AutoFix = false
			f.backend.ProposeFunc = replies(fixedCompute)
			f.deps.Prompter = ux.NewInteractivePrompterWithIO(strings.NewReader(input), &bytes.Buffer{})

			out := f.run(t)
			assert.Equal(t, ReasonRejected, out.Reason)
			assert.Equal(t, ExitRejected, out.ExitCode())
			assert.Equal(t, appSource, f.content(t))
		})
	}
}

func TestRun_EditBeforeApplying(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoFix = false
	f.backend.ProposeFunc = replies(stillCrashing(1))

	choices := []int{1, 0}
	prompter := &ux.MockPrompter{
		SelectFunc: func(ctx context.Context, prompt string, options []string) (int, error) {
			c := choices[0]
			choices = choices[1:]
			return c, nil
		},
	}
	editor := &ux.MockEditor{
		EditFunc: func(ctx context.Context, initial, suffix string) (string, error) {
			assert.Equal(t, ".py", suffix)
			return strings.TrimSuffix(fixedCompute, "\n"), nil
		},
	}
	f.deps.Prompter = prompter
	f.deps.Editor = editor

	out := f.run(t)
	require.Equal(t, StateDone, out.State, out.Message)
	assert.Equal(t, ReasonFixed, out.Reason)
	assert.Equal(t, []string{stillCrashing(1)}, editor.Calls)
	require.Len(t, prompter.Calls, 2)
	assert.Equal(t, []string{choiceApply, choiceEdit, choiceReject}, prompter.Calls[0].Options)
	assert.Equal(t, strings.Replace(appSource, "v / 0", "v", 1), f.content(t))
}

func TestRun_ConflictWhenFileChangesDuringConfirmation(t *testing.T) {
	f := newFixture(t)
	f.cfg.AutoFix = false
	f.backend.ProposeFunc = replies(fixedCompute)
	edited := strings.Replace(appSource, "total = 0", "total = 1", 1)
	f.deps.Prompter = &ux.MockPrompter{
		SelectFunc: func(ctx context.Context, prompt string, options []string) (int, error) {
			require.NoError(t, os.WriteFile(f.path, []byte(edited), 0644))
			return 0, nil
		},
	}

	out := f.run(t)
	assert.Equal(t, ReasonConflict, out.Reason)
	assert.True(t, errors.Is(out.Err, diff.ErrPatchConflict))
	assert.Equal(t, edited, f.content(t))
	assert.NotEmpty(t, out.LastDiff)
	assert.Equal(t, []journal.Outcome{journal.OutcomeConflict}, f.outcomes())
}

func TestRun_Interrupted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.backend.ProposeFunc = func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
		cancel()
		return nil, ctx.Err()
	}

	out := f.runCtx(t, ctx)
	assert.Equal(t, ReasonInterrupted, out.Reason)
	assert.Equal(t, ExitInterrupted, out.ExitCode())
	assert.True(t, errors.Is(out.Err, context.Canceled))
	assert.Equal(t, appSource, f.content(t))
	assert.Equal(t, []journal.Outcome{journal.OutcomeInterrupted}, f.outcomes())
}

// =============================================================================
// Wiring
// =============================================================================

func TestRun_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	f.backend.ProposeFunc = replies(fixedCompute)
	m := metrics.New()
	f.deps.Metrics = m

	out := f.run(t)
	require.Equal(t, StateDone, out.State)

	for name, want := range map[string]int{
		"medic_sessions_total":                   1,
		"medic_attempts_total":                   1,
		"medic_backend_request_duration_seconds": 1,
		"medic_run_duration_seconds":             1,
	} {
		got, err := testutil.GatherAndCount(m.Registry(), name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)

	cfg := f.cfg
	cfg.Command = nil
	_, err := New(cfg, f.deps)
	assert.True(t, errors.Is(err, runner.ErrEmptyCommand))

	deps := f.deps
	deps.Backend = nil
	_, err = New(f.cfg, deps)
	assert.Error(t, err)

	cfg = f.cfg
	cfg.SessionID = ""
	cfg.MaxAttempts = 0
	o, err := New(cfg, f.deps)
	require.NoError(t, err)
	assert.Len(t, o.SessionID(), 36)
	assert.Equal(t, DefaultMaxAttempts, o.cfg.MaxAttempts)
}

func TestOutcome_ExitCode(t *testing.T) {
	tests := []struct {
		state  State
		reason Reason
		want   int
	}{
		{StateDone, ReasonClean, ExitOK},
		{StateDone, ReasonFixed, ExitOK},
		{StateDone, ReasonDryRun, ExitOK},
		{StateFailed, ReasonUndiagnosable, ExitUndiagnosable},
		{StateFailed, ReasonRejected, ExitRejected},
		{StateFailed, ReasonSpawn, ExitSpawn},
		{StateFailed, ReasonInterrupted, ExitInterrupted},
		{StateFailed, ReasonVerification, ExitFailure},
		{StateFailed, ReasonConflict, ExitFailure},
		{StateFailed, ReasonBackendUnavailable, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			out := &Outcome{State: tt.state, Reason: tt.reason}
			assert.Equal(t, tt.want, out.ExitCode())
		})
	}
}

func TestMatchTerminator(t *testing.T) {
	assert.Equal(t, "x = 1\n", matchTerminator("x = 1", "y\n"))
	assert.Equal(t, "x = 1\n", matchTerminator("x = 1\n\n", "y\n"))
	assert.Equal(t, "x = 1", matchTerminator("x = 1\r\n", "y"))
}
