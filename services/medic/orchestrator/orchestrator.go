// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives one medic session: run the target, diagnose
// a crash, obtain a fix, confirm it, apply it and verify it.
//
// The session is an explicit loop over State. The only edge that revisits
// an earlier state is VERIFYING (or a rejected backend answer) back to
// DIAGNOSING, and it is bounded by MaxAttempts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/medic/pkg/ux"
	"github.com/AleutianAI/medic/services/medic/backend"
	"github.com/AleutianAI/medic/services/medic/diff"
	"github.com/AleutianAI/medic/services/medic/extract"
	"github.com/AleutianAI/medic/services/medic/journal"
	"github.com/AleutianAI/medic/services/medic/lock"
	"github.com/AleutianAI/medic/services/medic/metrics"
	"github.com/AleutianAI/medic/services/medic/runner"
	"github.com/AleutianAI/medic/services/medic/traceback"
)

var tracer = otel.Tracer("medic.orchestrator")

// DefaultMaxAttempts bounds the retry loop when Config leaves it unset.
const DefaultMaxAttempts = 3

// Confirmation choices, in display order.
const (
	choiceApply  = "Apply the fix"
	choiceEdit   = "Edit before applying"
	choiceReject = "Reject"
)

// =============================================================================
// Configuration
// =============================================================================

// Config describes one session.
type Config struct {
	// Command is the target command line, already expanded.
	Command []string

	// Root bounds which files may be patched.
	Root string

	// WorkDir is the target's working directory, used to resolve relative
	// traceback paths. Empty means Root.
	WorkDir string

	MaxAttempts int

	// RunTimeout limits each run of the target. Zero means no limit.
	RunTimeout time.Duration

	// DryRun shows the proposal and stops without writing.
	DryRun bool

	// AutoFix applies proposals without asking.
	AutoFix bool

	// SessionID tags journal records. Empty generates a UUID.
	SessionID string
}

// Dependencies are the collaborators a session uses. Runner, Extractor,
// Backend and Engine are required.
type Dependencies struct {
	Runner    runner.Executor
	Extractor *extract.Extractor
	Backend   backend.Backend
	Engine    *diff.Engine

	// Prompter answers the confirmation. Nil means non-interactive.
	Prompter ux.UserPrompter

	// Editor enables the edit choice. Nil hides it.
	Editor ux.Editor

	Journal journal.Recorder
	Metrics *metrics.Metrics
	Console *ux.Console
}

// Orchestrator runs sessions.
//
// # Thread Safety
//
// An Orchestrator runs one session at a time. Run must not be called
// concurrently on the same value.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
}

// New validates cfg and deps and fills defaults.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("orchestrator: %w", runner.ErrEmptyCommand)
	}
	if deps.Runner == nil || deps.Extractor == nil || deps.Backend == nil || deps.Engine == nil {
		return nil, errors.New("orchestrator: runner, extractor, backend and engine are required")
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", cfg.Root, err)
	}
	cfg.Root = root
	if cfg.WorkDir == "" {
		cfg.WorkDir = root
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if deps.Prompter == nil {
		deps.Prompter = ux.NewNonInteractivePrompter()
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Console == nil {
		deps.Console = ux.NewPlainConsole(io.Discard)
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// SessionID returns the identifier written to the journal.
func (o *Orchestrator) SessionID() string {
	return o.cfg.SessionID
}

// =============================================================================
// Session
// =============================================================================

// session is the mutable state of one Run.
type session struct {
	o   *Orchestrator
	out *Outcome

	report *runner.CrashReport
	tb     *traceback.Traceback
	frame  traceback.Frame
	sc     *extract.SourceContext
	req    *backend.Request
	resp   *backend.Response

	proposal *backend.Proposal
	rendered *diff.Rendered
	applied  *diff.PatchResult

	// prior holds proposals that were applied and left the crash at the
	// same site.
	prior []string

	attempt      int
	attemptStart time.Time
	recorded     bool
}

// Run executes the pipeline until it reaches DONE or FAILED.
//
// # Description
//
// The target runs once. A clean exit ends the session. A crash with a
// traceback pointing into Root is extracted, sent to the backend and,
// after confirmation, patched. The target is then re-run; a crash at the
// same site feeds the failed proposal back to the backend. Every attempt
// is journaled. Cancelling ctx ends the session as interrupted.
//
// # Outputs
//
//   - *Outcome: Always non-nil. The terminal state, reason and history.
func (o *Orchestrator) Run(ctx context.Context) *Outcome {
	ctx, span := tracer.Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("medic.session", o.cfg.SessionID),
		attribute.String("medic.command", strings.Join(o.cfg.Command, " ")),
	)

	s := &session{o: o, out: &Outcome{}}
	state := StateRun
	for !state.Terminal() {
		next := s.step(ctx, state)
		slog.Debug("state transition", "session", o.cfg.SessionID, "from", string(state), "to", string(next))
		span.AddEvent("transition", trace.WithAttributes(
			attribute.String("from", string(state)),
			attribute.String("to", string(next)),
		))
		state = next
	}

	span.SetAttributes(
		attribute.String("medic.state", string(s.out.State)),
		attribute.String("medic.reason", string(s.out.Reason)),
		attribute.Int("medic.attempts", s.out.Attempts),
	)
	if s.out.State == StateFailed {
		span.SetStatus(codes.Error, string(s.out.Reason))
	}
	o.deps.Metrics.ObserveSession(string(s.out.State), string(s.out.Reason))
	return s.out
}

func (s *session) step(ctx context.Context, state State) State {
	switch state {
	case StateRun:
		return s.run(ctx)
	case StateCrashed:
		return s.crashed()
	case StateDiagnosing:
		return s.diagnose(ctx)
	case StateProposed:
		return s.propose(ctx)
	case StateConfirming:
		return s.confirm(ctx)
	case StateApplying:
		return s.apply(ctx)
	case StateVerifying:
		return s.verify(ctx)
	default:
		return s.fail(ReasonError, fmt.Sprintf("unknown state %q", state), nil)
	}
}

// =============================================================================
// States
// =============================================================================

func (s *session) run(ctx context.Context) State {
	report, next, ok := s.execute(ctx)
	if !ok {
		return next
	}
	if report.Clean() {
		s.o.deps.Console.Success("Command exited cleanly, nothing to fix")
		return s.finish(StateDone, ReasonClean, "command exited cleanly", nil)
	}
	return StateCrashed
}

// execute runs the target once. ok is false when the run itself failed
// and next is the terminal state.
func (s *session) execute(ctx context.Context) (*runner.CrashReport, State, bool) {
	report, err := s.o.deps.Runner.Run(ctx, s.o.cfg.Command, s.o.cfg.RunTimeout)
	if report != nil {
		s.report = report
		s.out.LastReport = report
		s.o.deps.Metrics.ObserveRun(report.Duration)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.interrupted(err), false
		}
		if errors.Is(err, runner.ErrSpawn) {
			return nil, s.fail(ReasonSpawn, err.Error(), err), false
		}
		return nil, s.fail(ReasonError, err.Error(), err), false
	}
	return report, "", true
}

func (s *session) crashed() State {
	c := s.o.deps.Console
	tb := traceback.Parse(s.report.Stderr)
	if tb == nil {
		msg := fmt.Sprintf("exit status %d with no traceback on stderr", s.report.ExitCode)
		if s.report.Kind == runner.KindTimeout {
			msg = fmt.Sprintf("timed out after %s with no traceback on stderr", s.o.cfg.RunTimeout)
		}
		return s.fail(ReasonUndiagnosable, msg, ErrUndiagnosableCrash)
	}
	s.tb = tb
	s.out.LastTraceback = tb

	frame, ok := tb.Candidate(s.o.cfg.Root, s.o.cfg.WorkDir)
	if !ok {
		return s.fail(ReasonUndiagnosable,
			fmt.Sprintf("%s: no frame of the traceback is inside %s", tb.Summary(), s.o.cfg.Root),
			ErrUndiagnosableCrash)
	}
	s.frame = frame

	c.Error("Crash detected: " + tb.Summary())
	c.KeyValue("Location", s.relFrame())
	if s.report.Kind == runner.KindTimeout {
		c.KeyValue("Cause", "timed out after "+s.o.cfg.RunTimeout.String())
	}

	s.beginAttempt(1)
	return StateDiagnosing
}

func (s *session) diagnose(ctx context.Context) State {
	sc, err := s.o.deps.Extractor.Extract(ctx, s.frame.FilePath, s.frame.Line)
	if err != nil {
		if ctx.Err() != nil {
			return s.interrupted(err)
		}
		return s.fail(ReasonExtraction, err.Error(), err)
	}
	s.sc = sc
	s.out.LastContext = sc

	what := fmt.Sprintf("lines %d-%d", sc.StartLine, sc.EndLine)
	if sc.Kind == extract.SpanUnit {
		what = fmt.Sprintf("%s() at %s", sc.UnitName, what)
	}
	s.o.deps.Console.Info(fmt.Sprintf("Attempt %d/%d: analyzing %s", s.attempt, s.o.cfg.MaxAttempts, what))
	return StateProposed
}

func (s *session) propose(ctx context.Context) State {
	b := s.o.deps.Backend
	s.req = backend.BuildRequest(s.sc, s.tb, s.report.Kind == runner.KindTimeout, s.prior)

	spinner := s.o.deps.Console.NewSpinner(fmt.Sprintf("Asking %s (%s) for a fix", b.ID(), b.Model()))
	spinner.Start()
	start := time.Now()
	resp, err := b.Propose(ctx, s.req)
	spinner.Stop()
	s.resp = resp

	s.o.deps.Metrics.ObserveBackend(respondent(b, resp, err), time.Since(start), err)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return s.interrupted(err)
		case errors.Is(err, backend.ErrBackendUnavailable):
			return s.fail(ReasonBackendUnavailable, err.Error(), err)
		case errors.Is(err, backend.ErrBackendTimeout):
			return s.fail(ReasonBackendTimeout, err.Error(), err)
		case errors.Is(err, backend.ErrBackendInvalidResponse):
			return s.retryInvalid(err)
		default:
			return s.fail(ReasonError, err.Error(), err)
		}
	}

	p, err := backend.NewProposal(s.sc, resp)
	if err != nil {
		return s.retryInvalid(err)
	}
	s.proposal = p

	if err := s.o.deps.Engine.Validate(ctx, p); err != nil {
		return s.rejectProposal(ctx, err)
	}

	rendered, err := s.o.deps.Engine.Diff(s.sc, p.ProposedText)
	if err != nil {
		return s.patchError(ctx, err)
	}
	if rendered.Empty() {
		return s.retryInvalid(&backend.BackendError{
			Backend: p.BackendID,
			Model:   p.ModelID,
			Err:     fmt.Errorf("%w: proposal is identical to the original", backend.ErrBackendInvalidResponse),
		})
	}
	s.rendered = rendered
	s.out.LastDiff = rendered.Text
	return StateConfirming
}

func (s *session) confirm(ctx context.Context) State {
	c := s.o.deps.Console
	for {
		c.Box("Proposed fix", fmt.Sprintf("%s lines %d-%d, from %s (%s), +%d -%d",
			s.rel(s.sc.FilePath), s.sc.StartLine, s.sc.EndLine,
			s.proposal.BackendID, s.proposal.ModelID,
			s.rendered.Stats.Added, s.rendered.Stats.Deleted))
		c.Diff(s.rendered.Text)

		if s.o.cfg.DryRun {
			s.out.History = append(s.out.History, &diff.PatchResult{
				FilePath: s.sc.FilePath,
				DiffText: s.rendered.Text,
				Stats:    s.rendered.Stats,
				Status:   diff.StatusAborted,
			})
			c.Muted("Dry run: no files were changed")
			return s.finish(StateDone, ReasonDryRun, "dry run, proposal not applied", nil)
		}
		if s.o.cfg.AutoFix {
			return StateApplying
		}

		options := []string{choiceApply, choiceEdit, choiceReject}
		if s.o.deps.Editor == nil {
			options = []string{choiceApply, choiceReject}
		}
		idx, err := s.o.deps.Prompter.Select(ctx, "Apply this fix?", options)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return s.interrupted(err)
			case errors.Is(err, ux.ErrNonInteractive):
				return s.fail(ReasonRejected,
					"no terminal to confirm the fix; re-run with --auto-fix or --dry-run",
					fmt.Errorf("%w: %w", ErrRejected, err))
			case errors.Is(err, ux.ErrCancelled):
				return s.reject()
			case errors.Is(err, ux.ErrInvalidSelection):
				c.Warning(fmt.Sprintf("%v; enter one of the numbers shown", err))
				continue
			default:
				return s.fail(ReasonError, err.Error(), err)
			}
		}

		switch options[idx] {
		case choiceApply:
			return StateApplying
		case choiceReject:
			return s.reject()
		case choiceEdit:
			if next, done := s.edit(ctx); done {
				return next
			}
		}
	}
}

// edit replaces the proposal with the user's edited text. done is true
// when the session must stop.
func (s *session) edit(ctx context.Context) (State, bool) {
	edited, err := s.o.deps.Editor.Edit(ctx, s.proposal.ProposedText, filepath.Ext(s.sc.FilePath))
	if err != nil {
		if ctx.Err() != nil {
			return s.interrupted(err), true
		}
		s.o.deps.Console.Warning("Editor failed: " + err.Error())
		return "", false
	}

	p := &backend.Proposal{
		Context:      s.sc,
		ProposedText: matchTerminator(edited, s.sc.OriginalText),
		BackendID:    s.proposal.BackendID,
		ModelID:      s.proposal.ModelID,
	}
	rendered, err := s.o.deps.Engine.Diff(s.sc, p.ProposedText)
	if err != nil {
		return s.patchError(ctx, err), true
	}
	s.proposal = p
	s.rendered = rendered
	s.out.LastDiff = rendered.Text
	return "", false
}

func (s *session) apply(ctx context.Context) State {
	if err := s.o.deps.Engine.Validate(ctx, s.proposal); err != nil {
		return s.rejectProposal(ctx, err)
	}
	res, err := s.o.deps.Engine.Apply(ctx, s.proposal, false)
	if err != nil {
		return s.patchError(ctx, err)
	}
	s.applied = res
	s.out.History = append(s.out.History, res)
	s.out.LastDiff = res.DiffText

	s.o.deps.Console.Success(fmt.Sprintf("Patched %s (backup: %s)", s.rel(res.FilePath), s.rel(res.BackupPath)))
	s.o.deps.Console.Info("Re-running to verify")
	return StateVerifying
}

func (s *session) verify(ctx context.Context) State {
	report, next, ok := s.execute(ctx)
	if !ok {
		return next
	}
	if report.Clean() {
		s.applied.Status = diff.StatusFixed
		s.record(journal.OutcomeFixed)
		s.o.deps.Console.Success("Fixed: the command now exits cleanly")
		return s.finish(StateDone, ReasonFixed, "command exits cleanly after patch", nil)
	}

	s.applied.Status = diff.StatusStillFailing
	s.record(journal.OutcomeStillFailing)

	tb := traceback.Parse(report.Stderr)
	if tb != nil {
		s.out.LastTraceback = tb
	}
	if s.attempt >= s.o.cfg.MaxAttempts {
		return s.fail(ReasonVerification,
			fmt.Sprintf("still crashing after %d attempts", s.attempt), ErrVerificationFailed)
	}
	if tb == nil {
		return s.fail(ReasonUndiagnosable,
			fmt.Sprintf("patched command exits with status %d and no traceback", report.ExitCode),
			ErrUndiagnosableCrash)
	}
	frame, ok := tb.Candidate(s.o.cfg.Root, s.o.cfg.WorkDir)
	if !ok {
		return s.fail(ReasonUndiagnosable,
			fmt.Sprintf("%s: no frame of the traceback is inside %s", tb.Summary(), s.o.cfg.Root),
			ErrUndiagnosableCrash)
	}

	if frame.FilePath == s.frame.FilePath && frame.Line == s.frame.Line {
		s.prior = append(s.prior, s.proposal.ProposedText)
		s.o.deps.Console.Warning("Still crashing at the same line: " + tb.Summary())
	} else {
		s.prior = nil
		s.o.deps.Console.Warning(fmt.Sprintf("New crash at %s: %s", s.rel(frame.FilePath), tb.Summary()))
	}
	s.tb = tb
	s.frame = frame

	s.beginAttempt(s.attempt + 1)
	return StateDiagnosing
}

// =============================================================================
// Transitions
// =============================================================================

// retryInvalid consumes an attempt for an unusable backend answer and
// diagnoses again while attempts remain.
func (s *session) retryInvalid(err error) State {
	s.record(journal.OutcomeInvalidResponse)
	if s.attempt >= s.o.cfg.MaxAttempts {
		return s.fail(ReasonInvalidResponse, err.Error(), err)
	}
	s.o.deps.Console.Warning("Unusable answer from backend, retrying: " + err.Error())
	s.beginAttempt(s.attempt + 1)
	return StateDiagnosing
}

func (s *session) rejectProposal(ctx context.Context, err error) State {
	if ctx.Err() != nil {
		return s.interrupted(err)
	}
	if errors.Is(err, diff.ErrValidationRejected) {
		return s.fail(ReasonValidation, err.Error(), err)
	}
	return s.fail(ReasonError, err.Error(), err)
}

func (s *session) patchError(ctx context.Context, err error) State {
	switch {
	case ctx.Err() != nil:
		return s.interrupted(err)
	case errors.Is(err, diff.ErrPatchConflict):
		return s.fail(ReasonConflict, err.Error(), err)
	case errors.Is(err, lock.ErrFileLocked):
		return s.fail(ReasonError, "file is being patched by another medic session: "+err.Error(), err)
	default:
		return s.fail(ReasonError, err.Error(), err)
	}
}

func (s *session) reject() State {
	return s.fail(ReasonRejected, "fix rejected", ErrRejected)
}

func (s *session) interrupted(err error) State {
	return s.fail(ReasonInterrupted, "interrupted", err)
}

func (s *session) fail(reason Reason, msg string, err error) State {
	return s.finish(StateFailed, reason, msg, err)
}

// finish sets the outcome and journals the open attempt, if any.
func (s *session) finish(state State, reason Reason, msg string, err error) State {
	if s.attempt > 0 && !s.recorded {
		s.record(journalOutcome(reason))
	}
	s.out.State = state
	s.out.Reason = reason
	s.out.Message = msg
	s.out.Err = err
	s.out.Attempts = s.attempt

	if state == StateFailed {
		slog.Warn("session failed", "session", s.o.cfg.SessionID, "reason", string(reason), "error", err)
	} else {
		slog.Info("session done", "session", s.o.cfg.SessionID, "reason", string(reason), "attempts", s.attempt)
	}
	return state
}

func (s *session) beginAttempt(n int) {
	s.attempt = n
	s.attemptStart = time.Now()
	s.recorded = false
	s.resp = nil
	s.proposal = nil
	s.rendered = nil
	s.applied = nil
}

// record journals the current attempt once.
func (s *session) record(outcome journal.Outcome) {
	rec := journal.Record{
		SessionID:  s.o.cfg.SessionID,
		Attempt:    s.attempt,
		File:       s.rel(s.frame.FilePath),
		Line:       s.frame.Line,
		Outcome:    outcome,
		DurationMS: time.Since(s.attemptStart).Milliseconds(),
	}
	if s.tb != nil {
		rec.ErrorKind = s.tb.ErrorKind
		rec.ErrorMessage = s.tb.ErrorMessage
	}
	if s.req != nil && s.req.ErrorKind == backend.TimeoutKind {
		rec.ErrorKind = backend.TimeoutKind
	}
	switch {
	case s.proposal != nil:
		rec.BackendID = s.proposal.BackendID
		rec.ModelID = s.proposal.ModelID
	case s.resp != nil:
		rec.BackendID = s.resp.BackendID
		rec.ModelID = s.resp.ModelID
	default:
		rec.BackendID = s.o.deps.Backend.ID()
		rec.ModelID = s.o.deps.Backend.Model()
	}
	if s.rendered != nil {
		rec.LinesAdded = s.rendered.Stats.Added
		rec.LinesDeleted = s.rendered.Stats.Deleted
	}
	if s.applied != nil {
		rec.BackupPath = s.applied.BackupPath
	}

	if err := s.o.deps.Journal.Record(rec); err != nil {
		slog.Warn("journal write failed", "session", s.o.cfg.SessionID, "error", err)
	}
	s.o.deps.Metrics.ObserveAttempt(string(outcome))
	s.recorded = true
}

func journalOutcome(r Reason) journal.Outcome {
	switch r {
	case ReasonFixed:
		return journal.OutcomeFixed
	case ReasonDryRun:
		return journal.OutcomeDryRun
	case ReasonRejected:
		return journal.OutcomeRejected
	case ReasonValidation:
		return journal.OutcomeValidationRejected
	case ReasonConflict:
		return journal.OutcomeConflict
	case ReasonBackendUnavailable, ReasonBackendTimeout:
		return journal.OutcomeBackendUnavailable
	case ReasonInvalidResponse:
		return journal.OutcomeInvalidResponse
	case ReasonExtraction:
		return journal.OutcomeExtractionFailed
	case ReasonInterrupted:
		return journal.OutcomeInterrupted
	case ReasonVerification:
		return journal.OutcomeStillFailing
	default:
		return journal.OutcomeError
	}
}

// =============================================================================
// Helpers
// =============================================================================

// respondent names the backend that answered or failed.
func respondent(b backend.Backend, resp *backend.Response, err error) string {
	if resp != nil && resp.BackendID != "" {
		return resp.BackendID
	}
	var be *backend.BackendError
	if errors.As(err, &be) && be.Backend != "" {
		return be.Backend
	}
	return b.ID()
}

func (s *session) rel(path string) string {
	if path == "" {
		return ""
	}
	r, err := filepath.Rel(s.o.cfg.Root, path)
	if err != nil || strings.HasPrefix(r, "..") {
		return path
	}
	return r
}

func (s *session) relFrame() string {
	f := s.frame
	f.FilePath = s.rel(f.FilePath)
	return f.String()
}

// matchTerminator makes edited end in a line break exactly when original
// does.
func matchTerminator(edited, original string) string {
	edited = strings.ReplaceAll(edited, "\r\n", "\n")
	trimmed := strings.TrimRight(edited, "\n")
	if strings.HasSuffix(original, "\n") {
		return trimmed + "\n"
	}
	return trimmed
}
