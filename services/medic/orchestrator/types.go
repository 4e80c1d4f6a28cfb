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
	"errors"

	"github.com/AleutianAI/medic/services/medic/diff"
	"github.com/AleutianAI/medic/services/medic/extract"
	"github.com/AleutianAI/medic/services/medic/runner"
	"github.com/AleutianAI/medic/services/medic/traceback"
)

// State is a step of the repair pipeline.
type State string

const (
	StateRun        State = "RUN"
	StateCrashed    State = "CRASHED"
	StateDiagnosing State = "DIAGNOSING"
	StateProposed   State = "PROPOSED"
	StateConfirming State = "CONFIRMING"
	StateApplying   State = "APPLYING"
	StateVerifying  State = "VERIFYING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Terminal reports whether the pipeline stops in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Reason explains a terminal state.
type Reason string

const (
	ReasonClean              Reason = "clean"
	ReasonFixed              Reason = "fixed"
	ReasonDryRun             Reason = "dry_run"
	ReasonSpawn              Reason = "spawn_error"
	ReasonUndiagnosable      Reason = "undiagnosable"
	ReasonExtraction         Reason = "context_extraction_failed"
	ReasonBackendUnavailable Reason = "backend_unavailable"
	ReasonBackendTimeout     Reason = "backend_timeout"
	ReasonInvalidResponse    Reason = "backend_invalid_response"
	ReasonValidation         Reason = "validation_rejected"
	ReasonConflict           Reason = "patch_conflict"
	ReasonVerification       Reason = "verification_failed"
	ReasonRejected           Reason = "rejected"
	ReasonInterrupted        Reason = "interrupted"
	ReasonError              Reason = "error"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitUsage         = 2
	ExitUndiagnosable = 3
	ExitRejected      = 4
	ExitSpawn         = 5
	ExitInterrupted   = 130
)

var (
	// ErrUndiagnosableCrash is a non-zero exit without a usable traceback.
	ErrUndiagnosableCrash = errors.New("crash detected but undiagnosable")

	// ErrVerificationFailed means the crash persisted through every attempt.
	ErrVerificationFailed = errors.New("crash persists after maximum attempts")

	// ErrRejected means the user declined the proposal.
	ErrRejected = errors.New("proposal rejected by user")
)

// Outcome is the terminal result of a session.
type Outcome struct {
	State   State
	Reason  Reason
	Message string

	// Err is the underlying failure, if any.
	Err error

	// Attempts is the number of attempts consumed.
	Attempts int

	// History holds one entry per applied patch, oldest first.
	History []*diff.PatchResult

	// LastReport, LastTraceback and LastContext describe the most recent
	// crash analyzed.
	LastReport    *runner.CrashReport
	LastTraceback *traceback.Traceback
	LastContext   *extract.SourceContext

	// LastDiff is the most recent proposal rendered as a diff.
	LastDiff string
}

// ExitCode maps the outcome to the CLI's exit status.
func (o *Outcome) ExitCode() int {
	if o.State == StateDone {
		return ExitOK
	}
	switch o.Reason {
	case ReasonInterrupted:
		return ExitInterrupted
	case ReasonSpawn:
		return ExitSpawn
	case ReasonUndiagnosable:
		return ExitUndiagnosable
	case ReasonRejected:
		return ExitRejected
	default:
		return ExitFailure
	}
}

// Applied reports whether any patch was written during the session.
func (o *Outcome) Applied() bool {
	for _, h := range o.History {
		if h.Applied {
			return true
		}
	}
	return false
}
