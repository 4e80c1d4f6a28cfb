// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"errors"
	"fmt"
)

var (
	// ErrPatchConflict indicates the file changed since its context was
	// extracted.
	ErrPatchConflict = errors.New("patch conflict")

	// ErrValidationRejected indicates a proposal failed validation.
	ErrValidationRejected = errors.New("proposal rejected by validation")
)

// ConflictError reports that the span on disk no longer matches the text
// the proposal was written against.
type ConflictError struct {
	Path      string
	StartLine int
	EndLine   int
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: lines %d-%d: %s; re-run medic", e.Path, e.StartLine, e.EndLine, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrPatchConflict
}

// ValidationError explains why a proposal was rejected.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationRejected
}
