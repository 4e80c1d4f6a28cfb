// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrContextExtraction is matched by every ExtractionError.
	ErrContextExtraction = errors.New("context extraction failed")

	// ErrAmbiguousSpan is returned when matching definitions overlap
	// without nesting.
	ErrAmbiguousSpan = errors.New("ambiguous span")
)

// ExtractionError reports why no context could be produced for a crash site.
type ExtractionError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrContextExtraction}
	}
	return []error{ErrContextExtraction, e.Err}
}
