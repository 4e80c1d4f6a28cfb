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
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means no backend could be reached or used.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout means the backend did not answer in time.
	ErrBackendTimeout = errors.New("backend timed out")

	// ErrBackendInvalidResponse means the answer could not be used as
	// replacement code.
	ErrBackendInvalidResponse = errors.New("backend returned an invalid response")
)

// BackendError attributes a failure to one backend.
type BackendError struct {
	Backend string
	Model   string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Backend, e.Model, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
