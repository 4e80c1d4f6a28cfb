// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn is matched by every SpawnError.
	ErrSpawn = errors.New("spawn failed")

	// ErrEmptyCommand is returned when there is nothing to execute.
	ErrEmptyCommand = errors.New("empty command")
)

// SpawnError reports that the target could not be started at all
// (missing executable, permission denied). It is fatal to the pipeline.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	name := "<none>"
	if len(e.Command) > 0 {
		name = strings.Join(e.Command, " ")
	}
	return fmt.Sprintf("cannot start %q: %v", name, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}
