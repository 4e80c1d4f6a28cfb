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

// Status is the verification state of an applied patch.
type Status string

const (
	// StatusPending means the patch has not been verified yet.
	StatusPending Status = "pending"

	// StatusFixed means the re-run exited cleanly.
	StatusFixed Status = "fixed"

	// StatusStillFailing means the re-run crashed again.
	StatusStillFailing Status = "still_failing"

	// StatusAborted means the patch was not applied.
	StatusAborted Status = "aborted"
)

// Stats counts changed lines in a diff.
type Stats struct {
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

// Rendered is a unified diff ready for display.
type Rendered struct {
	Text  string
	Stats Stats
}

// Empty reports whether the diff has no changes.
func (r *Rendered) Empty() bool {
	return r.Text == ""
}

// PatchResult is the outcome of one Apply call.
type PatchResult struct {
	// FilePath is the patched file.
	FilePath string

	// Applied is false for dry runs.
	Applied bool

	// BackupPath holds the pre-patch copy. Empty when nothing was written.
	BackupPath string

	DiffText string
	Stats    Stats

	// Status is updated by the caller after verification.
	Status Status
}
