// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrFileLocked indicates the file is already locked by another process.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockNotHeld indicates an attempt to release a lock not held by this manager.
	ErrLockNotHeld = errors.New("lock not held by this process")

	// ErrExternalModification indicates the file was modified while locked.
	ErrExternalModification = errors.New("file was modified externally while locked")
)

// FileLockError describes a lock conflict and, when known, who holds it.
type FileLockError struct {
	Path   string
	Holder *LockInfo
	Err    error
}

func (e *FileLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("file %s is locked by PID %d (session %s, %s) since %s: %v",
			e.Path, e.Holder.PID, e.Holder.SessionID, e.Holder.Reason,
			e.Holder.LockedAt.Format("15:04:05"), e.Err)
	}
	return fmt.Sprintf("file %s is locked: %v", e.Path, e.Err)
}

func (e *FileLockError) Unwrap() error {
	return e.Err
}

// ExternalModificationError reports a change to a locked file that this
// process did not make.
type ExternalModificationError struct {
	Path       string
	ChangeType ChangeType
}

func (e *ExternalModificationError) Error() string {
	return fmt.Sprintf("file %s was %s externally while locked", e.Path, e.ChangeType)
}

func (e *ExternalModificationError) Unwrap() error {
	return ErrExternalModification
}
