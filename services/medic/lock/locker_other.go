// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package lock

import "os"

// noopFileLocker is used where flock(2) is unavailable. Single-flight is
// then only guaranteed within one process, by the manager's own map.
type noopFileLocker struct{}

func (noopFileLocker) Lock(*os.File) error   { return nil }
func (noopFileLocker) Unlock(*os.File) error { return nil }

func isProcessAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func sameFile(f *os.File, path string) bool {
	a, err := f.Stat()
	if err != nil {
		return false
	}
	b, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

func newPlatformLocker() FileLocker {
	return noopFileLocker{}
}
