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

import "time"

// LockInfo is the metadata written into a lock file so other processes
// can see who holds it.
type LockInfo struct {
	FilePath  string    `json:"file_path"`
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

// IsExpired reports whether the lock has outlived its TTL.
func (i *LockInfo) IsExpired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}

// ChangeType classifies an external change to a watched file.
type ChangeType int

const (
	ChangeWrite ChangeType = iota + 1
	ChangeDelete
	ChangeRename
)

func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "written"
	case ChangeDelete:
		return "deleted"
	case ChangeRename:
		return "renamed"
	default:
		return "changed"
	}
}

// ExternalChangeEvent is delivered to callbacks registered for a locked file.
type ExternalChangeEvent struct {
	Path      string
	EventType ChangeType
}

// ManagerConfig configures a FileLockManager.
type ManagerConfig struct {
	// LockDir holds one lock file per locked path.
	LockDir string

	// SessionID identifies this run in lock metadata.
	SessionID string

	// DefaultTTL bounds how long lock metadata is trusted.
	DefaultTTL time.Duration

	// CleanupOnInit removes stale lock files when the manager starts.
	CleanupOnInit bool
}

// DefaultManagerConfig returns the configuration used by the CLI.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LockDir:       ".medic/locks",
		DefaultTTL:    10 * time.Minute,
		CleanupOnInit: true,
	}
}
