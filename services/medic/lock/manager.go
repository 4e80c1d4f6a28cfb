// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides the cross-process single-flight guard for patch
// application.
//
// Each target file maps to a lock file in a shared directory. The lock
// file carries an flock(2) advisory lock plus JSON metadata naming the
// holder. The target itself is never locked: patches replace it by
// rename, which would orphan a lock held on the old inode.
//
// While a lock is held the target is watched with fsnotify so that edits
// made by someone else (an editor save, a second tool) can be reported.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxAcquireRetries bounds retries when the lock file is replaced between
// open and flock.
const maxAcquireRetries = 3

// FileLockManager hands out per-file exclusive locks.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type FileLockManager struct {
	lockDir    string
	sessionID  string
	defaultTTL time.Duration
	locker     FileLocker
	locks      map[string]*lockEntry
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	watcherMu  sync.Mutex
	callbacks  map[string][]func(ExternalChangeEvent)
	done       chan struct{}
}

type lockEntry struct {
	file     *os.File
	path     string
	lockPath string
	info     *LockInfo
}

// NewFileLockManager creates a manager and starts its watcher.
//
// # Inputs
//
//   - config: Use DefaultManagerConfig() as a base.
//
// # Outputs
//
//   - *FileLockManager: Ready to use. Call Close when done.
//   - error: When the lock directory or watcher cannot be created.
func NewFileLockManager(config ManagerConfig) (*FileLockManager, error) {
	if config.LockDir == "" {
		config.LockDir = DefaultManagerConfig().LockDir
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = DefaultManagerConfig().DefaultTTL
	}

	if err := os.MkdirAll(config.LockDir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", config.LockDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	m := &FileLockManager{
		lockDir:    config.LockDir,
		sessionID:  config.SessionID,
		defaultTTL: config.DefaultTTL,
		locker:     newFileLocker(),
		locks:      make(map[string]*lockEntry),
		watcher:    watcher,
		callbacks:  make(map[string][]func(ExternalChangeEvent)),
		done:       make(chan struct{}),
	}

	go m.watchLoop()

	if config.CleanupOnInit {
		cleaned, err := m.CleanupStaleLocks()
		if err != nil {
			slog.Warn("Failed to cleanup stale locks on init", "error", err)
		} else if cleaned > 0 {
			slog.Info("Cleaned up stale locks on init", "count", cleaned)
		}
	}

	return m, nil
}

// AcquireLock takes the exclusive lock for filePath without blocking.
//
// # Description
//
// Re-acquiring a lock this manager already holds only updates the reason.
// The target file is added to the watcher until the lock is released or
// Unwatch is called.
//
// # Outputs
//
//   - error: *FileLockError wrapping ErrFileLocked when another process
//     (or another manager) holds the lock.
func (m *FileLockManager) AcquireLock(filePath, reason string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[absPath]; ok {
		entry.info.Reason = reason
		return nil
	}

	if err := m.ensureLockDir(); err != nil {
		return err
	}

	lockPath := m.lockPath(absPath)
	f, err := m.lockFile(absPath, lockPath)
	if err != nil {
		return err
	}

	now := time.Now()
	info := &LockInfo{
		FilePath:  absPath,
		PID:       os.Getpid(),
		SessionID: m.sessionID,
		LockedAt:  now,
		ExpiresAt: now.Add(m.defaultTTL),
		Reason:    reason,
	}
	if err := writeLockInfo(f, info); err != nil {
		_ = os.Remove(lockPath)
		_ = m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	m.addWatch(absPath)
	m.locks[absPath] = &lockEntry{file: f, path: absPath, lockPath: lockPath, info: info}

	slog.Debug("Acquired lock",
		"path", absPath,
		"reason", reason,
		"expires_at", info.ExpiresAt.Format(time.RFC3339))

	return nil
}

// lockFile opens (creating if needed) and flocks the lock file, retrying
// when a releasing process unlinked it in between.
func (m *FileLockManager) lockFile(absPath, lockPath string) (*os.File, error) {
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening lock file %s: %w", lockPath, err)
		}
		if err := m.locker.Lock(f); err != nil {
			f.Close()
			if errors.Is(err, ErrFileLocked) {
				holder, _ := readLockInfo(lockPath)
				return nil, &FileLockError{Path: absPath, Holder: holder, Err: ErrFileLocked}
			}
			return nil, fmt.Errorf("acquiring lock on %s: %w", absPath, err)
		}
		if sameFile(f, lockPath) {
			return f, nil
		}
		_ = m.locker.Unlock(f)
		f.Close()
	}
	return nil, &FileLockError{Path: absPath, Err: ErrFileLocked}
}

// ReleaseLock releases the lock for filePath.
//
// # Outputs
//
//   - error: ErrLockNotHeld when this manager does not hold it.
func (m *FileLockManager) ReleaseLock(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absPath]
	if !ok {
		return ErrLockNotHeld
	}
	return m.releaseLockEntry(absPath, entry)
}

// releaseLockEntry must be called with mu held. The lock file is unlinked
// before it is unlocked so a waiting process never locks a file that is
// about to disappear.
func (m *FileLockManager) releaseLockEntry(absPath string, entry *lockEntry) error {
	m.removeWatch(absPath)

	if err := os.Remove(entry.lockPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "path", entry.lockPath, "error", err)
	}
	if err := m.locker.Unlock(entry.file); err != nil {
		slog.Warn("Failed to unlock file", "path", absPath, "error", err)
	}
	entry.file.Close()

	delete(m.locks, absPath)
	slog.Debug("Released lock", "path", absPath)
	return nil
}

// ReleaseAll releases every lock held by this manager.
func (m *FileLockManager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for path, entry := range m.locks {
		if err := m.releaseLockEntry(path, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsLocked reports whether any process holds the lock for filePath, and
// who.
func (m *FileLockManager) IsLocked(filePath string) (bool, *LockInfo, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false, nil, fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	if entry, ok := m.locks[absPath]; ok {
		info := *entry.info
		m.mu.Unlock()
		return true, &info, nil
	}
	m.mu.Unlock()

	lockPath := m.lockPath(absPath)
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	defer f.Close()

	if err := m.locker.Lock(f); err != nil {
		if errors.Is(err, ErrFileLocked) {
			info, _ := readLockInfo(lockPath)
			return true, info, nil
		}
		return false, nil, err
	}
	_ = m.locker.Unlock(f)
	return false, nil, nil
}

// CleanupStaleLocks removes lock files nobody holds whose metadata is
// expired, unreadable, or names a dead process.
//
// # Outputs
//
//   - int: Number of lock files removed.
//   - error: When the lock directory cannot be read.
func (m *FileLockManager) CleanupStaleLocks() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		lockPath := filepath.Join(m.lockDir, entry.Name())
		if m.removeIfStale(lockPath) {
			cleaned++
		}
	}
	return cleaned, nil
}

func (m *FileLockManager) removeIfStale(lockPath string) bool {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := m.locker.Lock(f); err != nil {
		return false
	}
	defer m.locker.Unlock(f)

	info, err := readLockInfo(lockPath)
	if err == nil && info != nil && !info.IsExpired() && IsProcessAlive(info.PID) {
		return false
	}

	var path string
	var pid int
	if info != nil {
		path, pid = info.FilePath, info.PID
	}
	slog.Info("Cleaning up stale lock", "path", path, "pid", pid, "lock_file", lockPath)

	if err := os.Remove(lockPath); err != nil {
		slog.Warn("Failed to remove stale lock", "path", lockPath, "error", err)
		return false
	}
	return true
}

// RegisterCallback registers fn for external changes to filePath. Callbacks
// are dropped when the path stops being watched.
func (m *FileLockManager) RegisterCallback(filePath string, fn func(ExternalChangeEvent)) {
	absPath, _ := filepath.Abs(filePath)

	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	m.callbacks[absPath] = append(m.callbacks[absPath], fn)
}

// Unwatch stops change detection for filePath while keeping the lock. The
// holder calls it before replacing the file itself.
func (m *FileLockManager) Unwatch(filePath string) {
	absPath, _ := filepath.Abs(filePath)
	m.removeWatch(absPath)
}

// Close releases all locks and stops the watcher.
func (m *FileLockManager) Close() error {
	if err := m.ReleaseAll(); err != nil {
		slog.Warn("Error releasing locks during close", "error", err)
	}
	err := m.watcher.Close()
	<-m.done
	return err
}

// =============================================================================
// Internal helpers
// =============================================================================

// lockPath maps a target path to its lock file using SHA256[:16].
func (m *FileLockManager) lockPath(absPath string) string {
	hash := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.lockDir, hex.EncodeToString(hash[:])[:16]+".lock")
}

func (m *FileLockManager) ensureLockDir() error {
	if err := os.MkdirAll(m.lockDir, 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	return nil
}

// writeLockInfo replaces the contents of the held lock file.
func writeLockInfo(f *os.File, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// readLockInfo returns nil info for an empty lock file.
func readLockInfo(lockPath string) (*LockInfo, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *FileLockManager) addWatch(path string) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if err := m.watcher.Add(path); err != nil {
		slog.Warn("Failed to watch file", "path", path, "error", err)
	}
}

func (m *FileLockManager) removeWatch(path string) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if err := m.watcher.Remove(path); err != nil {
		slog.Debug("File was not being watched", "path", path)
	}
	delete(m.callbacks, path)
}

func (m *FileLockManager) watchLoop() {
	defer close(m.done)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

func (m *FileLockManager) handleWatchEvent(event fsnotify.Event) {
	var changeType ChangeType
	switch {
	case event.Has(fsnotify.Write):
		changeType = ChangeWrite
	case event.Has(fsnotify.Remove):
		changeType = ChangeDelete
	case event.Has(fsnotify.Rename):
		changeType = ChangeRename
	default:
		return
	}

	absPath, _ := filepath.Abs(event.Name)

	m.mu.Lock()
	_, held := m.locks[absPath]
	m.mu.Unlock()
	if !held {
		return
	}

	slog.Warn("External modification detected on locked file",
		"path", absPath,
		"event", changeType.String())

	m.watcherMu.Lock()
	callbacks := append([]func(ExternalChangeEvent){}, m.callbacks[absPath]...)
	m.watcherMu.Unlock()

	ev := ExternalChangeEvent{Path: absPath, EventType: changeType}
	for _, cb := range callbacks {
		cb(ev)
	}
}
