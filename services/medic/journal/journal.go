// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal keeps the append-only record of repair attempts.
//
// Each attempt is one JSON object on its own line in a daily file,
// medic_YYYYMMDD.jsonl, under the log directory. Stats reads the files
// back for the stats command.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome is how an attempt ended.
type Outcome string

const (
	OutcomeFixed              Outcome = "fixed"
	OutcomeStillFailing       Outcome = "still_failing"
	OutcomeRejected           Outcome = "rejected"
	OutcomeDryRun             Outcome = "dry_run"
	OutcomeInvalidResponse    Outcome = "invalid_response"
	OutcomeValidationRejected Outcome = "validation_rejected"
	OutcomeConflict           Outcome = "conflict"
	OutcomeBackendUnavailable Outcome = "backend_unavailable"
	OutcomeExtractionFailed   Outcome = "extraction_failed"
	OutcomeInterrupted        Outcome = "interrupted"
	OutcomeError              Outcome = "error"
)

// Proposed reports whether the attempt got as far as a proposal.
func (o Outcome) Proposed() bool {
	switch o {
	case OutcomeFixed, OutcomeStillFailing, OutcomeRejected, OutcomeDryRun,
		OutcomeValidationRejected, OutcomeConflict:
		return true
	}
	return false
}

// Applied reports whether the attempt wrote a patch.
func (o Outcome) Applied() bool {
	return o == OutcomeFixed || o == OutcomeStillFailing
}

// Record is one repair attempt.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	Attempt      int       `json:"attempt"`
	File         string    `json:"file,omitempty"`
	Line         int       `json:"line,omitempty"`
	ErrorKind    string    `json:"error_kind"`
	ErrorMessage string    `json:"error_message,omitempty"`
	BackendID    string    `json:"backend_id,omitempty"`
	ModelID      string    `json:"model_id,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	LinesAdded   int       `json:"lines_added,omitempty"`
	LinesDeleted int       `json:"lines_deleted,omitempty"`
	BackupPath   string    `json:"backup_path,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
}

// Recorder receives attempt records.
type Recorder interface {
	Record(rec Record) error
}

// FileName returns the journal file name for day t.
func FileName(t time.Time) string {
	return "medic_" + t.Format("20060102") + ".jsonl"
}

// FileJournal appends records to daily JSONL files.
//
// # Thread Safety
//
// Safe for concurrent use within a process. Each record is written with a
// single append, so lines from concurrent processes do not interleave.
type FileJournal struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

var _ Recorder = (*FileJournal)(nil)

// Option configures a FileJournal.
type Option func(*FileJournal)

// WithClock overrides the clock used for timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(j *FileJournal) { j.now = now }
}

// New creates a journal in dir, creating the directory if needed.
func New(dir string, opts ...Option) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating journal directory %s: %w", dir, err)
	}
	j := &FileJournal{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Dir returns the journal directory.
func (j *FileJournal) Dir() string {
	return j.dir
}

// Record appends rec to today's file. A zero Timestamp is set to now.
func (j *FileJournal) Record(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	path := filepath.Join(j.dir, FileName(rec.Timestamp))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening journal %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing journal %s: %w", path, err)
	}
	return f.Close()
}

// Nop discards records. It is used when journaling is disabled.
type Nop struct{}

func (Nop) Record(Record) error { return nil }

// MockRecorder collects records for tests.
type MockRecorder struct {
	mu      sync.Mutex
	Records []Record
	Err     error
}

func (m *MockRecorder) Record(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return m.Err
}

// All returns a copy of the collected records.
func (m *MockRecorder) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.Records...)
}
