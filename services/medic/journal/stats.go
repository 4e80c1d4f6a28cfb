// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// maxRecordSize bounds one journal line.
const maxRecordSize = 1024 * 1024

// Stats summarizes the journal over a number of days.
type Stats struct {
	Days           int            `json:"days"`
	TotalCrashes   int            `json:"total_crashes"`
	FixesGenerated int            `json:"fixes_generated"`
	FixesApplied   int            `json:"fixes_applied"`
	FixesRejected  int            `json:"fixes_rejected"`
	Fixed          int            `json:"fixed"`
	ErrorKinds     map[string]int `json:"error_kinds"`
	Backends       map[string]int `json:"backends"`

	// SuccessRate is the percentage of answered proposals that the user
	// accepted: applied / (applied + rejected) * 100.
	SuccessRate float64 `json:"success_rate"`
}

// KindCount is one row of a sorted error kind breakdown.
type KindCount struct {
	Kind  string
	Count int
}

// SortedErrorKinds returns error kinds by descending count, then name.
func (s *Stats) SortedErrorKinds() []KindCount {
	out := make([]KindCount, 0, len(s.ErrorKinds))
	for k, n := range s.ErrorKinds {
		out = append(out, KindCount{Kind: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Add folds one record into the totals.
func (s *Stats) Add(rec Record) {
	s.TotalCrashes++
	kind := rec.ErrorKind
	if kind == "" {
		kind = "Unknown"
	}
	s.ErrorKinds[kind]++
	if rec.BackendID != "" {
		s.Backends[rec.BackendID]++
	}
	if rec.Outcome.Proposed() {
		s.FixesGenerated++
	}
	if rec.Outcome.Applied() {
		s.FixesApplied++
	}
	if rec.Outcome == OutcomeRejected {
		s.FixesRejected++
	}
	if rec.Outcome == OutcomeFixed {
		s.Fixed++
	}
}

func newStats(days int) *Stats {
	return &Stats{
		Days:       days,
		ErrorKinds: make(map[string]int),
		Backends:   make(map[string]int),
	}
}

// Stats reads the files for today and the days-1 days before it.
//
// Missing days are skipped. Lines that do not decode are logged and
// skipped so one damaged record does not hide the rest.
func (j *FileJournal) Stats(days int) (*Stats, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}
	stats := newStats(days)
	today := j.now()
	for i := 0; i < days; i++ {
		path := filepath.Join(j.dir, FileName(today.AddDate(0, 0, -i)))
		if err := readInto(path, stats); err != nil {
			return nil, err
		}
	}
	if answered := stats.FixesApplied + stats.FixesRejected; answered > 0 {
		stats.SuccessRate = float64(stats.FixesApplied) / float64(answered) * 100
	}
	return stats, nil
}

func readInto(path string, stats *Stats) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening journal %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Debug("Skipping malformed journal line", "path", path, "line", lineNo, "error", err)
			continue
		}
		stats.Add(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading journal %s: %w", path, err)
	}
	return nil
}
