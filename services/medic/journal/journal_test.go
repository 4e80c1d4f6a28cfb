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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)

func newJournal(t *testing.T, now time.Time) *FileJournal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "logs"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return j
}

func readLines(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestFileJournal_Record(t *testing.T) {
	j := newJournal(t, day)

	require.NoError(t, j.Record(Record{SessionID: "s1", Attempt: 1, File: "app.py", Line: 13,
		ErrorKind: "ZeroDivisionError", BackendID: "ollama", ModelID: "m", Outcome: OutcomeStillFailing}))
	require.NoError(t, j.Record(Record{SessionID: "s1", Attempt: 2, ErrorKind: "ZeroDivisionError", Outcome: OutcomeFixed}))

	path := filepath.Join(j.Dir(), "medic_20260314.jsonl")
	recs := readLines(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "app.py", recs[0].File)
	assert.Equal(t, 13, recs[0].Line)
	assert.Equal(t, OutcomeStillFailing, recs[0].Outcome)
	assert.True(t, recs[0].Timestamp.Equal(day))
	assert.Equal(t, 2, recs[1].Attempt)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileJournal_KeyNames(t *testing.T) {
	j := newJournal(t, day)
	require.NoError(t, j.Record(Record{SessionID: "s", Attempt: 1, File: "a.py", ErrorKind: "KeyError",
		BackendID: "openai", Outcome: OutcomeRejected}))

	data, err := os.ReadFile(filepath.Join(j.Dir(), FileName(day)))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"timestamp", "session_id", "attempt", "file", "error_kind", "backend_id", "outcome"} {
		assert.Contains(t, raw, key)
	}
}

func TestFileJournal_ConcurrentRecords(t *testing.T) {
	j := newJournal(t, day)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, j.Record(Record{Attempt: i, ErrorKind: "E", Outcome: OutcomeError}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, readLines(t, filepath.Join(j.Dir(), FileName(day))), 20)
}

func TestFileJournal_Stats(t *testing.T) {
	j := newJournal(t, day)

	yesterday := day.AddDate(0, 0, -1)
	old := day.AddDate(0, 0, -10)
	records := []Record{
		{Timestamp: day, ErrorKind: "ZeroDivisionError", BackendID: "ollama", Outcome: OutcomeFixed},
		{Timestamp: day, ErrorKind: "ZeroDivisionError", BackendID: "ollama", Outcome: OutcomeStillFailing},
		{Timestamp: day, ErrorKind: "KeyError", BackendID: "openai", Outcome: OutcomeRejected},
		{Timestamp: yesterday, ErrorKind: "NameError", BackendID: "ollama", Outcome: OutcomeDryRun},
		{Timestamp: yesterday, ErrorKind: "NameError", Outcome: OutcomeBackendUnavailable},
		{Timestamp: old, ErrorKind: "TypeError", Outcome: OutcomeFixed},
	}
	for _, r := range records {
		require.NoError(t, j.Record(r))
	}

	// A damaged line is skipped.
	f, err := os.OpenFile(filepath.Join(j.Dir(), FileName(day)), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stats, err := j.Stats(7)
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Days)
	assert.Equal(t, 5, stats.TotalCrashes)
	assert.Equal(t, 4, stats.FixesGenerated)
	assert.Equal(t, 2, stats.FixesApplied)
	assert.Equal(t, 1, stats.FixesRejected)
	assert.Equal(t, 1, stats.Fixed)
	assert.InDelta(t, 66.666, stats.SuccessRate, 0.01)
	assert.Equal(t, map[string]int{"ZeroDivisionError": 2, "KeyError": 1, "NameError": 2}, stats.ErrorKinds)
	assert.Equal(t, map[string]int{"ollama": 3, "openai": 1}, stats.Backends)

	assert.Equal(t, []KindCount{
		{Kind: "NameError", Count: 2},
		{Kind: "ZeroDivisionError", Count: 2},
		{Kind: "KeyError", Count: 1},
	}, stats.SortedErrorKinds())

	all, err := j.Stats(30)
	require.NoError(t, err)
	assert.Equal(t, 6, all.TotalCrashes)
}

func TestFileJournal_StatsEmpty(t *testing.T) {
	j := newJournal(t, day)

	stats, err := j.Stats(1)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCrashes)
	assert.Zero(t, stats.SuccessRate)

	_, err = j.Stats(0)
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	assert.True(t, OutcomeFixed.Applied())
	assert.True(t, OutcomeStillFailing.Applied())
	assert.False(t, OutcomeDryRun.Applied())
	assert.True(t, OutcomeDryRun.Proposed())
	assert.True(t, OutcomeConflict.Proposed())
	assert.False(t, OutcomeInvalidResponse.Proposed())
	assert.False(t, OutcomeExtractionFailed.Proposed())
}

func TestMockRecorder(t *testing.T) {
	m := &MockRecorder{}
	require.NoError(t, m.Record(Record{Attempt: 1}))
	var r Recorder = m
	require.NoError(t, r.Record(Record{Attempt: 2}))
	assert.Len(t, m.All(), 2)
	assert.NoError(t, Nop{}.Record(Record{}))
}
