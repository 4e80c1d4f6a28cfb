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

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/medic/services/medic/extract"
)

// contextLines is the number of unchanged lines shown around each hunk.
const contextLines = 3

// Diff renders the change a proposal would make to its file.
//
// # Description
//
// The whole file is diffed so hunk headers carry real line numbers. The
// file is only read.
//
// # Outputs
//
//   - *Rendered: The unified diff and its line counts.
//   - error: *ConflictError when the span no longer matches the file.
func (e *Engine) Diff(sc *extract.SourceContext, proposedText string) (*Rendered, error) {
	content, err := os.ReadFile(sc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("diff: reading %s: %w", sc.FilePath, err)
	}
	lines := extract.SplitLines(content)
	if currentSpan(lines, sc) != sc.OriginalText {
		return nil, &ConflictError{
			Path:      sc.FilePath,
			StartLine: sc.StartLine,
			EndLine:   sc.EndLine,
			Reason:    "file changed on disk since the crash was analyzed",
		}
	}
	return e.render(sc.FilePath, content, []byte(splice(lines, sc, proposedText)))
}

// render produces a unified diff between two versions of path and counts
// its changes.
func (e *Engine) render(path string, before, after []byte) (*Rendered, error) {
	if bytes.Equal(before, after) {
		return &Rendered{}, nil
	}

	name := filepath.ToSlash(path)
	if rel, err := filepath.Rel(e.root, path); err == nil && !filepath.IsAbs(rel) {
		name = filepath.ToSlash(rel)
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffLines(before),
		B:        diffLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  contextLines,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering diff for %s: %w", path, err)
	}

	stats, err := countChanges(text)
	if err != nil {
		return nil, err
	}
	return &Rendered{Text: text, Stats: stats}, nil
}

// countChanges parses a single-file unified diff and counts added and
// deleted lines. A replaced line counts once on each side.
func countChanges(text string) (Stats, error) {
	fd, err := godiff.ParseFileDiff([]byte(text))
	if err != nil {
		return Stats{}, fmt.Errorf("parsing rendered diff: %w", err)
	}
	st := fd.Stat()
	return Stats{
		Added:   int(st.Added + st.Changed),
		Deleted: int(st.Deleted + st.Changed),
	}, nil
}

// diffLines splits content for difflib, which expects every line to end
// with a newline.
func diffLines(content []byte) []string {
	lines := extract.SplitLines(content)
	if n := len(lines); n > 0 && !bytes.HasSuffix(content, []byte{'\n'}) {
		lines[n-1] += "\n"
	}
	return lines
}
