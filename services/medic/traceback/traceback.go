// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package traceback turns Python failure output into structured frames.
//
// # Description
//
// The recognized shape is the interpreter's own report: a chain of
//
//	File "path", line N, in function
//
// entries (the ", in function" part is absent for SyntaxError frames),
// each optionally followed by indented source and caret lines, and
// terminated by an unindented "ErrorKind: message" line. When exceptions
// are chained, the last chain is the one that terminated the process and
// is the one returned.
//
// Anything else (assertion helpers with custom output, segfaults, shell
// errors) yields nil: a crash was observed but cannot be diagnosed.
package traceback

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	frameRe = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)(?:, in (.+))?\s*$`)
	errorRe = regexp.MustCompile(`^([A-Za-z_][\w.]*(?:Error|Exception|Interrupt|Exit|Warning|Iteration|Group)|[A-Za-z_][\w.]*\.[A-Za-z_]\w*)(?::\s?(.*))?$`)
	plainRe = regexp.MustCompile(`^([A-Za-z_][\w.]*)(?::\s?(.*))?$`)
)

// moduleScope is how the interpreter names top-level code.
const moduleScope = "<module>"

// Frame is one entry of the traceback chain.
type Frame struct {
	FilePath string
	Line     int

	// Function is empty at module scope.
	Function string

	ErrorKind    string
	ErrorMessage string
}

// String renders the frame the way the interpreter does.
func (f Frame) String() string {
	fn := f.Function
	if fn == "" {
		fn = moduleScope
	}
	return fmt.Sprintf("%s:%d in %s", f.FilePath, f.Line, fn)
}

// Traceback is an ordered frame chain, outermost first, crash site last.
type Traceback struct {
	Frames       []Frame
	ErrorKind    string
	ErrorMessage string
}

// Innermost returns the crash-site frame.
func (t *Traceback) Innermost() Frame {
	return t.Frames[len(t.Frames)-1]
}

// Summary returns "Kind: message" (or just the kind).
func (t *Traceback) Summary() string {
	if t.ErrorMessage == "" {
		return t.ErrorKind
	}
	return t.ErrorKind + ": " + t.ErrorMessage
}

// Chain renders all frames, one per line, outermost first.
func (t *Traceback) Chain() []string {
	out := make([]string, len(t.Frames))
	for i, f := range t.Frames {
		out[i] = f.String()
	}
	return out
}

// Candidate returns the innermost frame whose file lives under root and
// exists on disk, with FilePath resolved to an absolute path. Relative
// frame paths are resolved against workDir (the target's working
// directory). ok is false when no frame qualifies.
func (t *Traceback) Candidate(root, workDir string) (Frame, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Frame{}, false
	}
	for i := len(t.Frames) - 1; i >= 0; i-- {
		f := t.Frames[i]
		if strings.HasPrefix(f.FilePath, "<") {
			continue
		}
		p := f.FilePath
		if !filepath.IsAbs(p) {
			p = filepath.Join(workDir, p)
		}
		p = filepath.Clean(p)
		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		f.FilePath = p
		return f, true
	}
	return Frame{}, false
}

// Parse extracts the last traceback in text. It returns nil when text does
// not contain a frame chain terminated by an error line.
func Parse(text string) *Traceback {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var (
		best    *Traceback
		current []Frame
	)
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := frameRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[2])
			if err != nil || n < 1 {
				continue
			}
			fn := strings.TrimSpace(m[3])
			if fn == moduleScope {
				fn = ""
			}
			current = append(current, Frame{FilePath: m[1], Line: n, Function: fn})
			continue
		}
		if len(current) == 0 {
			continue
		}
		// Source excerpts, caret markers and "..." elisions are indented.
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		kind, msg, ok := parseErrorLine(line)
		if !ok {
			// A non-frame, non-error line ends the chain (e.g. the
			// "During handling of the above exception" banner).
			current = nil
			continue
		}
		tb := &Traceback{Frames: current, ErrorKind: kind, ErrorMessage: msg}
		for j := range tb.Frames {
			tb.Frames[j].ErrorKind = kind
			tb.Frames[j].ErrorMessage = msg
		}
		best = tb
		current = nil
	}
	return best
}

// parseErrorLine recognizes "Kind: message" and bare "Kind" lines.
func parseErrorLine(line string) (kind, msg string, ok bool) {
	line = strings.TrimRight(line, " ")
	if m := errorRe.FindStringSubmatch(line); m != nil {
		return m[1], strings.TrimSpace(m[2]), true
	}
	// Custom exception classes need not follow the naming convention.
	// Only lines that end a frame chain get here, so a bare identifier
	// path is the class of an exception raised without a message.
	if m := plainRe.FindStringSubmatch(line); m != nil && line != "Traceback" {
		return m[1], strings.TrimSpace(m[2]), true
	}
	return "", "", false
}
