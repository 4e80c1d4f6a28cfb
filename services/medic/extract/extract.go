// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract bounds the source region responsible for a crash.
//
// The preferred region is the innermost function or method containing the
// crash line. Module-level code, and files the grammar cannot parse, fall
// back to a fixed window of lines around the crash.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/medic/services/medic/ast"
)

// DefaultWindowSize is the number of lines kept above and below the crash
// line for window contexts.
const DefaultWindowSize = 10

// SpanKind says how a context was bounded.
type SpanKind string

const (
	// SpanUnit is a complete function or method definition.
	SpanUnit SpanKind = "unit"

	// SpanWindow is a clamped range of lines around the crash line.
	SpanWindow SpanKind = "window"
)

// SourceContext is the region of a file submitted for repair.
//
// StartLine <= CrashLine <= EndLine always holds. OriginalText is the
// exact bytes of lines [StartLine, EndLine], including the final line
// terminator when the file has one.
type SourceContext struct {
	FilePath  string
	Kind      SpanKind
	StartLine int
	EndLine   int
	CrashLine int

	// UnitName is the function name for unit contexts.
	UnitName string

	OriginalText string
}

// LineCount returns the number of lines in the span.
func (c *SourceContext) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// BaseIndent returns the indentation shared by every non-blank line of
// the span.
func (c *SourceContext) BaseIndent() string {
	return CommonIndent(c.OriginalText)
}

// CommonIndent returns the longest whitespace prefix shared by all
// non-blank lines of text.
func CommonIndent(text string) string {
	var common string
	first := true
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			common, first = indent, false
			continue
		}
		n := 0
		for n < len(common) && n < len(indent) && common[n] == indent[n] {
			n++
		}
		common = common[:n]
	}
	return common
}

// Extractor produces SourceContexts.
type Extractor struct {
	parser     *ast.Parser
	windowSize int
}

// NewExtractor creates an Extractor. A non-positive windowSize selects
// DefaultWindowSize.
func NewExtractor(parser *ast.Parser, windowSize int) *Extractor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Extractor{parser: parser, windowSize: windowSize}
}

// WindowSize returns the configured window half-width.
func (e *Extractor) WindowSize() int {
	return e.windowSize
}

// Extract bounds the region of filePath responsible for a crash at
// crashLine.
//
// # Description
//
// Every function whose span contains crashLine is collected and the
// smallest is chosen. Matching spans must nest; siblings that overlap
// without nesting are reported as ambiguous. When no function contains
// the line, or the file has syntax errors, a window of WindowSize lines
// on each side is used, clamped to the file.
//
// # Outputs
//
//   - *SourceContext: The bounded region.
//   - error: *ExtractionError (matching ErrContextExtraction) when the file
//     cannot be read or parsed, the line is outside the file, or the
//     parse is ambiguous.
func (e *Extractor) Extract(ctx context.Context, filePath string, crashLine int) (*SourceContext, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &ExtractionError{Path: filePath, Line: crashLine, Reason: "cannot read file", Err: err}
	}

	lines := SplitLines(content)
	if crashLine < 1 || crashLine > len(lines) {
		return nil, &ExtractionError{
			Path:   filePath,
			Line:   crashLine,
			Reason: fmt.Sprintf("line outside file of %d lines", len(lines)),
		}
	}

	tree, err := e.parser.Parse(ctx, content)
	if err != nil {
		return nil, &ExtractionError{Path: filePath, Line: crashLine, Reason: "cannot parse file", Err: err}
	}

	sc := &SourceContext{FilePath: filePath, CrashLine: crashLine}

	if tree.HasError {
		slog.Debug("syntax errors in file, using window", "file", filePath)
		e.window(sc, len(lines))
	} else {
		unit, err := innermost(tree.Enclosing(crashLine))
		if err != nil {
			return nil, &ExtractionError{Path: filePath, Line: crashLine, Reason: "ambiguous definition spans", Err: err}
		}
		if unit != nil {
			sc.Kind = SpanUnit
			sc.StartLine = unit.StartLine
			sc.EndLine = unit.EndLine
			sc.UnitName = unit.Name
		} else {
			e.window(sc, len(lines))
		}
	}

	sc.OriginalText = strings.Join(lines[sc.StartLine-1:sc.EndLine], "")

	slog.Debug("extracted context",
		"file", filePath,
		"kind", string(sc.Kind),
		"start", sc.StartLine,
		"end", sc.EndLine,
		"unit", sc.UnitName)

	return sc, nil
}

func (e *Extractor) window(sc *SourceContext, total int) {
	sc.Kind = SpanWindow
	sc.StartLine = max(1, sc.CrashLine-e.windowSize)
	sc.EndLine = min(total, sc.CrashLine+e.windowSize)
}

// innermost returns the smallest of the matching spans, or nil when there
// are none. Every other match must enclose it.
func innermost(matches []*ast.Node) (*ast.Node, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.EndLine-m.StartLine < best.EndLine-best.StartLine {
			best = m
		}
	}
	for _, m := range matches {
		if m != best && !m.Encloses(best) {
			return nil, fmt.Errorf("%w: %s (%d-%d) and %s (%d-%d)", ErrAmbiguousSpan,
				m.Name, m.StartLine, m.EndLine, best.Name, best.StartLine, best.EndLine)
		}
	}
	return best, nil
}

// SplitLines splits content into lines, each keeping its terminator.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	parts := bytes.SplitAfter(content, []byte{'\n'})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

// IsExtractionError reports whether err is a context extraction failure.
func IsExtractionError(err error) bool {
	return errors.Is(err, ErrContextExtraction)
}
