// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output and user interaction for the medic
// CLI: styled status lines, diff rendering, confirmation prompts and the
// external editor hook.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorBright  = lipgloss.Color("#2CD7C7")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorSlate   = lipgloss.Color("#5C7A84")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorAdded   = lipgloss.Color("#3FB950")
	ColorRemoved = lipgloss.Color("#F85149")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style

	DiffAdded   lipgloss.Style
	DiffRemoved lipgloss.Style
	DiffHunk    lipgloss.Style
	DiffHeader  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	DiffAdded:   lipgloss.NewStyle().Foreground(ColorAdded),
	DiffRemoved: lipgloss.NewStyle().Foreground(ColorRemoved),
	DiffHunk:    lipgloss.NewStyle().Foreground(ColorAccent),
	DiffHeader:  lipgloss.NewStyle().Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Console writes medic's own messages, keeping them apart from the
// wrapped program's output.
//
// # Thread Safety
//
// Not safe for concurrent use; the pipeline is sequential.
type Console struct {
	w     io.Writer
	color bool
}

// NewConsole creates a Console on w. Styling is enabled when w is a
// terminal and NO_COLOR is unset.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, color: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

// NewPlainConsole creates a Console that never styles its output.
func NewPlainConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer { return c.w }

// Colored reports whether output is styled.
func (c *Console) Colored() bool { return c.color }

func (c *Console) render(s lipgloss.Style, text string) string {
	if !c.color {
		return text
	}
	return s.Render(text)
}

func (c *Console) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return c.render(Styles.Success, string(i))
	case IconWarning:
		return c.render(Styles.Warning, string(i))
	case IconError:
		return c.render(Styles.Error, string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title
func (c *Console) Title(text string) {
	fmt.Fprintln(c.w, c.render(Styles.Title, text))
}

// Success prints a success message with checkmark
func (c *Console) Success(text string) {
	fmt.Fprintf(c.w, "%s %s\n", c.icon(IconSuccess), c.render(Styles.Success, text))
}

// Warning prints a warning message
func (c *Console) Warning(text string) {
	fmt.Fprintf(c.w, "%s %s\n", c.icon(IconWarning), c.render(Styles.Warning, text))
}

// Error prints an error message
func (c *Console) Error(text string) {
	fmt.Fprintf(c.w, "%s %s\n", c.icon(IconError), c.render(Styles.Error, text))
}

// Info prints an informational message
func (c *Console) Info(text string) {
	fmt.Fprintf(c.w, "%s %s\n", c.render(Styles.Muted, "│"), text)
}

// Muted prints secondary text
func (c *Console) Muted(text string) {
	fmt.Fprintln(c.w, c.render(Styles.Muted, text))
}

// Box prints text in a rounded box. Plain consoles print a header line
// instead.
func (c *Console) Box(title, content string) {
	c.box(Styles.Box, Styles.Title, title, content)
}

// ErrorBox prints text in an error-styled box.
func (c *Console) ErrorBox(title, content string) {
	c.box(Styles.ErrorBox, Styles.Error.Bold(true), title, content)
}

func (c *Console) box(frame, head lipgloss.Style, title, content string) {
	content = strings.TrimRight(content, "\n")
	if !c.color {
		fmt.Fprintf(c.w, "== %s ==\n%s\n", title, content)
		return
	}
	fmt.Fprintln(c.w, frame.Render(head.Render(title)+"\n"+content))
}

// Diff prints a unified diff, coloring added, removed and hunk lines.
func (c *Console) Diff(text string) {
	fmt.Fprint(c.w, c.RenderDiff(text))
}

// RenderDiff returns text with diff styling applied.
func (c *Console) RenderDiff(text string) string {
	if !c.color || text == "" {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, line := range lines {
		body := strings.TrimSuffix(line, "\n")
		nl := line[len(body):]
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			b.WriteString(Styles.DiffHeader.Render(body))
		case strings.HasPrefix(body, "@@"):
			b.WriteString(Styles.DiffHunk.Render(body))
		case strings.HasPrefix(body, "+"):
			b.WriteString(Styles.DiffAdded.Render(body))
		case strings.HasPrefix(body, "-"):
			b.WriteString(Styles.DiffRemoved.Render(body))
		default:
			b.WriteString(body)
		}
		b.WriteString(nl)
	}
	return b.String()
}

// KeyValue prints an aligned label and value.
func (c *Console) KeyValue(label string, value any) {
	fmt.Fprintf(c.w, "  %s %v\n", c.render(Styles.Muted, fmt.Sprintf("%-18s", label+":")), value)
}
