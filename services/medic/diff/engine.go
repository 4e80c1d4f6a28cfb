// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff validates proposals, renders them as unified diffs and
// applies them to disk.
//
// Application is transactional: the span is re-checked against the file
// under a cross-process lock, a backup is written first, and the new
// content replaces the file by rename so a reader never sees a partial
// write.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/medic/services/medic/ast"
	"github.com/AleutianAI/medic/services/medic/backend"
	"github.com/AleutianAI/medic/services/medic/extract"
	"github.com/AleutianAI/medic/services/medic/lock"
)

// backupTimeFormat names backup directories; it sorts chronologically.
const backupTimeFormat = "20060102-150405.000000000"

// Config configures an Engine.
type Config struct {
	// Root is the project root. Backups keep paths relative to it.
	Root string

	// BackupDir defaults to <Root>/.medic/backups.
	BackupDir string

	// Parser validates replacements. Required.
	Parser *ast.Parser

	// Locks guards application across processes. Optional.
	Locks *lock.FileLockManager

	// Now stamps backups. Defaults to time.Now.
	Now func() time.Time
}

// Engine validates, renders and applies proposals.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent applies to the same file are
// serialized by the lock manager when one is configured.
type Engine struct {
	root      string
	backupDir string
	parser    *ast.Parser
	locks     *lock.FileLockManager
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("diff engine requires a parser")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", cfg.Root, err)
	}
	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(root, ".medic", "backups")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		root:      root,
		backupDir: backupDir,
		parser:    cfg.Parser,
		locks:     cfg.Locks,
		now:       now,
	}, nil
}

// BackupDir returns the directory backups are written under.
func (e *Engine) BackupDir() string {
	return e.backupDir
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks a proposal before it is applied.
//
// # Description
//
// Every proposal must be non-blank. A replacement for a function must
// parse cleanly on its own and define a top-level function of the same
// name. When the file currently parses cleanly, the spliced result must
// too. Nothing is written.
//
// # Outputs
//
//   - error: nil when accepted, *ValidationError when rejected, or an
//     I/O or context error.
func (e *Engine) Validate(ctx context.Context, p *backend.Proposal) error {
	if p == nil || p.Context == nil {
		return fmt.Errorf("validate: proposal has no context")
	}
	sc := p.Context

	reject := func(format string, args ...any) error {
		return &ValidationError{Path: sc.FilePath, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(p.ProposedText) == "" {
		return reject("replacement is empty")
	}

	if sc.Kind == extract.SpanUnit {
		standalone := backend.Reindent(p.ProposedText, "")
		tree, err := e.parser.Parse(ctx, []byte(standalone))
		if err != nil {
			return reject("replacement cannot be parsed: %v", err)
		}
		if tree.HasError {
			return reject("replacement has syntax errors")
		}
		if !definesFunction(tree, sc.UnitName) {
			return reject("replacement does not define function %q", sc.UnitName)
		}
	}

	content, err := os.ReadFile(sc.FilePath)
	if err != nil {
		return fmt.Errorf("validate: reading %s: %w", sc.FilePath, err)
	}
	lines := extract.SplitLines(content)
	if currentSpan(lines, sc) != sc.OriginalText {
		// Apply reports the conflict.
		return nil
	}

	before, err := e.parser.Parse(ctx, content)
	if err != nil {
		return fmt.Errorf("validate: parsing %s: %w", sc.FilePath, err)
	}
	if before.HasError {
		return nil
	}
	after, err := e.parser.Parse(ctx, []byte(splice(lines, sc, p.ProposedText)))
	if err != nil {
		return reject("patched file cannot be parsed: %v", err)
	}
	if after.HasError {
		return reject("patched file has syntax errors")
	}
	return nil
}

func definesFunction(tree *ast.Tree, name string) bool {
	for _, n := range tree.Root.Children {
		if n.Kind == ast.KindFunction && n.Name == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Application
// =============================================================================

// Apply splices a proposal into its file.
//
// # Description
//
// Under the file lock, the span is re-read and compared byte for byte
// with the text the proposal was written against. On a match the new
// content is computed; a dry run stops there. Otherwise the current file
// is backed up and replaced atomically, keeping its permissions.
//
// # Inputs
//
//   - ctx: Checked before any write.
//   - p: A validated proposal.
//   - dryRun: When true, the file system is not touched.
//
// # Outputs
//
//   - *PatchResult: The diff and, when applied, the backup location.
//   - error: *ConflictError when the span changed, *lock.FileLockError
//     when another process is patching the file, or an I/O error.
func (e *Engine) Apply(ctx context.Context, p *backend.Proposal, dryRun bool) (*PatchResult, error) {
	if p == nil || p.Context == nil {
		return nil, fmt.Errorf("apply: proposal has no context")
	}
	sc := p.Context
	path := sc.FilePath

	var external atomic.Bool
	if e.locks != nil {
		if err := e.locks.AcquireLock(path, "applying patch"); err != nil {
			return nil, fmt.Errorf("apply: %w", err)
		}
		defer func() {
			if err := e.locks.ReleaseLock(path); err != nil {
				slog.Warn("Failed to release patch lock", "path", path, "error", err)
			}
		}()
		e.locks.RegisterCallback(path, func(ev lock.ExternalChangeEvent) {
			external.Store(true)
		})
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("apply: reading %s: %w", path, err)
	}

	lines := extract.SplitLines(content)
	if currentSpan(lines, sc) != sc.OriginalText {
		return nil, &ConflictError{
			Path:      path,
			StartLine: sc.StartLine,
			EndLine:   sc.EndLine,
			Reason:    "file changed on disk since the crash was analyzed",
		}
	}

	updated := splice(lines, sc, p.ProposedText)
	rendered, err := e.render(path, content, []byte(updated))
	if err != nil {
		return nil, err
	}

	result := &PatchResult{
		FilePath: path,
		DiffText: rendered.Text,
		Stats:    rendered.Stats,
		Status:   StatusPending,
	}
	if dryRun {
		slog.Info("Dry run, patch not written", "path", path)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("apply canceled before write: %w", err)
	}

	backupPath, err := e.backup(path, content, info.Mode().Perm())
	if err != nil {
		return nil, err
	}

	if e.locks != nil {
		if external.Load() {
			return nil, &ConflictError{
				Path:      path,
				StartLine: sc.StartLine,
				EndLine:   sc.EndLine,
				Reason:    "file was modified by another process during the patch",
			}
		}
		// Our own rename must not look like an external edit.
		e.locks.Unwatch(path)
	}

	if err := writeAtomic(path, []byte(updated), info.Mode().Perm()); err != nil {
		return nil, err
	}

	result.Applied = true
	result.BackupPath = backupPath

	slog.Info("Patch applied",
		"path", path,
		"lines", fmt.Sprintf("%d-%d", sc.StartLine, sc.EndLine),
		"added", rendered.Stats.Added,
		"deleted", rendered.Stats.Deleted,
		"backup", backupPath)

	return result, nil
}

// Restore copies a backup over filePath atomically.
func (e *Engine) Restore(backupPath, filePath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("restore: reading backup %s: %w", backupPath, err)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(filePath); err == nil {
		mode = info.Mode().Perm()
	}
	if err := writeAtomic(filePath, data, mode); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	slog.Info("Restored from backup", "path", filePath, "backup", backupPath)
	return nil
}

// backup writes content under <backupDir>/<timestamp>/<relative path>.
func (e *Engine) backup(path string, content []byte, mode os.FileMode) (string, error) {
	rel, err := filepath.Rel(e.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(path)
	}
	dest := filepath.Join(e.backupDir, e.now().Format(backupTimeFormat), rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	if err := writeAtomic(dest, content, mode); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return dest, nil
}

// currentSpan returns lines [StartLine, EndLine] as they are now, or ""
// when the file no longer has that many lines.
func currentSpan(lines []string, sc *extract.SourceContext) string {
	if sc.StartLine < 1 || sc.EndLine > len(lines) || sc.StartLine > sc.EndLine {
		return ""
	}
	return strings.Join(lines[sc.StartLine-1:sc.EndLine], "")
}

// splice replaces lines [StartLine, EndLine] with text. A line terminator
// is added when the span had one and text lacks it.
func splice(lines []string, sc *extract.SourceContext, text string) string {
	if strings.HasSuffix(sc.OriginalText, "\n") && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	var b strings.Builder
	for _, l := range lines[:sc.StartLine-1] {
		b.WriteString(l)
	}
	b.WriteString(text)
	for _, l := range lines[sc.EndLine:] {
		b.WriteString(l)
	}
	return b.String()
}

// writeAtomic writes data to a temp file beside path, syncs it, and
// renames it over path.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".medic-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
