// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/medic/cmd/medic/config"
	"github.com/AleutianAI/medic/pkg/logging"
	"github.com/AleutianAI/medic/pkg/ux"
	"github.com/AleutianAI/medic/services/llm"
	"github.com/AleutianAI/medic/services/medic/ast"
	"github.com/AleutianAI/medic/services/medic/backend"
	"github.com/AleutianAI/medic/services/medic/diff"
	"github.com/AleutianAI/medic/services/medic/extract"
	"github.com/AleutianAI/medic/services/medic/journal"
	"github.com/AleutianAI/medic/services/medic/lock"
	"github.com/AleutianAI/medic/services/medic/metrics"
	"github.com/AleutianAI/medic/services/medic/orchestrator"
	"github.com/AleutianAI/medic/services/medic/runner"
)

// app holds the process streams and parsed flags for one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	lookupEnv   func(string) (string, bool)
	getwd       func() (string, error)
	interactive func() bool

	flags rootFlags
	code  int
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:        in,
		out:       out,
		errOut:    errOut,
		lookupEnv: os.LookupEnv,
		getwd:     os.Getwd,
		interactive: func() bool {
			return ux.IsTerminal(in) && ux.IsTerminal(errOut)
		},
	}
}

// execute parses args, runs the selected command and returns the exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.errOut, "medic: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return orchestrator.ExitUsage
	}
	return a.code
}

// =============================================================================
// Settings
// =============================================================================

func (a *app) projectRoot() (string, error) {
	root := a.flags.root
	if root == "" {
		wd, err := a.getwd()
		if err != nil {
			return "", fmt.Errorf("determining working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", abs)
	}
	return abs, nil
}

// loadSettings resolves settings and applies the flags the user set.
func (a *app) loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	root, err := a.projectRoot()
	if err != nil {
		return nil, err
	}
	s, err := config.Load(config.Options{Root: root, Path: a.flags.configPath, LookupEnv: a.lookupEnv})
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("backend") {
		s.Backend = strings.ToLower(a.flags.backend)
	}
	if changed("model") {
		switch s.Backend {
		case backend.IDOpenAI, backend.ModeCloud:
			s.OpenAIModel = a.flags.model
		case backend.IDGemini:
			s.GeminiModel = a.flags.model
		default:
			s.BackendModel = a.flags.model
		}
	}
	if changed("max-attempts") {
		s.MaxAttempts = a.flags.maxAttempts
	}
	if changed("window") {
		s.ContextWindowSize = a.flags.window
	}
	if changed("timeout") {
		s.RunTimeout = a.flags.timeout
	}
	if changed("log-level") {
		s.LogLevel = strings.ToLower(a.flags.logLevel)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) newLogger(s *config.Settings) *logging.Logger {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	cfg := logging.Config{
		Level:   level,
		Service: "medic",
		Output:  a.errOut,
	}
	if !a.flags.noLog {
		cfg.LogDir = s.LogDir
	}
	logger := logging.New(cfg)
	logger.SetDefault()
	return logger
}

// =============================================================================
// Backends
// =============================================================================

// buildSelector creates every backend in probe order, local first. Cloud
// backends without a credential are kept as placeholders so listings and
// error messages can name them.
func buildSelector(ctx context.Context, s *config.Settings) (*backend.Selector, error) {
	host := s.BackendHost
	if host == "" {
		host = llm.DefaultOllamaURL
	}
	ollama := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: host,
		Model:   s.BackendModel,
		Timeout: s.BackendTimeout,
	})
	backends := []backend.Backend{
		backend.NewLLMBackend(backend.IDOllama, "host "+host, ollama, s.BackendTimeout),
	}

	openAIModel := orDefault(s.OpenAIModel, llm.DefaultOpenAIModel)
	if s.HasOpenAIKey() {
		key, err := s.OpenAIKey()
		if err != nil {
			return nil, err
		}
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: key, Model: openAIModel})
		if err != nil {
			backends = append(backends, backend.NewUnconfigured(backend.IDOpenAI, openAIModel, err.Error()))
		} else {
			backends = append(backends, backend.NewLLMBackend(backend.IDOpenAI, "api credential set", client, s.BackendTimeout))
		}
	} else {
		backends = append(backends, backend.NewUnconfigured(backend.IDOpenAI, openAIModel, "OPENAI_API_KEY not set"))
	}

	geminiModel := orDefault(s.GeminiModel, llm.DefaultGeminiModel)
	if s.HasGeminiKey() {
		key, err := s.GeminiKey()
		if err != nil {
			return nil, err
		}
		client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{APIKey: key, Model: geminiModel})
		if err != nil {
			backends = append(backends, backend.NewUnconfigured(backend.IDGemini, geminiModel, err.Error()))
		} else {
			backends = append(backends, backend.NewLLMBackend(backend.IDGemini, "api credential set", client, s.BackendTimeout))
		}
	} else {
		backends = append(backends, backend.NewUnconfigured(backend.IDGemini, geminiModel, "GEMINI_API_KEY not set"))
	}

	return backend.NewSelector(s.Backend, backends...), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// listBackends probes every backend and prints one line each. It returns
// ExitOK when at least one is available.
func (a *app) listBackends(ctx context.Context, s *config.Settings) int {
	sel, err := buildSelector(ctx, s)
	if err != nil {
		fmt.Fprintf(a.errOut, "medic: %v\n", err)
		return orchestrator.ExitFailure
	}

	c := ux.NewConsole(a.out)
	c.Title("Backends (mode: " + sel.ID() + ")")
	code := orchestrator.ExitFailure
	for _, st := range sel.Probe(ctx) {
		line := fmt.Sprintf("%-7s %-24s %s", st.ID, st.Model, st.Detail)
		if st.Err != nil {
			c.Error(line + " (unavailable: " + st.Err.Error() + ")")
			continue
		}
		c.Success(line)
		code = orchestrator.ExitOK
	}
	return code
}

// =============================================================================
// Session
// =============================================================================

// repair wires the pipeline and runs one session. The error return is for
// setup failures; pipeline failures are reported through the exit code.
func (a *app) repair(ctx context.Context, s *config.Settings, command []string) (int, error) {
	root, err := a.projectRoot()
	if err != nil {
		return 0, err
	}
	sessionID := uuid.NewString()
	console := ux.NewConsole(a.errOut)

	shutdown, err := setupTracing(s.TraceFile)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logging.Default().Warn("flushing traces failed", "error", err)
		}
	}()

	parser, err := ast.NewParser()
	if err != nil {
		return 0, err
	}

	var locks *lock.FileLockManager
	if !a.flags.dryRun {
		locks, err = lock.NewFileLockManager(lock.ManagerConfig{
			LockDir:       filepath.Join(root, ".medic", "locks"),
			SessionID:     sessionID,
			CleanupOnInit: true,
		})
		if err != nil {
			return 0, err
		}
		defer locks.Close()
	}

	backupDir := s.BackupDir
	if backupDir != "" {
		backupDir = logging.ExpandPath(backupDir)
	}
	engine, err := diff.NewEngine(diff.Config{Root: root, BackupDir: backupDir, Parser: parser, Locks: locks})
	if err != nil {
		return 0, err
	}

	sel, err := buildSelector(ctx, s)
	if err != nil {
		return 0, err
	}

	var rec journal.Recorder = journal.Nop{}
	if !a.flags.noLog {
		j, err := journal.New(logging.ExpandPath(s.LogDir))
		if err != nil {
			return 0, err
		}
		rec = j
	}

	var prompter ux.UserPrompter = ux.NewNonInteractivePrompter()
	var editor ux.Editor
	if a.interactive() {
		prompter = ux.NewInteractivePrompterWithIO(a.in, a.errOut)
		editor = ux.NewExecEditor()
	}

	wd, err := a.getwd()
	if err != nil {
		wd = root
	}
	m := metrics.New()
	orch, err := orchestrator.New(orchestrator.Config{
		Command:     command,
		Root:        root,
		WorkDir:     wd,
		MaxAttempts: s.MaxAttempts,
		RunTimeout:  s.RunTimeout,
		DryRun:      a.flags.dryRun,
		AutoFix:     a.flags.autoFix,
		SessionID:   sessionID,
	}, orchestrator.Dependencies{
		Runner:    runner.New(runner.Config{Stdin: a.in, Stdout: a.out, Stderr: a.errOut}),
		Extractor: extract.NewExtractor(parser, s.ContextWindowSize),
		Backend:   sel,
		Engine:    engine,
		Prompter:  prompter,
		Editor:    editor,
		Journal:   rec,
		Metrics:   m,
		Console:   console,
	})
	if err != nil {
		return 0, err
	}

	out := orch.Run(ctx)
	report(console, out)

	if s.MetricsTextfile != "" {
		if err := m.WriteTextfile(logging.ExpandPath(s.MetricsTextfile)); err != nil {
			logging.Default().Warn("writing metrics failed", "path", s.MetricsTextfile, "error", err)
		}
	}
	return out.ExitCode(), nil
}

// report prints the session summary. Every failure shows the last known
// diagnosis and proposed change.
func report(c *ux.Console, out *orchestrator.Outcome) {
	if out.State == orchestrator.StateDone {
		if out.Reason == orchestrator.ReasonFixed {
			c.Success(fmt.Sprintf("Fixed after %d attempt(s)", out.Attempts))
			printBackups(c, out)
		}
		return
	}

	c.ErrorBox("medic could not fix this crash", fmt.Sprintf("%s: %s", out.Reason, out.Message))
	if tb := out.LastTraceback; tb != nil {
		c.KeyValue("Error", tb.Summary())
	}
	if sc := out.LastContext; sc != nil {
		c.KeyValue("Region", fmt.Sprintf("%s lines %d-%d", sc.FilePath, sc.StartLine, sc.EndLine))
	}
	if out.LastDiff != "" {
		c.Muted("Last proposed change:")
		c.Diff(out.LastDiff)
	}
	if out.Applied() {
		c.Warning("Patches were applied during this session")
		printBackups(c, out)
	}
	if hint := hintFor(out.Reason); hint != "" {
		c.Info(hint)
	}
}

func printBackups(c *ux.Console, out *orchestrator.Outcome) {
	for _, h := range out.History {
		if h.Applied {
			c.KeyValue("Backup", h.BackupPath)
		}
	}
}

func hintFor(r orchestrator.Reason) string {
	switch r {
	case orchestrator.ReasonUndiagnosable:
		return "medic needs a Python traceback on stderr that points into the project root (--root)."
	case orchestrator.ReasonBackendUnavailable, orchestrator.ReasonBackendTimeout:
		return "Start Ollama or set OPENAI_API_KEY / GEMINI_API_KEY; run medic --list-backends to check."
	case orchestrator.ReasonConflict:
		return "The file changed while medic was working on it; re-run medic."
	case orchestrator.ReasonSpawn:
		return "Check that the command exists and is executable."
	case orchestrator.ReasonVerification:
		return "Raise --max-attempts or fix the crash by hand starting from the last change."
	}
	return ""
}
