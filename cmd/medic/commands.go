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
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/medic/cmd/medic/config"
	"github.com/AleutianAI/medic/pkg/logging"
	"github.com/AleutianAI/medic/pkg/ux"
	"github.com/AleutianAI/medic/services/medic/journal"
	"github.com/AleutianAI/medic/services/medic/orchestrator"
	"github.com/AleutianAI/medic/services/medic/runner"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

type rootFlags struct {
	backend      string
	model        string
	dryRun       bool
	autoFix      bool
	listBackends bool
	maxAttempts  int
	window       int
	timeout      time.Duration
	root         string
	noLog        bool
	logLevel     string
	configPath   string
}

type statsFlags struct {
	days int
	json bool
}

// exitError carries the process exit code for a command failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: orchestrator.ExitUsage, err: err}
}

func failure(err error) error {
	return &exitError{code: orchestrator.ExitFailure, err: err}
}

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// newRootCmd builds the command tree.
//
// # Description
//
// The root command takes the target command line as positional arguments.
// Flag parsing stops at the first positional argument, so the target's own
// flags pass through untouched; "--" may be used to be explicit.
func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "medic [flags] -- command [args...]",
		Short: "Run a Python program and repair the function that crashes it",
		Long: `medic runs a command. When it crashes with a Python traceback, medic
extracts the failing function, asks a model for a corrected version, shows the
change as a diff and, once confirmed, applies it and runs the command again.

A lone "script.py" argument is run with the configured interpreter.`,
		Example: `  medic -- python app.py --input data.csv
  medic app.py
  medic --dry-run --backend local app.py
  medic --auto-fix --max-attempts 5 -- python -m mypkg.cli
  medic stats --days 30`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runRoot,
	}
	root.Flags().SetInterspersed(false)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.root, "root", "", "project root; only files under it are patched (default: current directory)")
	pf.StringVar(&a.flags.configPath, "config", "", "settings file (default: <root>/"+config.FileName+")")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	f := root.Flags()
	f.StringVar(&a.flags.backend, "backend", "", "backend: auto, local, cloud, ollama, openai, gemini")
	f.StringVar(&a.flags.model, "model", "", "model for the selected backend")
	f.BoolVar(&a.flags.dryRun, "dry-run", false, "show the proposed fix without applying it")
	f.BoolVar(&a.flags.autoFix, "auto-fix", false, "apply fixes without asking")
	f.BoolVar(&a.flags.listBackends, "list-backends", false, "probe every backend and exit")
	f.IntVar(&a.flags.maxAttempts, "max-attempts", 0, "fix attempts before giving up")
	f.IntVar(&a.flags.window, "window", 0, "lines of context around a crash outside any function")
	f.DurationVar(&a.flags.timeout, "timeout", 0, "stop each run after this long, e.g. 30s (0 means no limit)")
	f.BoolVar(&a.flags.noLog, "no-log", false, "do not write the attempt journal or log file")

	root.AddCommand(a.newStatsCmd(), a.newInitCmd())
	return root
}

func (a *app) newStatsCmd() *cobra.Command {
	var sf statsFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize past repair attempts from the journal",
		Example: `  medic stats
  medic stats --days 30 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStats(cmd, sf)
		},
	}
	cmd.Flags().IntVar(&sf.days, "days", 7, "number of days to include, counting today")
	cmd.Flags().BoolVar(&sf.json, "json", false, "print the summary as JSON")
	return cmd
}

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName + " to the project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot()
			if err != nil {
				return failure(err)
			}
			path := filepath.Join(root, config.FileName)
			if err := config.WriteDefault(path); err != nil {
				return failure(err)
			}
			ux.NewConsole(a.out).Success("Wrote " + path)
			return nil
		},
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

func (a *app) runRoot(cmd *cobra.Command, args []string) error {
	settings, err := a.loadSettings(cmd)
	if err != nil {
		return usageError(err)
	}
	logger := a.newLogger(settings)
	defer logger.Close()

	if a.flags.listBackends {
		a.code = a.listBackends(cmd.Context(), settings)
		return nil
	}
	if len(args) == 0 {
		return usageError(errors.New("no command given; usage: medic [flags] -- command [args...]"))
	}

	command := runner.ExpandCommand(args, settings.Python)
	logger.Debug("starting session", "command", command, "settings", settings.Source)

	code, err := a.repair(cmd.Context(), settings, command)
	if err != nil {
		return failure(err)
	}
	a.code = code
	return nil
}

func (a *app) runStats(cmd *cobra.Command, sf statsFlags) error {
	if sf.days < 1 {
		return usageError(fmt.Errorf("--days must be at least 1, got %d", sf.days))
	}
	settings, err := a.loadSettings(cmd)
	if err != nil {
		return usageError(err)
	}
	j, err := journal.New(logging.ExpandPath(settings.LogDir))
	if err != nil {
		return failure(err)
	}
	st, err := j.Stats(sf.days)
	if err != nil {
		return failure(err)
	}

	if sf.json {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return failure(err)
		}
		fmt.Fprintln(a.out, string(data))
		return nil
	}

	c := ux.NewConsole(a.out)
	c.Title(fmt.Sprintf("medic stats, last %d day(s)", st.Days))
	c.KeyValue("Crashes", st.TotalCrashes)
	c.KeyValue("Fixes proposed", st.FixesGenerated)
	c.KeyValue("Fixes applied", st.FixesApplied)
	c.KeyValue("Fixes rejected", st.FixesRejected)
	c.KeyValue("Verified fixed", st.Fixed)
	c.KeyValue("Success rate", fmt.Sprintf("%.1f%%", st.SuccessRate))

	if kinds := st.SortedErrorKinds(); len(kinds) > 0 {
		c.Muted("By error kind")
		for _, k := range kinds {
			c.KeyValue("  "+k.Kind, k.Count)
		}
	}
	if len(st.Backends) > 0 {
		c.Muted("By backend")
		ids := make([]string, 0, len(st.Backends))
		for id := range st.Backends {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			c.KeyValue("  "+id, st.Backends[id])
		}
	}
	return nil
}
