// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command medic runs a Python program and, when it crashes, asks a model
// for a fix to the failing function, shows it as a diff, applies it on
// confirmation and re-runs the program to verify.
//
// Usage:
//
//	medic [flags] -- python app.py --input data.csv
//	medic app.py                      # shorthand for python3 app.py
//	medic --dry-run --backend local app.py
//	medic stats --days 30
//
// Exit codes: 0 clean, fixed or dry run; 1 unresolved crash or pipeline
// failure; 2 usage error; 3 undiagnosable crash; 4 fix rejected; 5 the
// command could not be started; 130 interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	return a.execute(ctx, os.Args[1:])
}
