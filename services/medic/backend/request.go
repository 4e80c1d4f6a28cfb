// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/medic/services/medic/extract"
	"github.com/AleutianAI/medic/services/medic/traceback"
)

// TimeoutKind is the error kind used when the run was stopped by the
// timeout rather than an exception.
const TimeoutKind = "Timeout"

// BuildRequest assembles the request for one diagnosis.
//
// # Inputs
//
//   - sc: The extracted region. Must not be nil.
//   - tb: The parsed traceback. Must not be nil.
//   - timedOut: The run was interrupted by the timeout.
//   - prior: Earlier failed proposals for the same crash site.
func BuildRequest(sc *extract.SourceContext, tb *traceback.Traceback, timedOut bool, prior []string) *Request {
	kind, msg := tb.ErrorKind, tb.ErrorMessage
	if timedOut {
		kind = TimeoutKind
		msg = fmt.Sprintf("execution exceeded the time limit while at line %d (%s)", sc.CrashLine, tb.Summary())
	}
	return &Request{
		FilePath:      sc.FilePath,
		StartLine:     sc.StartLine,
		EndLine:       sc.EndLine,
		CrashLine:     sc.CrashLine,
		SourceSpan:    sc.OriginalText,
		SpanKind:      sc.Kind,
		UnitName:      sc.UnitName,
		ErrorKind:     kind,
		ErrorMessage:  msg,
		Frames:        tb.Chain(),
		PriorRejected: append([]string(nil), prior...),
	}
}

// guidance holds repair hints per exception kind.
var guidance = map[string][]string{
	"NameError": {
		"Define the name before it is used, or pass it in as a parameter.",
		"Look for a misspelled variable or function name.",
		"Add the missing import when the name comes from another module.",
	},
	"TypeError": {
		"Convert values to the type the operation expects.",
		"Check the number and order of call arguments.",
		"Guard against None before using the value.",
	},
	"IndexError": {
		"Check the length of the sequence before indexing.",
		"Handle the empty sequence explicitly.",
	},
	"ZeroDivisionError": {
		"Check the divisor before dividing.",
		"Return a sensible default or raise a descriptive error for the zero case.",
	},
	"AttributeError": {
		"Make sure the object has the expected type before calling the method.",
		"Handle None explicitly.",
		"Check the attribute name for typos.",
	},
	"KeyError": {
		"Use dict.get with a default, or test membership before indexing.",
		"Make sure the key is populated before it is read.",
	},
	"ImportError": {
		"Check the module name for typos.",
		"Remove the import if it is unused, or make an optional dependency conditional.",
	},
	"SyntaxError": {
		"Close unbalanced brackets, parentheses and string literals.",
		"Add missing colons and fix the indentation.",
	},
	TimeoutKind: {
		"The program did not finish in time. Look for loops whose condition never changes.",
		"Make sure recursion has a reachable base case.",
		"Avoid blocking calls without a timeout.",
	},
}

var genericGuidance = []string{
	"Find the root cause from the error message and the traceback.",
	"Make the smallest change that removes the failure.",
}

// guidanceFor returns the hints for kind. Dotted names match on the last
// component and ModuleNotFoundError shares the ImportError hints.
func guidanceFor(kind string) []string {
	if i := strings.LastIndex(kind, "."); i >= 0 {
		kind = kind[i+1:]
	}
	if kind == "ModuleNotFoundError" {
		kind = "ImportError"
	}
	if g, ok := guidance[kind]; ok {
		return g
	}
	return genericGuidance
}

const systemPrompt = `You repair crashing Python programs.
You receive one region of a source file and the error it raised.
Reply with the complete replacement for that region and nothing else:
no explanations, no markdown code fences, no diff.
Keep the change minimal and keep the original indentation and structure.`

// SystemPrompt returns the instructions shared by every request.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders req as the per-crash message.
func UserPrompt(req *Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ERROR TYPE: %s\n", req.ErrorKind)
	if req.ErrorMessage != "" {
		fmt.Fprintf(&b, "ERROR MESSAGE: %s\n", req.ErrorMessage)
	}
	fmt.Fprintf(&b, "FILE: %s (lines %d-%d, failing line %d)\n", req.FilePath, req.StartLine, req.EndLine, req.CrashLine)

	if len(req.Frames) > 0 {
		b.WriteString("\nTRACEBACK (most recent call last):\n")
		for _, f := range req.Frames {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	if req.SpanKind == extract.SpanUnit {
		fmt.Fprintf(&b, "\nREGION: the complete definition of function %q. Return the complete fixed definition, keeping its name.\n", req.UnitName)
	} else {
		fmt.Fprintf(&b, "\nREGION: lines %d-%d of the file. Return exactly the fixed replacement for these lines.\n", req.StartLine, req.EndLine)
	}
	b.WriteString("\nCODE:\n")
	b.WriteString(req.SourceSpan)
	if !strings.HasSuffix(req.SourceSpan, "\n") {
		b.WriteString("\n")
	}

	b.WriteString("\nHINTS:\n")
	for _, g := range guidanceFor(req.ErrorKind) {
		fmt.Fprintf(&b, "- %s\n", g)
	}

	for i, prior := range req.PriorRejected {
		fmt.Fprintf(&b, "\nPREVIOUS ATTEMPT %d (applied, but the same error happened again; do not repeat it):\n", i+1)
		b.WriteString(prior)
		if !strings.HasSuffix(prior, "\n") {
			b.WriteString("\n")
		}
	}

	b.WriteString("\nFIXED CODE:\n")
	return b.String()
}
