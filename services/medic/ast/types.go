// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import "errors"

var (
	// ErrFileTooLarge is returned when content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// NodeKind tags a structural node of a source file.
type NodeKind string

const (
	// KindModule is the root of every tree.
	KindModule NodeKind = "module"

	// KindFunction is a function or method definition (sync or async).
	KindFunction NodeKind = "function"

	// KindClass is a class definition.
	KindClass NodeKind = "class"
)

// Node is one definition in the tree, with its span and nested definitions.
//
// Lines are 1-based and inclusive. For decorated definitions StartLine is
// the first decorator's line and DefLine the line of the def/class keyword.
type Node struct {
	Kind      NodeKind
	Name      string
	StartLine int
	DefLine   int
	EndLine   int

	// Column is the indentation of the first line, in bytes.
	Column int

	Children []*Node
}

// Contains reports whether line falls inside the node's span.
func (n *Node) Contains(line int) bool {
	return line >= n.StartLine && line <= n.EndLine
}

// Encloses reports whether other's span lies within n's span.
func (n *Node) Encloses(other *Node) bool {
	return other.StartLine >= n.StartLine && other.EndLine <= n.EndLine
}

// Tree is the parsed structure of one source file. Trees are shared
// through the parser cache and must be treated as read-only.
type Tree struct {
	Root *Node

	// HasError is set when the grammar reported syntax errors anywhere.
	HasError bool

	// Hash is the hex SHA-256 of the parsed content.
	Hash string

	// Lines is the number of lines in the content.
	Lines int
}

// Enclosing returns every function whose span contains line, in
// depth-first order (outer definitions before the ones nested in them).
func (t *Tree) Enclosing(line int) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if !c.Contains(line) {
				continue
			}
			if c.Kind == KindFunction {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if t.Root != nil {
		walk(t.Root)
	}
	return out
}

// Functions returns every function definition in the tree, depth-first.
func (t *Tree) Functions() []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if c.Kind == KindFunction {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if t.Root != nil {
		walk(t.Root)
	}
	return out
}
