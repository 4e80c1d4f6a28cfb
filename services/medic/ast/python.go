// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast builds a definition tree for Python source using tree-sitter.
//
// Only the structure needed to bound a crash site is kept: functions,
// methods and classes with their exact line spans. Parsed trees are cached
// by content hash so the extractor and the patch validator share work
// within one session.
package ast

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxFileSize is the largest file the parser accepts (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// DefaultCacheSize is the number of parsed trees kept.
	DefaultCacheSize = 64
)

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithMaxFileSize sets the maximum content size the parser will accept.
func WithMaxFileSize(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.maxFileSize = n
		}
	}
}

// WithCacheSize sets the number of cached trees.
func WithCacheSize(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.cacheSize = n
		}
	}
}

// Parser parses Python source into definition trees.
//
// # Thread Safety
//
// Safe for concurrent use. A fresh tree-sitter parser is created per
// parse; concurrent requests for identical content share one parse.
type Parser struct {
	maxFileSize int
	cacheSize   int
	cache       *lru.Cache[string, *Tree]
	flight      singleflight.Group
}

// NewParser creates a Parser with an LRU tree cache.
func NewParser(opts ...ParserOption) (*Parser, error) {
	p := &Parser{
		maxFileSize: DefaultMaxFileSize,
		cacheSize:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	cache, err := lru.New[string, *Tree](p.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating parse cache: %w", err)
	}
	p.cache = cache
	return p, nil
}

// Parse returns the definition tree for content.
//
// # Description
//
// A tree is always returned for valid UTF-8 input within the size limit,
// even when the source has syntax errors; check Tree.HasError.
//
// # Outputs
//
//   - *Tree: Shared, read-only tree.
//   - error: ErrFileTooLarge, ErrInvalidContent, or a context error.
func (p *Parser) Parse(ctx context.Context, content []byte) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if len(content) > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:])

	if tree, ok := p.cache.Get(key); ok {
		return tree, nil
	}

	v, err, _ := p.flight.Do(key, func() (interface{}, error) {
		// A flight for the same key may have finished since the lookup.
		if tree, ok := p.cache.Get(key); ok {
			return tree, nil
		}
		tree, err := parsePython(ctx, content)
		if err != nil {
			return nil, err
		}
		tree.Hash = key
		p.cache.Add(key, tree)
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tree), nil
}

// parsePython runs the tree-sitter grammar and converts the result.
func parsePython(ctx context.Context, content []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	st, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer st.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	tree := &Tree{
		Root:  &Node{Kind: KindModule, StartLine: 1, DefLine: 1},
		Lines: countLines(content),
	}
	tree.Root.EndLine = tree.Lines

	root := st.RootNode()
	if root == nil {
		slog.Warn("tree-sitter returned nil root node")
		tree.HasError = true
		return tree, nil
	}
	tree.HasError = root.HasError()
	collect(root, content, tree.Root)
	return tree, nil
}

// collect appends the definitions found under n to parent, recursing into
// definition bodies and any other compound statement.
func collect(n *sitter.Node, content []byte, parent *Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition":
			def := newNode(child, child, content)
			parent.Children = append(parent.Children, def)
			collect(child, content, def)
		case "decorated_definition":
			inner := child.ChildByFieldName("definition")
			if inner == nil {
				collect(child, content, parent)
				continue
			}
			def := newNode(child, inner, content)
			parent.Children = append(parent.Children, def)
			collect(inner, content, def)
		default:
			collect(child, content, parent)
		}
	}
}

// newNode builds a definition spanning outer (the decorated wrapper, or
// the definition itself) and named after inner.
func newNode(outer, inner *sitter.Node, content []byte) *Node {
	kind := KindFunction
	if inner.Type() == "class_definition" {
		kind = KindClass
	}
	var name string
	if id := inner.ChildByFieldName("name"); id != nil {
		name = id.Content(content)
	}
	start := outer.StartPoint()
	return &Node{
		Kind:      kind,
		Name:      name,
		StartLine: int(start.Row) + 1,
		DefLine:   int(inner.StartPoint().Row) + 1,
		EndLine:   endLine(outer),
		Column:    int(start.Column),
	}
}

// endLine converts a tree-sitter end point to a 1-based inclusive line. An
// end at column zero means the node stopped at the previous line break.
func endLine(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
