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
)

// StripFences removes markdown code fences models add despite being told
// not to. When the text contains a fenced block, the first block's body is
// returned; otherwise text is returned unchanged.
func StripFences(text string) string {
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			start = i
			break
		}
	}
	if start < 0 {
		return text
	}
	for j := start + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == "```" {
			return strings.Join(lines[start+1:j], "\n") + "\n"
		}
	}
	// Unterminated fence: drop the opening line only.
	return strings.Join(lines[start+1:], "\n")
}

// Reindent shifts text so its shared indentation becomes indent.
func Reindent(text, indent string) string {
	current := extract.CommonIndent(text)
	if current == indent {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = strings.TrimRight(line, " \t")
			continue
		}
		lines[i] = indent + strings.TrimPrefix(line, current)
	}
	return strings.Join(lines, "\n")
}

// trimBlankEdges drops blank lines before the first and after the last
// line of code.
func trimBlankEdges(text string) string {
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// blankEdges returns the blank lines, without terminators, that open and
// close text.
func blankEdges(text string) (lead, trail []string) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		return nil, nil
	}
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	lead = lines[:i]
	j := len(lines)
	for j > i && strings.TrimSpace(lines[j-1]) == "" {
		j--
	}
	return lead, lines[j:]
}

// NewProposal normalizes a raw response into a Proposal for sc.
//
// # Description
//
// Fences and surrounding blank lines are removed and the code is shifted
// to the region's indentation. The blank lines that open and close the
// original region are then put back unchanged, and the final line
// terminator follows the original region's.
//
// # Outputs
//
//   - *Proposal: The normalized proposal.
//   - error: Wraps ErrBackendInvalidResponse when nothing usable remains.
func NewProposal(sc *extract.SourceContext, resp *Response) (*Proposal, error) {
	text := strings.ReplaceAll(resp.Text, "\r\n", "\n")
	text = trimBlankEdges(StripFences(text))
	if text == "" {
		return nil, &BackendError{
			Backend: resp.BackendID,
			Model:   resp.ModelID,
			Err:     fmt.Errorf("%w: no code in response", ErrBackendInvalidResponse),
		}
	}

	text = Reindent(text, sc.BaseIndent())
	lead, trail := blankEdges(sc.OriginalText)
	parts := make([]string, 0, len(lead)+1+len(trail))
	parts = append(parts, lead...)
	parts = append(parts, text)
	parts = append(parts, trail...)
	text = strings.Join(parts, "\n")
	if strings.HasSuffix(sc.OriginalText, "\n") {
		text += "\n"
	}

	return &Proposal{
		Context:      sc,
		ProposedText: text,
		BackendID:    resp.BackendID,
		ModelID:      resp.ModelID,
	}, nil
}
