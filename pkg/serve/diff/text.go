// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type LineKind string

const (
	LineAdd     LineKind = "add"
	LineRemove  LineKind = "remove"
	LineContext LineKind = "context"
)

// Line is one row of the line-level view model. OldNo and NewNo are 1-based;
// zero means the line has no number on that side.
type Line struct {
	OldNo   int      `json:"old_no,omitempty"`
	NewNo   int      `json:"new_no,omitempty"`
	Content string   `json:"content"`
	Kind    LineKind `json:"kind"`
}

// TextDiff is the rendered line diff of one Modified leaf. Binary content
// yields no lines.
type TextDiff struct {
	Binary bool   `json:"binary"`
	Lines  []Line `json:"lines"`
}

// UnifiedLines renders a line diff of two byte slices. Either side failing
// to decode as UTF-8 marks the diff binary. Replaced regions render as a
// remove block followed by an add block.
func UnifiedLines(before, after []byte) *TextDiff {
	if !utf8.Valid(before) || !utf8.Valid(after) {
		return &TextDiff{Binary: true}
	}
	dmp := diffmatchpatch.New()
	c1, c2, lineIndex := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lineIndex)
	td := &TextDiff{Lines: []Line{}}
	oldNo, newNo := 0, 0
	for _, d := range diffs {
		for _, content := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldNo++
				newNo++
				td.Lines = append(td.Lines, Line{OldNo: oldNo, NewNo: newNo, Content: content, Kind: LineContext})
			case diffmatchpatch.DiffDelete:
				oldNo++
				td.Lines = append(td.Lines, Line{OldNo: oldNo, Content: content, Kind: LineRemove})
			case diffmatchpatch.DiffInsert:
				newNo++
				td.Lines = append(td.Lines, Line{NewNo: newNo, Content: content, Kind: LineAdd})
			}
		}
	}
	return td
}

func splitLines(chunk string) []string {
	if len(chunk) == 0 {
		return nil
	}
	chunk = strings.TrimSuffix(chunk, "\n")
	return strings.Split(chunk, "\n")
}
