// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedLinesReplacement(t *testing.T) {
	td := UnifiedLines([]byte("a\nb\nc\n"), []byte("a\nB\nc\n"))
	assert.False(t, td.Binary)
	require.Len(t, td.Lines, 4)

	assert.Equal(t, Line{OldNo: 1, NewNo: 1, Content: "a", Kind: LineContext}, td.Lines[0])
	assert.Equal(t, Line{OldNo: 2, Content: "b", Kind: LineRemove}, td.Lines[1])
	assert.Equal(t, Line{NewNo: 2, Content: "B", Kind: LineAdd}, td.Lines[2])
	assert.Equal(t, Line{OldNo: 3, NewNo: 3, Content: "c", Kind: LineContext}, td.Lines[3])
}

func TestUnifiedLinesAppend(t *testing.T) {
	td := UnifiedLines([]byte("one\n"), []byte("one\ntwo\nthree\n"))
	require.Len(t, td.Lines, 3)
	assert.Equal(t, LineContext, td.Lines[0].Kind)
	assert.Equal(t, LineAdd, td.Lines[1].Kind)
	assert.Equal(t, "two", td.Lines[1].Content)
	assert.Equal(t, 2, td.Lines[1].NewNo)
	assert.Zero(t, td.Lines[1].OldNo)
	assert.Equal(t, "three", td.Lines[2].Content)
	assert.Equal(t, 3, td.Lines[2].NewNo)
}

func TestUnifiedLinesRemoveAll(t *testing.T) {
	td := UnifiedLines([]byte("gone\n"), nil)
	require.Len(t, td.Lines, 1)
	assert.Equal(t, Line{OldNo: 1, Content: "gone", Kind: LineRemove}, td.Lines[0])
}

func TestUnifiedLinesIdentical(t *testing.T) {
	td := UnifiedLines([]byte("same\n"), []byte("same\n"))
	require.Len(t, td.Lines, 1)
	assert.Equal(t, LineContext, td.Lines[0].Kind)
}

func TestUnifiedLinesBinary(t *testing.T) {
	td := UnifiedLines([]byte{0xff, 0xfe, 0x00}, []byte("text\n"))
	assert.True(t, td.Binary)
	assert.Empty(t, td.Lines)

	td = UnifiedLines([]byte("text\n"), []byte{0xc3, 0x28})
	assert.True(t, td.Binary)
}

func TestUnifiedLinesNoTrailingNewline(t *testing.T) {
	td := UnifiedLines([]byte("a"), []byte("b"))
	require.Len(t, td.Lines, 2)
	assert.Equal(t, "a", td.Lines[0].Content)
	assert.Equal(t, LineRemove, td.Lines[0].Kind)
	assert.Equal(t, "b", td.Lines[1].Content)
	assert.Equal(t, LineAdd, td.Lines[1].Kind)
}
