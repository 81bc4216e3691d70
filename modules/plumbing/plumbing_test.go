// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortedKeys(t *testing.T) {
	s, err := CanonicalJSON(map[string]any{
		"b": 1,
		"a": []any{"x", map[string]any{"z": nil, "y": true}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",{"y":true,"z":null}],"b":1}`, s)
}

func TestCanonicalJSONEquivalentForms(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{ "k": 1, "j": [2, 3] }`))
	require.NoError(t, err)
	b, err := CanonicalizeJSON([]byte(`{"j":[2,3],"k":1}`))
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestCanonicalJSONNumbersKeepForm(t *testing.T) {
	// json.Number preserves the literal, so large ids survive untouched.
	s, err := CanonicalizeJSON([]byte(`{"n": 12345678901234567890, "f": 1.5}`))
	require.NoError(t, err)
	assert.Equal(t, `{"f":1.5,"n":12345678901234567890}`, s)
}

func TestCanonicalJSONRejectsInvalid(t *testing.T) {
	_, err := CanonicalizeJSON([]byte(`{`))
	require.Error(t, err)
}

func TestHashBytes(t *testing.T) {
	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(sum[:]), HashBytes([]byte("hello")).String())
}

func TestHashFrom(t *testing.T) {
	h, err := HashFrom(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("hello")), h)
}

func TestNewHashRoundTrip(t *testing.T) {
	h := HashBytes([]byte("abc"))
	assert.Equal(t, h, NewHash(h.String()))
	assert.False(t, h.IsZero())
	assert.True(t, ZeroHash.IsZero())
}

func TestIsHash(t *testing.T) {
	assert.True(t, IsHash(HashBytes([]byte("x")).String()))
	assert.False(t, IsHash("abc"))
	assert.False(t, IsHash(strings.Repeat("G", HASH_HEX_SIZE)))
	assert.False(t, IsHash(strings.ToUpper(HashBytes([]byte("x")).String())))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNoSuchObject(NoSuchObject(ZeroHash)))
	assert.False(t, IsNoSuchObject(nil))
	assert.True(t, IsErrRevisionNotFound(&ErrRevisionNotFound{Revision: "dev"}))
	assert.True(t, IsErrPathNotFound(&ErrPathNotFound{Path: "a/b"}))
	assert.False(t, IsErrPathNotFound(NoSuchObject(ZeroHash)))
}
