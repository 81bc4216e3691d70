// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("hello blob store")
	stat, err := store.Put(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, plumbing.HashBytes(content), stat.Hash)
	assert.Equal(t, int64(len(content)), stat.Size)

	got, err := store.Get(ctx, stat.Hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	ok, err := store.Exists(ctx, stat.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilesystemStorePutIdempotent(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	second, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.StorageKey, second.StorageKey)
}

func TestFilesystemStoreMissing(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	oid := plumbing.HashBytes([]byte("never stored"))
	_, err = store.Get(ctx, oid)
	require.Error(t, err)
	assert.True(t, plumbing.IsNoSuchObject(err))

	ok, err := store.Exists(ctx, oid)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.Delete(ctx, oid)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFilesystemStoreDelete(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	stat, err := store.Put(ctx, []byte("short lived"))
	require.NoError(t, err)
	removed, err := store.Delete(ctx, stat.Hash)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.Get(ctx, stat.Hash)
	assert.True(t, plumbing.IsNoSuchObject(err))
}

func TestFilesystemStoreSignedURL(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	stat, err := store.Put(ctx, []byte("shared"))
	require.NoError(t, err)
	u, err := store.SignedURL(ctx, stat.Hash, time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))

	_, err = store.SignedURL(ctx, plumbing.HashBytes([]byte("missing")), time.Minute)
	assert.True(t, plumbing.IsNoSuchObject(err))
}
