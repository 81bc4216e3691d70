// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/blob"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "stageflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	hub, err := NewHub(db, store, nil)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = hub.New(ctx, "demo", "", "main")
	require.NoError(t, err)
	r, err := hub.Open(ctx, "demo")
	require.NoError(t, err)
	return r
}

func TestTreeHashOrderIndependent(t *testing.T) {
	a := []database.TreeEntry{
		{Name: "b.txt", Kind: database.KindBlob, TargetHash: plumbing.HashBytes([]byte("b")).String(), Mode: RegularFileMode},
		{Name: "a.txt", Kind: database.KindBlob, TargetHash: plumbing.HashBytes([]byte("a")).String(), Mode: RegularFileMode},
	}
	b := []database.TreeEntry{a[1], a[0]}
	ha, err := TreeHash(a)
	require.NoError(t, err)
	hb, err := TreeHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.True(t, plumbing.IsHash(ha))

	empty, err := TreeHash(nil)
	require.NoError(t, err)
	assert.NotEqual(t, ha, empty)
}

func TestCommitHashParentSensitive(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tree := plumbing.HashBytes([]byte("tree")).String()
	root, err := CommitHash(tree, "", "dev", "dev@example.com", "msg", at)
	require.NoError(t, err)
	child, err := CommitHash(tree, root, "dev", "dev@example.com", "msg", at)
	require.NoError(t, err)
	assert.NotEqual(t, root, child)

	// Sub-second precision does not change the identity.
	same, err := CommitHash(tree, "", "dev", "dev@example.com", "msg", at.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, root, same)
}

func TestCreateTreeRejectsDuplicates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	h := plumbing.HashBytes([]byte("x")).String()
	_, err := r.CreateTree(ctx, []database.TreeEntry{
		{Name: "a.txt", Kind: database.KindBlob, TargetHash: h, Mode: RegularFileMode},
		{Name: "a.txt", Kind: database.KindBlob, TargetHash: h, Mode: RegularFileMode},
	})
	require.Error(t, err)
	assert.True(t, database.IsErrInvalidInput(err))
}

func TestUpdateFileRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	c, err := r.UpdateFile(ctx, "main", "README.md", []byte("# demo\n"), "add readme", "dev", "dev@example.com")
	require.NoError(t, err)
	assert.Empty(t, c.ParentHash)

	ref, err := r.Branch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, c.Hash, ref.CommitHash)

	blobHash, err := r.BlobHashFromPath(ctx, c.TreeHash, "README.md")
	require.NoError(t, err)
	content, err := r.BlobContent(ctx, blobHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("# demo\n"), content)

	// Second edit chains onto the first.
	c2, err := r.UpdateFile(ctx, "main", "README.md", []byte("# demo v2\n"), "update readme", "dev", "dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, c.Hash, c2.ParentHash)
	assert.NotEqual(t, c.TreeHash, c2.TreeHash)
}

func TestUpdateFileMissingDirectory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, err := r.UpdateFile(ctx, "main", "docs/guide.md", []byte("x"), "msg", "dev", "dev@example.com")
	require.Error(t, err)
	assert.True(t, plumbing.IsErrPathNotFound(err))
}

func TestUpdateFileKeepsSiblings(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	stage, err := r.CreateStage(ctx, "")
	require.NoError(t, err)
	_, err = r.StageAddFile(ctx, stage.ID, "a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = r.StageAddFile(ctx, stage.ID, "sub/b.txt", []byte("b"))
	require.NoError(t, err)
	c1, err := r.CommitStage(ctx, stage.ID, "main", "seed", "dev", "dev@example.com")
	require.NoError(t, err)

	c2, err := r.UpdateFile(ctx, "main", "sub/b.txt", []byte("b2"), "edit", "dev", "dev@example.com")
	require.NoError(t, err)

	// Untouched sibling keeps its blob.
	h1, err := r.BlobHashFromPath(ctx, c1.TreeHash, "a.txt")
	require.NoError(t, err)
	h2, err := r.BlobHashFromPath(ctx, c2.TreeHash, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	edited, err := r.BlobHashFromPath(ctx, c2.TreeHash, "sub/b.txt")
	require.NoError(t, err)
	content, err := r.BlobContent(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, []byte("b2"), content)
}

func TestDeleteFilePrunesEmptyDirs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	stage, err := r.CreateStage(ctx, "")
	require.NoError(t, err)
	_, err = r.StageAddFile(ctx, stage.ID, "keep.txt", []byte("keep"))
	require.NoError(t, err)
	_, err = r.StageAddFile(ctx, stage.ID, "sub/only.txt", []byte("gone"))
	require.NoError(t, err)
	_, err = r.CommitStage(ctx, stage.ID, "main", "seed", "dev", "dev@example.com")
	require.NoError(t, err)

	c, err := r.DeleteFile(ctx, "main", "sub/only.txt", "remove", "dev", "dev@example.com")
	require.NoError(t, err)

	root, err := r.Tree(ctx, c.TreeHash)
	require.NoError(t, err)
	require.Len(t, root.Entries, 1)
	assert.Equal(t, "keep.txt", root.Entries[0].Name)

	_, err = r.DeleteFile(ctx, "main", "sub/only.txt", "again", "dev", "dev@example.com")
	require.Error(t, err)
	assert.True(t, plumbing.IsErrPathNotFound(err))
}

func TestDeleteLastFileLeavesEmptyRoot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, err := r.UpdateFile(ctx, "main", "only.txt", []byte("x"), "seed", "dev", "dev@example.com")
	require.NoError(t, err)
	c, err := r.DeleteFile(ctx, "main", "only.txt", "empty it", "dev", "dev@example.com")
	require.NoError(t, err)
	root, err := r.Tree(ctx, c.TreeHash)
	require.NoError(t, err)
	assert.Empty(t, root.Entries)
}

func TestStageLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	stage, err := r.CreateStage(ctx, "")
	require.NoError(t, err)

	_, err = r.StageAddFile(ctx, stage.ID, "f.txt", []byte("v1"))
	require.NoError(t, err)
	_, err = r.StageAddFile(ctx, stage.ID, "f.txt", []byte("v2"))
	require.NoError(t, err)

	c, err := r.CommitStage(ctx, stage.ID, "main", "materialise", "dev", "dev@example.com")
	require.NoError(t, err)
	h, err := r.BlobHashFromPath(ctx, c.TreeHash, "f.txt")
	require.NoError(t, err)
	content, err := r.BlobContent(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)

	// The stage was consumed.
	_, err = r.CommitStage(ctx, stage.ID, "main", "again", "dev", "dev@example.com")
	require.Error(t, err)
	assert.True(t, database.IsErrInvalidInput(err))
}

func TestCommitStageOverlaysBase(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base, err := r.UpdateFile(ctx, "main", "base.txt", []byte("base"), "seed", "dev", "dev@example.com")
	require.NoError(t, err)

	stage, err := r.CreateStage(ctx, base.Hash)
	require.NoError(t, err)
	_, err = r.StageAddFile(ctx, stage.ID, "new/child.txt", []byte("child"))
	require.NoError(t, err)
	c, err := r.CommitStage(ctx, stage.ID, "main", "overlay", "dev", "dev@example.com")
	require.NoError(t, err)

	_, err = r.BlobHashFromPath(ctx, c.TreeHash, "base.txt")
	require.NoError(t, err)
	_, err = r.BlobHashFromPath(ctx, c.TreeHash, "new/child.txt")
	require.NoError(t, err)
}

func TestCommitHistory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	var hashes []string
	for _, msg := range []string{"one", "two", "three"} {
		c, err := r.UpdateFile(ctx, "main", "f.txt", []byte(msg), msg, "dev", "dev@example.com")
		require.NoError(t, err)
		hashes = append(hashes, c.Hash)
	}
	history, err := r.CommitHistory(ctx, hashes[2], 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "three", history[0].Message)
	assert.Equal(t, "one", history[2].Message)

	limited, err := r.CommitHistory(ctx, hashes[2], 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestResolveRefOrCommit(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	c, err := r.UpdateFile(ctx, "main", "f.txt", []byte("x"), "seed", "dev", "dev@example.com")
	require.NoError(t, err)
	_, err = r.CreateOrUpdateRef(ctx, TagPrefix+"v1", c.Hash)
	require.NoError(t, err)

	byBranch, err := r.ResolveRefOrCommit(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, c.Hash, byBranch.Hash)

	byTag, err := r.ResolveRefOrCommit(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, c.Hash, byTag.Hash)

	byHash, err := r.ResolveRefOrCommit(ctx, c.Hash)
	require.NoError(t, err)
	assert.Equal(t, c.Hash, byHash.Hash)

	_, err = r.ResolveRefOrCommit(ctx, "nope")
	require.Error(t, err)
	assert.True(t, plumbing.IsErrRevisionNotFound(err))
}

func TestCreateBranchIsCreateOnly(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	c, err := r.UpdateFile(ctx, "main", "f.txt", []byte("x"), "seed", "dev", "dev@example.com")
	require.NoError(t, err)

	_, err = r.CreateBranch(ctx, "dev", c.Hash)
	require.NoError(t, err)
	_, err = r.CreateBranch(ctx, "dev", c.Hash)
	require.Error(t, err)
	assert.True(t, database.IsErrExist(err))

	// Unknown commit is rejected before the ref is touched.
	_, err = r.CreateBranch(ctx, "dangling", plumbing.HashBytes([]byte("nowhere")).String())
	require.Error(t, err)
	assert.True(t, database.IsNotFound(err))
}

func TestMergeBranchesFastForward(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base, err := r.UpdateFile(ctx, "main", "f.txt", []byte("base"), "seed", "dev", "dev@example.com")
	require.NoError(t, err)
	_, err = r.CreateBranch(ctx, "dev", base.Hash)
	require.NoError(t, err)
	head, err := r.UpdateFile(ctx, "dev", "f.txt", []byte("head"), "work", "dev", "dev@example.com")
	require.NoError(t, err)

	merged, err := r.MergeBranches(ctx, "main", "dev")
	require.NoError(t, err)
	assert.Equal(t, head.Hash, merged.Hash)

	ref, err := r.Branch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, head.Hash, ref.CommitHash)
}

func TestSplitPath(t *testing.T) {
	assert.Nil(t, SplitPath(""))
	assert.Nil(t, SplitPath("."))
	assert.Nil(t, SplitPath("/"))
	assert.Equal(t, []string{"a"}, SplitPath("/a/"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitPath("a/b/c"))
}
