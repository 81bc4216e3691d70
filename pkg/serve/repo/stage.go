// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/google/uuid"
)

// Staging areas accumulate path→blob pairs and are materialised into a commit
// in one step. They are the only mutable object-side entity.

// CreateStage opens a staging area, optionally anchored at a base commit
// whose tree seeds the materialised commit.
func (r *Repository) CreateStage(ctx context.Context, baseCommit string) (*database.Stage, error) {
	if len(baseCommit) != 0 {
		if _, err := r.Commit(ctx, baseCommit); err != nil {
			return nil, err
		}
	}
	return r.db.NewStage(ctx, &database.Stage{
		RepositoryID: r.R.ID,
		ID:           uuid.NewString(),
		BaseCommit:   baseCommit,
	})
}

// StageAddFile stores content as a blob and records the path→blob pair,
// replacing any previous pair at the same path.
func (r *Repository) StageAddFile(ctx context.Context, stageID, path string, content []byte) (*database.StageBlob, error) {
	if len(SplitPath(path)) == 0 {
		return nil, database.NewErrInvalidInput("empty file path")
	}
	b, err := r.CreateBlob(ctx, content)
	if err != nil {
		return nil, err
	}
	sb := &database.StageBlob{
		RepositoryID: r.R.ID,
		StageID:      stageID,
		Path:         path,
		BlobHash:     b.Hash,
	}
	if err := r.db.StageAddBlob(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// CommitStage materialises a staging area into a commit on branch and drops
// the stage. Staged paths overlay the base commit's tree; intermediate
// directories are synthesised as needed.
func (r *Repository) CommitStage(ctx context.Context, stageID, branch, message, author, authorEmail string) (*database.Commit, error) {
	blobs, err := r.db.StageBlobs(ctx, r.R.ID, stageID)
	if err != nil {
		return nil, err
	}
	if len(blobs) == 0 {
		return nil, database.NewErrInvalidInput("stage '%s' is empty", stageID)
	}
	var parentHash, baseTree string
	if ref, err := r.Branch(ctx, branch); err == nil {
		parent, err := r.Commit(ctx, ref.CommitHash)
		if err != nil {
			return nil, err
		}
		parentHash = parent.Hash
		baseTree = parent.TreeHash
	} else if !database.IsNotFound(err) {
		return nil, err
	}
	root := newTreeBuilder()
	if len(baseTree) != 0 {
		if err := r.loadTreeBuilder(ctx, root, baseTree); err != nil {
			return nil, err
		}
	}
	for _, sb := range blobs {
		root.put(SplitPath(sb.Path), sb.BlobHash)
	}
	rootHash, err := r.buildTree(ctx, root)
	if err != nil {
		return nil, err
	}
	c, err := r.CreateCommit(ctx, rootHash, message, author, authorEmail, parentHash)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.UpsertRef(ctx, r.R.ID, qualifyBranch(branch), c.Hash); err != nil {
		return nil, err
	}
	if err := r.db.DeleteStage(ctx, r.R.ID, stageID); err != nil {
		return nil, err
	}
	return c, nil
}

// treeBuilder is an in-memory overlay used only while materialising a stage.
type treeBuilder struct {
	blobs map[string]string       // name → blob hash
	trees map[string]*treeBuilder // name → subtree
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{blobs: map[string]string{}, trees: map[string]*treeBuilder{}}
}

func (tb *treeBuilder) put(segments []string, blobHash string) {
	if len(segments) == 1 {
		delete(tb.trees, segments[0])
		tb.blobs[segments[0]] = blobHash
		return
	}
	child, ok := tb.trees[segments[0]]
	if !ok {
		child = newTreeBuilder()
		tb.trees[segments[0]] = child
		delete(tb.blobs, segments[0])
	}
	child.put(segments[1:], blobHash)
}

func (r *Repository) loadTreeBuilder(ctx context.Context, tb *treeBuilder, treeHash string) error {
	t, err := r.Tree(ctx, treeHash)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.Kind == database.KindBlob {
			tb.blobs[e.Name] = e.TargetHash
			continue
		}
		child := newTreeBuilder()
		tb.trees[e.Name] = child
		if err := r.loadTreeBuilder(ctx, child, e.TargetHash); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) buildTree(ctx context.Context, tb *treeBuilder) (string, error) {
	entries := make([]database.TreeEntry, 0, len(tb.blobs)+len(tb.trees))
	for name, hash := range tb.blobs {
		entries = append(entries, database.TreeEntry{Name: name, Kind: database.KindBlob, TargetHash: hash, Mode: RegularFileMode})
	}
	for name, child := range tb.trees {
		childHash, err := r.buildTree(ctx, child)
		if err != nil {
			return "", err
		}
		entries = append(entries, database.TreeEntry{Name: name, Kind: database.KindTree, TargetHash: childHash, Mode: TreeMode})
	}
	t, err := r.CreateTree(ctx, entries)
	if err != nil {
		return "", err
	}
	return t.Hash, nil
}
