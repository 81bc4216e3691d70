// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"strings"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/database"
)

// SplitPath normalises a slash-separated path into segments. Empty and "."
// paths yield no segments.
func SplitPath(p string) []string {
	p = strings.Trim(p, "/")
	if len(p) == 0 || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// BlobHashFromPath walks path segment by segment from treeHash and returns
// the blob hash at the leaf. A missing segment or a kind mismatch yields
// ErrPathNotFound.
func (r *Repository) BlobHashFromPath(ctx context.Context, treeHash, path string) (string, error) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return "", &plumbing.ErrPathNotFound{Path: path}
	}
	current := treeHash
	for i, seg := range segments {
		t, err := r.Tree(ctx, current)
		if err != nil {
			if database.IsNotFound(err) {
				return "", &plumbing.ErrPathNotFound{Path: path}
			}
			return "", err
		}
		entry := findEntry(t.Entries, seg)
		if entry == nil {
			return "", &plumbing.ErrPathNotFound{Path: path}
		}
		last := i == len(segments)-1
		switch {
		case last && entry.Kind == database.KindBlob:
			return entry.TargetHash, nil
		case !last && entry.Kind == database.KindTree:
			current = entry.TargetHash
		default:
			return "", &plumbing.ErrPathNotFound{Path: path}
		}
	}
	return "", &plumbing.ErrPathNotFound{Path: path}
}

// TreeAt resolves the tree at dirPath under treeHash. The empty path is the
// root tree itself.
func (r *Repository) TreeAt(ctx context.Context, treeHash, dirPath string) (*database.Tree, error) {
	current := treeHash
	for _, seg := range SplitPath(dirPath) {
		t, err := r.Tree(ctx, current)
		if err != nil {
			if database.IsNotFound(err) {
				return nil, &plumbing.ErrPathNotFound{Path: dirPath}
			}
			return nil, err
		}
		entry := findEntry(t.Entries, seg)
		if entry == nil || entry.Kind != database.KindTree {
			return nil, &plumbing.ErrPathNotFound{Path: dirPath}
		}
		current = entry.TargetHash
	}
	return r.Tree(ctx, current)
}

func findEntry(entries []database.TreeEntry, name string) *database.TreeEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}

// CommitHistory walks the linear parent chain from head, newest first, up to
// limit commits (unbounded when limit <= 0).
func (r *Repository) CommitHistory(ctx context.Context, head string, limit int) ([]*database.Commit, error) {
	var history []*database.Commit
	current := head
	for len(current) != 0 {
		c, err := r.Commit(ctx, current)
		if err != nil {
			return nil, err
		}
		history = append(history, c)
		if limit > 0 && len(history) >= limit {
			break
		}
		current = c.ParentHash
	}
	return history, nil
}

// UpdateFile stores content as a blob, synthesises a new tree chain along
// path with the blob substituted (or inserted with mode 100644), commits with
// the current branch head as parent and advances the branch ref. The branch
// is created on demand when absent. New directory segments are rejected.
func (r *Repository) UpdateFile(ctx context.Context, branch, path string, content []byte, message, author, authorEmail string) (*database.Commit, error) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return nil, database.NewErrInvalidInput("empty file path")
	}
	b, err := r.CreateBlob(ctx, content)
	if err != nil {
		return nil, err
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
	leaf := &database.TreeEntry{
		Name:       segments[len(segments)-1],
		Kind:       database.KindBlob,
		TargetHash: b.Hash,
		Mode:       RegularFileMode,
	}
	newRoot, err := r.rewriteTree(ctx, baseTree, segments, leaf, path)
	if err != nil {
		return nil, err
	}
	c, err := r.CreateCommit(ctx, newRoot, message, author, authorEmail, parentHash)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.UpsertRef(ctx, r.R.ID, qualifyBranch(branch), c.Hash); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteFile synthesises a tree chain with the leaf removed. Empty subtrees
// are pruned from their parents. A missing path or segment fails.
func (r *Repository) DeleteFile(ctx context.Context, branch, path, message, author, authorEmail string) (*database.Commit, error) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return nil, database.NewErrInvalidInput("empty file path")
	}
	ref, err := r.Branch(ctx, branch)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, &plumbing.ErrPathNotFound{Path: path}
		}
		return nil, err
	}
	parent, err := r.Commit(ctx, ref.CommitHash)
	if err != nil {
		return nil, err
	}
	newRoot, err := r.rewriteTree(ctx, parent.TreeHash, segments, nil, path)
	if err != nil {
		return nil, err
	}
	if len(newRoot) == 0 {
		// The delete emptied the repository; commit an empty root tree.
		t, err := r.CreateTree(ctx, nil)
		if err != nil {
			return nil, err
		}
		newRoot = t.Hash
	}
	c, err := r.CreateCommit(ctx, newRoot, message, author, authorEmail, parent.Hash)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.UpsertRef(ctx, r.R.ID, ref.Name, c.Hash); err != nil {
		return nil, err
	}
	return c, nil
}

// rewriteTree copies the entries of each tree along segments and substitutes
// the leaf at the deepest level. leaf == nil removes the entry instead. The
// returned hash names the synthesised root tree; untouched siblings keep
// their hashes.
func (r *Repository) rewriteTree(ctx context.Context, treeHash string, segments []string, leaf *database.TreeEntry, fullPath string) (string, error) {
	var entries []database.TreeEntry
	if len(treeHash) != 0 {
		t, err := r.Tree(ctx, treeHash)
		if err != nil {
			if database.IsNotFound(err) {
				return "", &plumbing.ErrPathNotFound{Path: fullPath}
			}
			return "", err
		}
		entries = append(entries, t.Entries...)
	}
	name := segments[0]
	idx := -1
	for i := range entries {
		if entries[i].Name == name {
			idx = i
			break
		}
	}
	if len(segments) == 1 {
		switch {
		case leaf != nil && idx >= 0:
			if entries[idx].Kind != database.KindBlob {
				return "", &plumbing.ErrPathNotFound{Path: fullPath}
			}
			entries[idx] = *leaf
		case leaf != nil:
			entries = append(entries, *leaf)
		case idx < 0 || entries[idx].Kind != database.KindBlob:
			return "", &plumbing.ErrPathNotFound{Path: fullPath}
		default:
			entries = append(entries[:idx], entries[idx+1:]...)
		}
	} else {
		if idx < 0 || entries[idx].Kind != database.KindTree {
			// Intermediate segments must already exist as directories.
			return "", &plumbing.ErrPathNotFound{Path: fullPath}
		}
		childHash, err := r.rewriteTree(ctx, entries[idx].TargetHash, segments[1:], leaf, fullPath)
		if err != nil {
			return "", err
		}
		if len(childHash) == 0 {
			entries = append(entries[:idx], entries[idx+1:]...)
		} else {
			entries[idx].TargetHash = childHash
		}
	}
	if len(entries) == 0 && leaf == nil {
		// Signal the parent to prune this now-empty directory.
		return "", nil
	}
	t, err := r.CreateTree(ctx, entries)
	if err != nil {
		return "", err
	}
	return t.Hash, nil
}
