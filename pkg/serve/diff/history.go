// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"context"
	"path"
	"strings"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/repo"
	"github.com/antgroup/stageflow/pkg/serve/vfs"
)

// CommitAffectsPath reports whether the diff between commit and its parent
// touches p itself or anything under it. The walk stops at the first hit.
func CommitAffectsPath(ctx context.Context, src *vfs.Source, commit *database.Commit, p string) (bool, error) {
	var parent *database.Commit
	if len(commit.ParentHash) != 0 {
		c, err := src.DB.FindCommit(ctx, src.RepoID, commit.ParentHash)
		if err != nil {
			return false, err
		}
		parent = c
	}
	affected := false
	err := Commits(ctx, src, parent, commit, func(e *Event) error {
		if e.Path == p || strings.HasPrefix(e.Path, p+"/") {
			affected = true
			return plumbing.ErrStop
		}
		return nil
	})
	if err != nil && err != plumbing.ErrStop {
		return false, err
	}
	return affected, nil
}

// LatestCommitForPath walks the linear parent chain from head and returns the
// first commit whose diff-to-parent affects p. Nil when no commit within
// limit touches it (limit <= 0 is unbounded).
func LatestCommitForPath(ctx context.Context, src *vfs.Source, head *database.Commit, p string, limit int) (*database.Commit, error) {
	current := head
	examined := 0
	for current != nil {
		affected, err := CommitAffectsPath(ctx, src, current, p)
		if err != nil {
			return nil, err
		}
		if affected {
			return current, nil
		}
		examined++
		if limit > 0 && examined >= limit {
			break
		}
		if len(current.ParentHash) == 0 {
			break
		}
		c, err := src.DB.FindCommit(ctx, src.RepoID, current.ParentHash)
		if err != nil {
			return nil, err
		}
		current = c
	}
	return nil, nil
}

// EntryWithCommit pairs a directory entry with the most recent ancestor
// commit that affected it.
type EntryWithCommit struct {
	Entry  database.TreeEntry
	Commit *database.Commit
}

// TreeEntriesWithCommits lists the directory at dirPath under head and
// annotates every entry with its latest touching commit.
func TreeEntriesWithCommits(ctx context.Context, src *vfs.Source, r *repo.Repository, head *database.Commit, dirPath string) ([]EntryWithCommit, error) {
	t, err := r.TreeAt(ctx, head.TreeHash, dirPath)
	if err != nil {
		return nil, err
	}
	out := make([]EntryWithCommit, 0, len(t.Entries))
	for _, e := range t.Entries {
		c, err := LatestCommitForPath(ctx, src, head, path.Join(dirPath, e.Name), 0)
		if err != nil {
			return nil, err
		}
		out = append(out, EntryWithCommit{Entry: e, Commit: c})
	}
	return out, nil
}
