// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/blob"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/dgraph-io/ristretto/v2"
)

const (
	BranchPrefix = "refs/heads/"
	TagPrefix    = "refs/tags/"

	// RegularFileMode is assigned to newly inserted blobs.
	RegularFileMode = "100644"
	TreeMode        = "040000"
)

// Repository is a handle bound to one repository row.
type Repository struct {
	R     *database.Repository
	db    database.DB
	store blob.Store
	cache *ristretto.Cache[string, any]
}

func (r *Repository) ID() int64 {
	return r.R.ID
}

func (r *Repository) Name() string {
	return r.R.Name
}

func (r *Repository) MainBranch() string {
	return r.R.MainBranch
}

func (r *Repository) DB() database.DB {
	return r.db
}

func (r *Repository) Store() blob.Store {
	return r.store
}

func (r *Repository) cacheKey(hash string) string {
	return fmt.Sprintf("%d/%s", r.R.ID, hash)
}

// CreateBlob stores content in the blob backend and upserts the row.
// Idempotent by hash within the repository.
func (r *Repository) CreateBlob(ctx context.Context, content []byte) (*database.Blob, error) {
	stat, err := r.store.Put(ctx, content)
	if err != nil {
		return nil, err
	}
	return r.db.UpsertBlob(ctx, &database.Blob{
		RepositoryID: r.R.ID,
		Hash:         stat.Hash.String(),
		Size:         stat.Size,
		StorageKey:   stat.StorageKey,
	})
}

// BlobContent retrieves the bytes of a stored blob.
func (r *Repository) BlobContent(ctx context.Context, hash string) ([]byte, error) {
	if _, err := r.db.FindBlob(ctx, r.R.ID, hash); err != nil {
		return nil, err
	}
	return r.store.Get(ctx, plumbing.NewHash(hash))
}

// TreeHash computes the content hash of a set of entries: SHA-256 over the
// canonical JSON of the entries sorted by name.
func TreeHash(entries []database.TreeEntry) (string, error) {
	sorted := make([]database.TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	arr := make([]map[string]any, 0, len(sorted))
	for _, e := range sorted {
		arr = append(arr, map[string]any{
			"name":        e.Name,
			"kind":        string(e.Kind),
			"target_hash": e.TargetHash,
			"mode":        e.Mode,
		})
	}
	canonical, err := plumbing.CanonicalJSON(arr)
	if err != nil {
		return "", err
	}
	return plumbing.HashBytes([]byte(canonical)).String(), nil
}

// CreateTree sorts entries by name, rejects duplicates and upserts the tree
// with its entries in one transaction.
func (r *Repository) CreateTree(ctx context.Context, entries []database.TreeEntry) (*database.Tree, error) {
	sorted := make([]database.TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, database.NewErrInvalidInput("duplicate tree entry '%s'", sorted[i].Name)
		}
	}
	hash, err := TreeHash(sorted)
	if err != nil {
		return nil, err
	}
	t, err := r.db.UpsertTree(ctx, &database.Tree{RepositoryID: r.R.ID, Hash: hash, Entries: sorted})
	if err != nil {
		return nil, err
	}
	r.cache.Set(r.cacheKey(hash), t, 1)
	return t, nil
}

// Tree loads a tree, preferring the immutable-object cache.
func (r *Repository) Tree(ctx context.Context, hash string) (*database.Tree, error) {
	if v, ok := r.cache.Get(r.cacheKey(hash)); ok {
		if t, ok := v.(*database.Tree); ok {
			return t, nil
		}
	}
	t, err := r.db.FindTree(ctx, r.R.ID, hash)
	if err != nil {
		return nil, err
	}
	r.cache.Set(r.cacheKey(hash), t, 1)
	return t, nil
}

// CommitHash computes the content hash of a commit: SHA-256 over the
// canonical JSON of {tree, parent, author, author_email, message, timestamp}.
// The timestamp is canonicalised to UTC RFC3339 seconds before hashing.
func CommitHash(treeHash, parentHash, author, authorEmail, message string, committedAt time.Time) (string, error) {
	payload := map[string]any{
		"tree":         treeHash,
		"parent":       nil,
		"author":       author,
		"author_email": authorEmail,
		"message":      message,
		"timestamp":    committedAt.UTC().Format(time.RFC3339),
	}
	if len(parentHash) != 0 {
		payload["parent"] = parentHash
	}
	canonical, err := plumbing.CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return plumbing.HashBytes([]byte(canonical)).String(), nil
}

// CreateCommit validates that tree and parent resolve within the repository
// and upserts the commit, idempotent by computed hash.
func (r *Repository) CreateCommit(ctx context.Context, treeHash, message, author, authorEmail, parentHash string) (*database.Commit, error) {
	if _, err := r.Tree(ctx, treeHash); err != nil {
		return nil, err
	}
	if len(parentHash) != 0 {
		if _, err := r.Commit(ctx, parentHash); err != nil {
			return nil, err
		}
	}
	committedAt := time.Now().UTC().Truncate(time.Second)
	hash, err := CommitHash(treeHash, parentHash, author, authorEmail, message, committedAt)
	if err != nil {
		return nil, err
	}
	c, err := r.db.UpsertCommit(ctx, &database.Commit{
		RepositoryID: r.R.ID,
		Hash:         hash,
		TreeHash:     treeHash,
		ParentHash:   parentHash,
		Author:       author,
		AuthorEmail:  authorEmail,
		Message:      message,
		CommittedAt:  committedAt,
	})
	if err != nil {
		return nil, err
	}
	r.cache.Set(r.cacheKey(hash), c, 1)
	return c, nil
}

// Commit loads a commit, preferring the immutable-object cache.
func (r *Repository) Commit(ctx context.Context, hash string) (*database.Commit, error) {
	if v, ok := r.cache.Get(r.cacheKey(hash)); ok {
		if c, ok := v.(*database.Commit); ok {
			return c, nil
		}
	}
	c, err := r.db.FindCommit(ctx, r.R.ID, hash)
	if err != nil {
		return nil, err
	}
	r.cache.Set(r.cacheKey(hash), c, 1)
	return c, nil
}

// CreateOrUpdateRef upserts a full ref name. Any stored commit is accepted;
// there is no ordering check.
func (r *Repository) CreateOrUpdateRef(ctx context.Context, name, commitHash string) (*database.Ref, error) {
	if _, err := r.Commit(ctx, commitHash); err != nil {
		return nil, err
	}
	return r.db.UpsertRef(ctx, r.R.ID, name, commitHash)
}

// CreateBranch is create-only; it fails with ErrExist when the branch is
// already present.
func (r *Repository) CreateBranch(ctx context.Context, name, commitHash string) (*database.Ref, error) {
	if _, err := r.Commit(ctx, commitHash); err != nil {
		return nil, err
	}
	return r.db.NewRef(ctx, r.R.ID, qualifyBranch(name), commitHash)
}

// Branch resolves a short branch name to its ref.
func (r *Repository) Branch(ctx context.Context, name string) (*database.Ref, error) {
	return r.db.FindRef(ctx, r.R.ID, qualifyBranch(name))
}

// ResolveRefOrCommit resolves token in order: branch, tag, raw commit hash.
func (r *Repository) ResolveRefOrCommit(ctx context.Context, token string) (*database.Commit, error) {
	if ref, err := r.db.FindRef(ctx, r.R.ID, BranchPrefix+token); err == nil {
		return r.Commit(ctx, ref.CommitHash)
	} else if !database.IsNotFound(err) {
		return nil, err
	}
	if ref, err := r.db.FindRef(ctx, r.R.ID, TagPrefix+token); err == nil {
		return r.Commit(ctx, ref.CommitHash)
	} else if !database.IsNotFound(err) {
		return nil, err
	}
	if plumbing.IsHash(token) {
		if c, err := r.Commit(ctx, token); err == nil {
			return c, nil
		} else if !database.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, &plumbing.ErrRevisionNotFound{Revision: token}
}

// MergeBranches fast-forwards base onto head and returns the new base head
// commit. Divergent branches cannot merge; three-way merging is deliberately
// absent.
func (r *Repository) MergeBranches(ctx context.Context, base, head string) (*database.Commit, error) {
	headRef, err := r.Branch(ctx, head)
	if err != nil {
		return nil, err
	}
	headCommit, err := r.Commit(ctx, headRef.CommitHash)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.UpsertRef(ctx, r.R.ID, qualifyBranch(base), headCommit.Hash); err != nil {
		return nil, err
	}
	return headCommit, nil
}

func qualifyBranch(name string) string {
	if strings.HasPrefix(name, BranchPrefix) || strings.HasPrefix(name, TagPrefix) {
		return name
	}
	return BranchPrefix + name
}
