// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"database/sql"
)

// Content-addressed tables: storing the same logical entity twice returns the
// existing row. The pre-SELECT plus guarded INSERT runs inside a transaction
// keyed on the unique primary key.

const (
	sqlFindBlob   = `select repository_id, hash, size, storage_key from blobs where repository_id = ? and hash = ?`
	sqlInsertBlob = `INSERT INTO blobs (repository_id, hash, size, storage_key) VALUES (?, ?, ?, ?)`
)

func (d *database) UpsertBlob(ctx context.Context, b *Blob) (*Blob, error) {
	if existing, err := d.FindBlob(ctx, b.RepositoryID, b.Hash); err == nil {
		return existing, nil
	} else if !IsNotFound(err) {
		return nil, err
	}
	if _, err := d.ExecContext(ctx, sqlInsertBlob, b.RepositoryID, b.Hash, b.Size, b.StorageKey); err != nil {
		if isDupEntry(err) {
			return d.FindBlob(ctx, b.RepositoryID, b.Hash)
		}
		return nil, err
	}
	return b, nil
}

func (d *database) FindBlob(ctx context.Context, rid int64, hash string) (*Blob, error) {
	var b Blob
	if err := d.QueryRowContext(ctx, sqlFindBlob, rid, hash).Scan(
		&b.RepositoryID, &b.Hash, &b.Size, &b.StorageKey); err != nil {
		return nil, err
	}
	return &b, nil
}

const (
	sqlFindTree        = `select hash from trees where repository_id = ? and hash = ?`
	sqlInsertTree      = `INSERT INTO trees (repository_id, hash) VALUES (?, ?)`
	sqlInsertTreeEntry = `INSERT INTO tree_entries (repository_id, tree_hash, name, kind, target_hash, mode) VALUES (?, ?, ?, ?, ?, ?)`
	sqlTreeEntries     = `select name, kind, target_hash, mode from tree_entries where repository_id = ? and tree_hash = ? order by name asc`
)

func (d *database) UpsertTree(ctx context.Context, t *Tree) (*Tree, error) {
	if existing, err := d.FindTree(ctx, t.RepositoryID, t.Hash); err == nil {
		return existing, nil
	} else if !IsNotFound(err) {
		return nil, err
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, sqlInsertTree, t.RepositoryID, t.Hash); err != nil {
		if isDupEntry(err) {
			return d.FindTree(ctx, t.RepositoryID, t.Hash)
		}
		return nil, err
	}
	for _, e := range t.Entries {
		if _, err := tx.ExecContext(ctx, sqlInsertTreeEntry, t.RepositoryID, t.Hash, e.Name, e.Kind, e.TargetHash, e.Mode); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *database) FindTree(ctx context.Context, rid int64, hash string) (*Tree, error) {
	var found string
	if err := d.QueryRowContext(ctx, sqlFindTree, rid, hash).Scan(&found); err != nil {
		return nil, err
	}
	rows, err := d.QueryContext(ctx, sqlTreeEntries, rid, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	t := &Tree{RepositoryID: rid, Hash: hash}
	for rows.Next() {
		var e TreeEntry
		if err := rows.Scan(&e.Name, &e.Kind, &e.TargetHash, &e.Mode); err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, e)
	}
	return t, rows.Err()
}

const (
	sqlFindCommit = `select
  repository_id
, hash
, tree_hash
, parent_hash
, author
, author_email
, message
, committed_at
from commits
where repository_id = ? and hash = ?`
	sqlInsertCommit = `INSERT INTO commits (repository_id, hash, tree_hash, parent_hash, author, author_email, message, committed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

func (d *database) UpsertCommit(ctx context.Context, c *Commit) (*Commit, error) {
	if existing, err := d.FindCommit(ctx, c.RepositoryID, c.Hash); err == nil {
		return existing, nil
	} else if !IsNotFound(err) {
		return nil, err
	}
	var parent sql.NullString
	if len(c.ParentHash) != 0 {
		parent = sql.NullString{String: c.ParentHash, Valid: true}
	}
	if _, err := d.ExecContext(ctx, sqlInsertCommit,
		c.RepositoryID, c.Hash, c.TreeHash, parent, c.Author, c.AuthorEmail, c.Message, micros(c.CommittedAt)); err != nil {
		if isDupEntry(err) {
			return d.FindCommit(ctx, c.RepositoryID, c.Hash)
		}
		return nil, err
	}
	c.CommittedAt = fromMicros(micros(c.CommittedAt))
	return c, nil
}

func (d *database) FindCommit(ctx context.Context, rid int64, hash string) (*Commit, error) {
	var c Commit
	var parent sql.NullString
	var committed int64
	if err := d.QueryRowContext(ctx, sqlFindCommit, rid, hash).Scan(
		&c.RepositoryID, &c.Hash, &c.TreeHash, &parent, &c.Author, &c.AuthorEmail, &c.Message, &committed); err != nil {
		return nil, err
	}
	c.ParentHash = parent.String
	c.CommittedAt = fromMicros(committed)
	return &c, nil
}
