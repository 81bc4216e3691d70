// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
)

const (
	sqlFindRef   = `select repository_id, name, commit_hash from refs where repository_id = ? and name = ?`
	sqlInsertRef = `INSERT INTO refs (repository_id, name, commit_hash) VALUES (?, ?, ?)`
	sqlUpdateRef = `UPDATE refs SET commit_hash = ? WHERE repository_id = ? AND name = ?`
	sqlListRefs  = `select repository_id, name, commit_hash from refs where repository_id = ? and name like ? order by name asc`
)

// UpsertRef creates or moves a ref. No ordering check: any stored commit is
// accepted.
func (d *database) UpsertRef(ctx context.Context, rid int64, name, commitHash string) (*Ref, error) {
	result, err := d.ExecContext(ctx, sqlUpdateRef, commitHash, rid, name)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return &Ref{RepositoryID: rid, Name: name, CommitHash: commitHash}, nil
	}
	if _, err := d.ExecContext(ctx, sqlInsertRef, rid, name, commitHash); err != nil {
		if isDupEntry(err) {
			// Lost the race against a concurrent insert; the update now wins.
			if _, err := d.ExecContext(ctx, sqlUpdateRef, commitHash, rid, name); err != nil {
				return nil, err
			}
			return &Ref{RepositoryID: rid, Name: name, CommitHash: commitHash}, nil
		}
		return nil, err
	}
	return &Ref{RepositoryID: rid, Name: name, CommitHash: commitHash}, nil
}

// NewRef is create-only: it fails with ErrExist when the ref is present.
func (d *database) NewRef(ctx context.Context, rid int64, name, commitHash string) (*Ref, error) {
	if _, err := d.ExecContext(ctx, sqlInsertRef, rid, name, commitHash); err != nil {
		if isDupEntry(err) {
			return nil, NewErrExist("ref '%s' already exists", name)
		}
		return nil, err
	}
	return &Ref{RepositoryID: rid, Name: name, CommitHash: commitHash}, nil
}

func (d *database) FindRef(ctx context.Context, rid int64, name string) (*Ref, error) {
	var ref Ref
	if err := d.QueryRowContext(ctx, sqlFindRef, rid, name).Scan(&ref.RepositoryID, &ref.Name, &ref.CommitHash); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (d *database) ListRefs(ctx context.Context, rid int64, prefix string) ([]*Ref, error) {
	rows, err := d.QueryContext(ctx, sqlListRefs, rid, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []*Ref
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.RepositoryID, &ref.Name, &ref.CommitHash); err != nil {
			return nil, err
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}
