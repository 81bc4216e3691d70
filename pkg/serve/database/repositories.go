// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"time"
)

const (
	sqlNewRepository = `INSERT INTO repositories (name, description, main_branch, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	sqlRepoByName = `select
  r.id
, r.name
, r.description
, r.main_branch
, r.created_at
, r.updated_at
from repositories as r
where r.name = ?`

	sqlRepoByID = `select
  r.id
, r.name
, r.description
, r.main_branch
, r.created_at
, r.updated_at
from repositories as r
where r.id = ?`
)

func (d *database) NewRepository(ctx context.Context, r *Repository) (*Repository, error) {
	if len(r.MainBranch) == 0 {
		r.MainBranch = "main"
	}
	now := time.Now()
	result, err := d.ExecContext(ctx, sqlNewRepository, r.Name, r.Description, r.MainBranch, micros(now), micros(now))
	if err != nil {
		if isDupEntry(err) {
			return nil, NewErrExist("repository '%s' already exists", r.Name)
		}
		return nil, err
	}
	rid, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Repository{
		ID:          rid,
		Name:        r.Name,
		Description: r.Description,
		MainBranch:  r.MainBranch,
		CreatedAt:   fromMicros(micros(now)),
		UpdatedAt:   fromMicros(micros(now)),
	}, nil
}

func (d *database) scanRepository(ctx context.Context, query string, arg any) (*Repository, error) {
	var r Repository
	var created, updated int64
	if err := d.QueryRowContext(ctx, query, arg).Scan(
		&r.ID, &r.Name, &r.Description, &r.MainBranch, &created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMicros(created)
	r.UpdatedAt = fromMicros(updated)
	return &r, nil
}

func (d *database) FindRepository(ctx context.Context, name string) (*Repository, error) {
	return d.scanRepository(ctx, sqlRepoByName, name)
}

func (d *database) FindRepositoryByID(ctx context.Context, rid int64) (*Repository, error) {
	return d.scanRepository(ctx, sqlRepoByID, rid)
}
