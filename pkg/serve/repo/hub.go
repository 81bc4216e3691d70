// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package repo implements repository operations over the relational store and
// the blob backend: content-addressed blobs, trees and commits, mutable refs,
// staging areas, path walks, file edit ops and fast-forward merges.
package repo

import (
	"context"
	"fmt"

	"github.com/antgroup/stageflow/pkg/serve/blob"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/dgraph-io/ristretto/v2"
)

// Hub opens repositories by name. Commits and trees are immutable, so one
// shared in-process cache fronts the relational store for both.
type Hub struct {
	db    database.DB
	store blob.Store
	cache *ristretto.Cache[string, any]
}

type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func NewHub(db database.DB, store blob.Store, cacheConfig *CacheConfig) (*Hub, error) {
	cc := cacheConfig
	if cc == nil {
		cc = &CacheConfig{NumCounters: 1e5, MaxCost: 1 << 26, BufferItems: 64}
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: cc.NumCounters,
		MaxCost:     cc.MaxCost,
		BufferItems: cc.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("unable initialize object cache, error: %w", err)
	}
	return &Hub{db: db, store: store, cache: cache}, nil
}

func (h *Hub) DB() database.DB {
	return h.db
}

func (h *Hub) Store() blob.Store {
	return h.store
}

// New creates a repository row. An initial empty commit is not synthesised;
// the first UpdateFile or CommitStage creates the root commit.
func (h *Hub) New(ctx context.Context, name, description, mainBranch string) (*database.Repository, error) {
	return h.db.NewRepository(ctx, &database.Repository{
		Name:        name,
		Description: description,
		MainBranch:  mainBranch,
	})
}

// Open binds a Repository handle for name.
func (h *Hub) Open(ctx context.Context, name string) (*Repository, error) {
	r, err := h.db.FindRepository(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Repository{R: r, db: h.db, store: h.store, cache: h.cache}, nil
}

// OpenByID binds a Repository handle for a repository id.
func (h *Hub) OpenByID(ctx context.Context, rid int64) (*Repository, error) {
	r, err := h.db.FindRepositoryByID(ctx, rid)
	if err != nil {
		return nil, err
	}
	return &Repository{R: r, db: h.db, store: h.store, cache: h.cache}, nil
}
