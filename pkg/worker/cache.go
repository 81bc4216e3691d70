// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// moduleCache fronts workflow file downloads. Content is pinned by
// (repo, commit, file), so entries never go stale and eviction is always
// safe.
type moduleCache struct {
	client *Client
	cache  *ristretto.Cache[string, []byte]
}

func newModuleCache(client *Client) (*moduleCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("unable initialize module cache, error: %w", err)
	}
	return &moduleCache{client: client, cache: cache}, nil
}

func (m *moduleCache) Fetch(ctx context.Context, repoName, commitHash, filePath string) ([]byte, error) {
	key := repoName + "|" + commitHash + "|" + filePath
	if src, ok := m.cache.Get(key); ok {
		return src, nil
	}
	src, err := m.client.FetchBlob(ctx, repoName, commitHash, filePath)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, src, int64(len(src)))
	return src, nil
}
