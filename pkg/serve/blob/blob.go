// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package blob provides content-addressed byte storage. Two backends share
// the contract: a sharded filesystem layout and an S3 bucket. Writes are
// idempotent; a key is written at most once and overwriting the same key with
// identical bytes is a no-op.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
)

// Store is the blob backend contract.
type Store interface {
	// Put stores b and returns its hash, storage key and size. Idempotent by
	// content.
	Put(ctx context.Context, b []byte) (*Stat, error)
	// Get retrieves the bytes for oid, or NoSuchObject.
	Get(ctx context.Context, oid plumbing.Hash) ([]byte, error)
	// Exists reports whether oid is stored.
	Exists(ctx context.Context, oid plumbing.Hash) (bool, error)
	// Delete removes oid; it reports whether anything was removed.
	Delete(ctx context.Context, oid plumbing.Hash) (bool, error)
	// SignedURL returns a time-limited download URL for oid.
	SignedURL(ctx context.Context, oid plumbing.Hash, ttl time.Duration) (string, error)
}

// Stat describes one stored blob.
type Stat struct {
	Hash       plumbing.Hash
	StorageKey string
	Size       int64
}

// ErrStorage wraps backend I/O failures so callers can tell them apart from
// not-found.
type ErrStorage struct {
	Op  string
	Err error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("blob storage %s: %v", e.Op, e.Err)
}

func (e *ErrStorage) Unwrap() error {
	return e.Err
}

func IsErrStorage(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrStorage
	return errors.As(err, &e)
}

// shardKey lays a digest out as <prefix><h[0:2]>/<h[2:]>.
func shardKey(prefix string, oid plumbing.Hash) string {
	h := oid.String()
	return prefix + h[0:2] + "/" + h[2:]
}
