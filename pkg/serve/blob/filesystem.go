// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
)

type filesystemStore struct {
	base string
}

var (
	_ Store = &filesystemStore{}
)

// NewFilesystemStore stores blobs under <base>/<h[0:2]>/<h[2:]>.
func NewFilesystemStore(base string) (Store, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, &ErrStorage{Op: "init", Err: err}
	}
	return &filesystemStore{base: base}, nil
}

func (s *filesystemStore) join(oid plumbing.Hash) string {
	h := oid.String()
	return filepath.Join(s.base, h[0:2], h[2:])
}

func (s *filesystemStore) Put(ctx context.Context, b []byte) (*Stat, error) {
	oid := plumbing.HashBytes(b)
	p := s.join(oid)
	if _, err := os.Stat(p); err == nil {
		return &Stat{Hash: oid, StorageKey: p, Size: int64(len(b))}, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, &ErrStorage{Op: "put", Err: err}
	}
	// Write-then-rename keeps concurrent writers of the same content from
	// observing a torn file.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return nil, &ErrStorage{Op: "put", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, &ErrStorage{Op: "put", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, &ErrStorage{Op: "put", Err: err}
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return nil, &ErrStorage{Op: "put", Err: err}
	}
	return &Stat{Hash: oid, StorageKey: p, Size: int64(len(b))}, nil
}

func (s *filesystemStore) Get(ctx context.Context, oid plumbing.Hash) ([]byte, error) {
	b, err := os.ReadFile(s.join(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.NoSuchObject(oid)
		}
		return nil, &ErrStorage{Op: "get", Err: err}
	}
	return b, nil
}

func (s *filesystemStore) Exists(ctx context.Context, oid plumbing.Hash) (bool, error) {
	if _, err := os.Stat(s.join(oid)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &ErrStorage{Op: "exists", Err: err}
	}
	return true, nil
}

func (s *filesystemStore) Delete(ctx context.Context, oid plumbing.Hash) (bool, error) {
	p := s.join(oid)
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &ErrStorage{Op: "delete", Err: err}
	}
	// Prune the shard directory when it emptied; a failure here is harmless.
	_ = os.Remove(filepath.Dir(p))
	return true, nil
}

func (s *filesystemStore) SignedURL(ctx context.Context, oid plumbing.Hash, ttl time.Duration) (string, error) {
	ok, err := s.Exists(ctx, oid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", plumbing.NoSuchObject(oid)
	}
	abs, err := filepath.Abs(s.join(oid))
	if err != nil {
		return "", &ErrStorage{Op: "share", Err: err}
	}
	return "file://" + abs, nil
}
