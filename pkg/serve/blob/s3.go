// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	blobMIME    = "application/octet-stream"
	blobsPrefix = "blobs/"
)

type s3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

var (
	_ Store = &s3Store{}
)

// NewS3Store stores blobs in an S3 bucket under blobs/<h[0:2]>/<h[2:]>.
// Credentials and region come from the standard AWS environment.
func NewS3Store(ctx context.Context, bucket string) (Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &ErrStorage{Op: "init", Err: err}
	}
	client := s3.NewFromConfig(cfg)
	return &s3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

func (s *s3Store) key(oid plumbing.Hash) string {
	return shardKey(blobsPrefix, oid)
}

func (s *s3Store) Put(ctx context.Context, b []byte) (*Stat, error) {
	oid := plumbing.HashBytes(b)
	key := s.key(oid)
	if ok, err := s.Exists(ctx, oid); err != nil {
		return nil, err
	} else if ok {
		return &Stat{Hash: oid, StorageKey: key, Size: int64(len(b))}, nil
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String(blobMIME),
	}); err != nil {
		return nil, &ErrStorage{Op: "put", Err: err}
	}
	return &Stat{Hash: oid, StorageKey: key, Size: int64(len(b))}, nil
}

func (s *s3Store) Get(ctx context.Context, oid plumbing.Hash) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(oid)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, plumbing.NoSuchObject(oid)
		}
		return nil, &ErrStorage{Op: "get", Err: err}
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &ErrStorage{Op: "get", Err: err}
	}
	return b, nil
}

func (s *s3Store) Exists(ctx context.Context, oid plumbing.Hash) (bool, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(oid)),
	}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, &ErrStorage{Op: "exists", Err: err}
	}
	return true, nil
}

func (s *s3Store) Delete(ctx context.Context, oid plumbing.Hash) (bool, error) {
	ok, err := s.Exists(ctx, oid)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(oid)),
	}); err != nil {
		return false, &ErrStorage{Op: "delete", Err: err}
	}
	return true, nil
}

func (s *s3Store) SignedURL(ctx context.Context, oid plumbing.Hash, ttl time.Duration) (string, error) {
	ok, err := s.Exists(ctx, oid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", plumbing.NoSuchObject(oid)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(oid)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &ErrStorage{Op: "share", Err: err}
	}
	return req.URL, nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
