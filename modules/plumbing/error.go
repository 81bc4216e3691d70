// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"errors"
	"fmt"
)

var (
	// ErrStop is used to stop a ForEach function in an Iter
	ErrStop = errors.New("stop iter")
)

// noSuchObject is an error type that occurs when no object with a given object
// ID is available.
type noSuchObject struct {
	oid Hash
}

func (e *noSuchObject) Error() string {
	return fmt.Sprintf("stageflow: no such object: %s", e.oid)
}

// NoSuchObject creates a new error representing a missing object with a given
// object ID.
func NoSuchObject(oid Hash) error {
	return &noSuchObject{oid: oid}
}

// IsNoSuchObject indicates whether an error is a noSuchObject and is non-nil.
func IsNoSuchObject(e error) bool {
	if e == nil {
		return false
	}
	err, ok := e.(*noSuchObject)
	return ok && err != nil
}

// ErrRevisionNotFound occurs when a revision token resolves to nothing:
// neither branch, tag, nor raw commit hash.
type ErrRevisionNotFound struct {
	Revision string
}

func (err *ErrRevisionNotFound) Error() string {
	return fmt.Sprintf("revision '%s' not found", err.Revision)
}

func IsErrRevisionNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrRevisionNotFound)
	return ok
}

// ErrPathNotFound occurs when a segmented path walk hits a missing segment or
// a segment of the wrong kind (file where a directory is expected, or the
// reverse).
type ErrPathNotFound struct {
	Path string
}

func (err *ErrPathNotFound) Error() string {
	return fmt.Sprintf("path '%s' not found", err.Path)
}

func IsErrPathNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrPathNotFound)
	return ok
}
