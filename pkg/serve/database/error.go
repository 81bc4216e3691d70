// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const (
	ER_DUP_ENTRY   = 1062
	ER_DUP_KEYNAME = 1061
)

// ErrExist reports a create-only collision: branch, stage file, pull request.
type ErrExist struct {
	message string
}

func (e *ErrExist) Error() string {
	return e.message
}

func NewErrExist(format string, a ...any) error {
	return &ErrExist{message: fmt.Sprintf(format, a...)}
}

func IsErrExist(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrExist
	return errors.As(err, &e)
}

// ErrInvalidTransition reports a disallowed stage run status transition.
// Only pending→running and running→{completed,failed} are legal.
type ErrInvalidTransition struct {
	ID   string
	From StageRunStatus
	To   StageRunStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("stage run %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

func IsErrInvalidTransition(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrInvalidTransition
	return errors.As(err, &e)
}

// ErrInvalidInput reports malformed caller input: bad arguments JSON,
// duplicate tree entries, invalid check names.
type ErrInvalidInput struct {
	message string
}

func (e *ErrInvalidInput) Error() string {
	return e.message
}

func NewErrInvalidInput(format string, a ...any) error {
	return &ErrInvalidInput{message: fmt.Sprintf(format, a...)}
}

func IsErrInvalidInput(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrInvalidInput
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows)
}

func isDupEntry(err error) bool {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == ER_DUP_ENTRY
	}
	// SQLite reports unique violations as SQLITE_CONSTRAINT_UNIQUE; match on
	// the message to avoid a driver-specific error import.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func isDupIndex(err error) bool {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == ER_DUP_KEYNAME
	}
	return false
}
