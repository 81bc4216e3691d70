// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"database/sql"
	"time"
)

const sqlStageRunColumns = `
  id
, parent_id
, repo_name
, commit_hash
, workflow_file
, stage_name
, arguments
, status
, worker_id
, started_at
, completed_at
, result_value
, error_message
, triggered_by
, trigger_event
, created_at
, updated_at`

const (
	sqlFindStageRun = `select` + sqlStageRunColumns + `
from stage_runs
where id = ?`

	sqlInsertStageRun = `INSERT INTO stage_runs (
  id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments,
  status, triggered_by, trigger_event, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlPendingStageRuns = `select` + sqlStageRunColumns + `
from stage_runs
where status = ?
order by created_at asc, id asc
limit ?`

	sqlClaimStageRun = `UPDATE stage_runs
SET status = ?, worker_id = ?, started_at = ?, updated_at = ?
WHERE id = ? AND status = ?`

	sqlFinishStageRun = `UPDATE stage_runs
SET status = ?, completed_at = ?, result_value = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status = ?`

	sqlStageRunsByTrigger = `select` + sqlStageRunColumns + `
from stage_runs
where trigger_event = ?
order by created_at asc, id asc`

	sqlChildStageRuns = `select` + sqlStageRunColumns + `
from stage_runs
where parent_id = ?
order by created_at asc, id asc`

	sqlRootStageRuns = `select` + sqlStageRunColumns + `
from stage_runs
where repo_name = ? and commit_hash = ? and workflow_file = ? and parent_id is null
order by created_at asc, id asc`
)

func scanStageRun(scan func(dest ...any) error) (*StageRun, error) {
	var run StageRun
	var parent, workerID, result, errMsg, trigBy, trigEv sql.NullString
	var started, completed sql.NullInt64
	var created, updated int64
	if err := scan(
		&run.ID, &parent, &run.RepoName, &run.CommitHash, &run.WorkflowFile, &run.StageName, &run.Arguments,
		&run.Status, &workerID, &started, &completed, &result, &errMsg, &trigBy, &trigEv, &created, &updated); err != nil {
		return nil, err
	}
	run.ParentID = parent.String
	run.WorkerID = workerID.String
	run.StartedAt = fromMicrosPtr(started)
	run.CompletedAt = fromMicrosPtr(completed)
	run.ResultValue = result.String
	run.ErrorMessage = errMsg.String
	run.TriggeredBy = trigBy.String
	run.TriggerEvent = trigEv.String
	run.CreatedAt = fromMicros(created)
	run.UpdatedAt = fromMicros(updated)
	return &run, nil
}

// NewStageRun inserts run keyed by its content-addressable id. If a row with
// the same id already exists the existing row is returned and created is
// false: call graphs are memoised by input.
func (d *database) NewStageRun(ctx context.Context, run *StageRun) (*StageRun, bool, error) {
	if existing, err := d.FindStageRun(ctx, run.ID); err == nil {
		return existing, false, nil
	} else if !IsNotFound(err) {
		return nil, false, err
	}
	now := time.Now()
	var parent, trigBy, trigEv sql.NullString
	if len(run.ParentID) != 0 {
		parent = sql.NullString{String: run.ParentID, Valid: true}
	}
	if len(run.TriggeredBy) != 0 {
		trigBy = sql.NullString{String: run.TriggeredBy, Valid: true}
	}
	if len(run.TriggerEvent) != 0 {
		trigEv = sql.NullString{String: run.TriggerEvent, Valid: true}
	}
	if _, err := d.ExecContext(ctx, sqlInsertStageRun,
		run.ID, parent, run.RepoName, run.CommitHash, run.WorkflowFile, run.StageName, run.Arguments,
		StatusPending, trigBy, trigEv, micros(now), micros(now)); err != nil {
		if isDupEntry(err) {
			existing, ferr := d.FindStageRun(ctx, run.ID)
			return existing, false, ferr
		}
		return nil, false, err
	}
	return d.mustFindStageRun(ctx, run.ID, true)
}

func (d *database) mustFindStageRun(ctx context.Context, id string, created bool) (*StageRun, bool, error) {
	run, err := d.FindStageRun(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return run, created, nil
}

func (d *database) FindStageRun(ctx context.Context, id string) (*StageRun, error) {
	return scanStageRun(d.QueryRowContext(ctx, sqlFindStageRun, id).Scan)
}

func (d *database) PendingStageRuns(ctx context.Context, limit int) ([]*StageRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.QueryContext(ctx, sqlPendingStageRuns, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStageRuns(rows)
}

func collectStageRuns(rows *sql.Rows) ([]*StageRun, error) {
	var runs []*StageRun
	for rows.Next() {
		run, err := scanStageRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ClaimStageRun is a compare-and-set on status: only pending→running
// succeeds, and the first successful claim wins.
func (d *database) ClaimStageRun(ctx context.Context, id, workerID string) (*StageRun, error) {
	now := time.Now()
	result, err := d.ExecContext(ctx, sqlClaimStageRun,
		StatusRunning, workerID, micros(now), micros(now), id, StatusPending)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		run, ferr := d.FindStageRun(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		return nil, &ErrInvalidTransition{ID: id, From: run.Status, To: StatusRunning}
	}
	return d.FindStageRun(ctx, id)
}

// FinishStageRun moves a running invocation to a terminal status.
func (d *database) FinishStageRun(ctx context.Context, id string, status StageRunStatus, resultValue, errorMessage string) (*StageRun, error) {
	if status != StatusCompleted && status != StatusFailed {
		return nil, &ErrInvalidTransition{ID: id, From: StatusRunning, To: status}
	}
	now := time.Now()
	var resVal, errMsg sql.NullString
	if len(resultValue) != 0 {
		resVal = sql.NullString{String: resultValue, Valid: true}
	}
	if len(errorMessage) != 0 {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}
	result, err := d.ExecContext(ctx, sqlFinishStageRun,
		status, micros(now), resVal, errMsg, micros(now), id, StatusRunning)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		run, ferr := d.FindStageRun(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		return nil, &ErrInvalidTransition{ID: id, From: run.Status, To: status}
	}
	return d.FindStageRun(ctx, id)
}

func (d *database) StageRunsByTrigger(ctx context.Context, triggerEvent string) ([]*StageRun, error) {
	rows, err := d.QueryContext(ctx, sqlStageRunsByTrigger, triggerEvent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStageRuns(rows)
}

func (d *database) ChildStageRuns(ctx context.Context, parentID string) ([]*StageRun, error) {
	rows, err := d.QueryContext(ctx, sqlChildStageRuns, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStageRuns(rows)
}

// RootStageRuns lists parentless invocations of one workflow file at one
// commit. The VFS uses this to expand a blob node into its run subtrees.
func (d *database) RootStageRuns(ctx context.Context, repoName, commitHash, workflowFile string) ([]*StageRun, error) {
	rows, err := d.QueryContext(ctx, sqlRootStageRuns, repoName, commitHash, workflowFile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStageRuns(rows)
}
