// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"database/sql"
	"time"
)

const sqlPullRequestColumns = `
  repository_id
, number
, base_branch
, head_branch
, title
, description
, author
, status
, merge_commit_hash
, merged_at
, merged_by
, created_at
, updated_at`

const (
	sqlNextPullNumber = `select coalesce(max(number), 0) + 1 from pull_requests where repository_id = ?`

	sqlInsertPullRequest = `INSERT INTO pull_requests (
  repository_id, number, base_branch, head_branch, title, description, author,
  status, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlFindPullRequest = `select` + sqlPullRequestColumns + `
from pull_requests
where repository_id = ? and number = ?`

	sqlListPullRequests = `select` + sqlPullRequestColumns + `
from pull_requests
where repository_id = ?
order by number desc`

	sqlListPullRequestsByStatus = `select` + sqlPullRequestColumns + `
from pull_requests
where repository_id = ? and status = ?
order by number desc`

	sqlUpdatePullStatus = `UPDATE pull_requests SET status = ?, updated_at = ? WHERE repository_id = ? AND number = ?`

	sqlMarkPullMerged = `UPDATE pull_requests
SET status = ?, merge_commit_hash = ?, merged_at = ?, merged_by = ?, updated_at = ?
WHERE repository_id = ? AND number = ? AND status = ?`

	sqlNextCommentSeq = `select coalesce(max(seq), 0) + 1 from pull_request_comments where repository_id = ? and number = ?`

	sqlInsertComment = `INSERT INTO pull_request_comments (repository_id, number, seq, author, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	sqlListComments = `select repository_id, number, seq, author, body, created_at
from pull_request_comments
where repository_id = ? and number = ?
order by seq asc`
)

func scanPullRequest(scan func(dest ...any) error) (*PullRequest, error) {
	var pr PullRequest
	var desc, mergeHash, mergedBy sql.NullString
	var mergedAt sql.NullInt64
	var created, updated int64
	if err := scan(
		&pr.RepositoryID, &pr.Number, &pr.BaseBranch, &pr.HeadBranch, &pr.Title, &desc, &pr.Author,
		&pr.Status, &mergeHash, &mergedAt, &mergedBy, &created, &updated); err != nil {
		return nil, err
	}
	pr.Description = desc.String
	pr.MergeCommitHash = mergeHash.String
	pr.MergedAt = fromMicrosPtr(mergedAt)
	pr.MergedBy = mergedBy.String
	pr.CreatedAt = fromMicros(created)
	pr.UpdatedAt = fromMicros(updated)
	return &pr, nil
}

// NewPullRequest assigns the next per-repository number inside a transaction
// and inserts the row as OPEN.
func (d *database) NewPullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error) {
	now := time.Now()
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	var number int64
	if err := tx.QueryRowContext(ctx, sqlNextPullNumber, pr.RepositoryID).Scan(&number); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, sqlInsertPullRequest,
		pr.RepositoryID, number, pr.BaseBranch, pr.HeadBranch, pr.Title, pr.Description, pr.Author,
		PullRequestOpen, micros(now), micros(now)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.FindPullRequest(ctx, pr.RepositoryID, number)
}

func (d *database) FindPullRequest(ctx context.Context, rid int64, number int64) (*PullRequest, error) {
	return scanPullRequest(d.QueryRowContext(ctx, sqlFindPullRequest, rid, number).Scan)
}

func (d *database) ListPullRequests(ctx context.Context, rid int64, status PullRequestStatus) ([]*PullRequest, error) {
	var rows *sql.Rows
	var err error
	if len(status) == 0 {
		rows, err = d.QueryContext(ctx, sqlListPullRequests, rid)
	} else {
		rows, err = d.QueryContext(ctx, sqlListPullRequestsByStatus, rid, status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var prs []*PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func (d *database) UpdatePullRequestStatus(ctx context.Context, rid int64, number int64, status PullRequestStatus) (*PullRequest, error) {
	now := time.Now()
	if _, err := d.ExecContext(ctx, sqlUpdatePullStatus, status, micros(now), rid, number); err != nil {
		return nil, err
	}
	return d.FindPullRequest(ctx, rid, number)
}

// MarkPullRequestMerged flips an OPEN pull request to MERGED and records the
// merge metadata. It fails with ErrInvalidTransition semantics via row count:
// callers check the returned PR status when zero rows matched.
func (d *database) MarkPullRequestMerged(ctx context.Context, rid int64, number int64, mergeCommit, mergedBy string) (*PullRequest, error) {
	now := time.Now()
	result, err := d.ExecContext(ctx, sqlMarkPullMerged,
		PullRequestMerged, mergeCommit, micros(now), mergedBy, micros(now), rid, number, PullRequestOpen)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, NewErrExist("pull request #%d is not open", number)
	}
	return d.FindPullRequest(ctx, rid, number)
}

func (d *database) AddPullRequestComment(ctx context.Context, c *PullRequestComment) (*PullRequestComment, error) {
	now := time.Now()
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	var seq int64
	if err := tx.QueryRowContext(ctx, sqlNextCommentSeq, c.RepositoryID, c.Number).Scan(&seq); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, sqlInsertComment, c.RepositoryID, c.Number, seq, c.Author, c.Body, micros(now)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	c.Seq = seq
	c.CreatedAt = fromMicros(micros(now))
	return c, nil
}

func (d *database) PullRequestComments(ctx context.Context, rid int64, number int64) ([]*PullRequestComment, error) {
	rows, err := d.QueryContext(ctx, sqlListComments, rid, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comments []*PullRequestComment
	for rows.Next() {
		var c PullRequestComment
		var created int64
		if err := rows.Scan(&c.RepositoryID, &c.Number, &c.Seq, &c.Author, &c.Body, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMicros(created)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
