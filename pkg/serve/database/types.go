// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"time"
)

// Repository scopes every object table. Blobs, trees, commits and refs are
// composite-keyed by repository id; stage runs reference it by name.
type Repository struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MainBranch  string    `json:"main_branch"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Blob is an immutable byte payload addressed by SHA-256. Bytes live in the
// blob backend under StorageKey; the row records existence and size only.
type Blob struct {
	RepositoryID int64  `json:"repository_id"`
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	StorageKey   string `json:"storage_key"`
}

type EntryKind string

const (
	KindBlob EntryKind = "BLOB"
	KindTree EntryKind = "TREE"
)

// TreeEntry is one named member of a tree, pointing at a blob or a subtree.
type TreeEntry struct {
	Name       string    `json:"name"`
	Kind       EntryKind `json:"kind"`
	TargetHash string    `json:"target_hash"`
	Mode       string    `json:"mode"`
}

// Tree is an immutable directory snapshot. Hash is SHA-256 over the canonical
// JSON of its entries sorted by name.
type Tree struct {
	RepositoryID int64       `json:"repository_id"`
	Hash         string      `json:"hash"`
	Entries      []TreeEntry `json:"entries"`
}

// Commit pairs a tree with authorship and an optional parent.
type Commit struct {
	RepositoryID int64     `json:"repository_id"`
	Hash         string    `json:"hash"`
	TreeHash     string    `json:"tree_hash"`
	ParentHash   string    `json:"parent_hash,omitempty"`
	Author       string    `json:"author"`
	AuthorEmail  string    `json:"author_email"`
	Message      string    `json:"message"`
	CommittedAt  time.Time `json:"committed_at"`
}

// Ref is a mutable named pointer to a commit. Names are full, e.g.
// refs/heads/main or refs/tags/v1.
type Ref struct {
	RepositoryID int64  `json:"repository_id"`
	Name         string `json:"name"`
	CommitHash   string `json:"commit_hash"`
}

// Stage is a staging area: a mutable workspace that accumulates path→blob
// pairs until it is materialised into a commit.
type Stage struct {
	RepositoryID int64     `json:"repository_id"`
	ID           string    `json:"id"`
	BaseCommit   string    `json:"base_commit,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StageBlob is one staged path→blob pair inside a staging area.
type StageBlob struct {
	RepositoryID int64  `json:"repository_id"`
	StageID      string `json:"stage_id"`
	Path         string `json:"path"`
	BlobHash     string `json:"blob_hash"`
}

type StageRunStatus string

const (
	StatusPending   StageRunStatus = "pending"
	StatusRunning   StageRunStatus = "running"
	StatusCompleted StageRunStatus = "completed"
	StatusFailed    StageRunStatus = "failed"
	// StatusSkipped is reserved; nothing transitions into it yet.
	StatusSkipped StageRunStatus = "skipped"
)

// Terminal reports whether s is a terminal status.
func (s StageRunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// StageRun is one function-level invocation. The primary key is the SHA-256
// of (parent_id, commit_hash, workflow_file, stage_name, canonical arguments),
// so inserting the same logical call twice returns the existing row and call
// graphs are memoised by input.
type StageRun struct {
	ID           string         `json:"id"`
	ParentID     string         `json:"parent_id,omitempty"`
	RepoName     string         `json:"repo_name"`
	CommitHash   string         `json:"commit_hash"`
	WorkflowFile string         `json:"workflow_file"`
	StageName    string         `json:"stage_name"`
	Arguments    string         `json:"arguments"` // canonical JSON
	Status       StageRunStatus `json:"status"`
	WorkerID     string         `json:"worker_id,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ResultValue  string         `json:"result_value,omitempty"` // JSON
	ErrorMessage string         `json:"error_message,omitempty"`
	TriggeredBy  string         `json:"triggered_by,omitempty"`
	TriggerEvent string         `json:"trigger_event,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StageFile is a named byte output of a stage run. Bytes live in the blob
// backend under StorageKey; ContentHash is the SHA-256 of the bytes.
type StageFile struct {
	ID          string `json:"id"` // SHA256(stage_run_id|file_path)
	StageRunID  string `json:"stage_run_id"`
	FilePath    string `json:"file_path"`
	ContentHash string `json:"content_hash"`
	StorageKey  string `json:"storage_key"`
	Size        int64  `json:"size"`
}

// StageLogLine is one captured output line of a stage run. Indices are dense
// and unique per run.
type StageLogLine struct {
	StageRunID string    `json:"stage_run_id"`
	Index      int64     `json:"log_line_index"`
	Timestamp  time.Time `json:"timestamp"`
	Contents   string    `json:"log_contents"`
}

type PullRequestStatus string

const (
	PullRequestOpen   PullRequestStatus = "OPEN"
	PullRequestClosed PullRequestStatus = "CLOSED"
	PullRequestMerged PullRequestStatus = "MERGED"
)

// PullRequest proposes merging head into base. Numbers are a per-repository
// sequence starting at 1.
type PullRequest struct {
	RepositoryID    int64             `json:"repository_id"`
	Number          int64             `json:"number"`
	BaseBranch      string            `json:"base_branch"`
	HeadBranch      string            `json:"head_branch"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Author          string            `json:"author"`
	Status          PullRequestStatus `json:"status"`
	MergeCommitHash string            `json:"merge_commit_hash,omitempty"`
	MergedAt        *time.Time        `json:"merged_at,omitempty"`
	MergedBy        string            `json:"merged_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// PullRequestComment is a time-ordered message attached to a pull request.
type PullRequestComment struct {
	RepositoryID int64     `json:"repository_id"`
	Number       int64     `json:"number"`
	Seq          int64     `json:"seq"`
	Author       string    `json:"author"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}
