// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"fmt"
	"strings"
)

// Schema bootstrap. Full migration tooling is deliberately out of scope; the
// statements are idempotent and run once at open. Timestamps are epoch
// microseconds (INTEGER) in both dialects.

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
		id          %[1]s,
		name        VARCHAR(255) NOT NULL UNIQUE,
		description TEXT,
		main_branch VARCHAR(255) NOT NULL DEFAULT 'main',
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blobs (
		repository_id BIGINT NOT NULL,
		hash          CHAR(64) NOT NULL,
		size          BIGINT NOT NULL,
		storage_key   VARCHAR(512) NOT NULL,
		PRIMARY KEY (repository_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS trees (
		repository_id BIGINT NOT NULL,
		hash          CHAR(64) NOT NULL,
		PRIMARY KEY (repository_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS tree_entries (
		repository_id BIGINT NOT NULL,
		tree_hash     CHAR(64) NOT NULL,
		name          VARCHAR(255) NOT NULL,
		kind          VARCHAR(8) NOT NULL,
		target_hash   CHAR(64) NOT NULL,
		mode          VARCHAR(8) NOT NULL,
		PRIMARY KEY (repository_id, tree_hash, name)
	)`,
	`CREATE TABLE IF NOT EXISTS commits (
		repository_id BIGINT NOT NULL,
		hash          CHAR(64) NOT NULL,
		tree_hash     CHAR(64) NOT NULL,
		parent_hash   CHAR(64),
		author        VARCHAR(255) NOT NULL,
		author_email  VARCHAR(255) NOT NULL,
		message       TEXT NOT NULL,
		committed_at  BIGINT NOT NULL,
		PRIMARY KEY (repository_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS refs (
		repository_id BIGINT NOT NULL,
		name          VARCHAR(255) NOT NULL,
		commit_hash   CHAR(64) NOT NULL,
		PRIMARY KEY (repository_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		repository_id BIGINT NOT NULL,
		id            CHAR(64) NOT NULL,
		base_commit   CHAR(64),
		created_at    BIGINT NOT NULL,
		PRIMARY KEY (repository_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS stage_blobs (
		repository_id BIGINT NOT NULL,
		stage_id      CHAR(64) NOT NULL,
		path          VARCHAR(1024) NOT NULL,
		blob_hash     CHAR(64) NOT NULL,
		PRIMARY KEY (repository_id, stage_id, path)
	)`,
	`CREATE TABLE IF NOT EXISTS stage_runs (
		id            CHAR(64) NOT NULL PRIMARY KEY,
		parent_id     CHAR(64),
		repo_name     VARCHAR(255) NOT NULL,
		commit_hash   CHAR(64) NOT NULL,
		workflow_file VARCHAR(1024) NOT NULL,
		stage_name    VARCHAR(255) NOT NULL,
		arguments     TEXT NOT NULL,
		status        VARCHAR(16) NOT NULL,
		worker_id     VARCHAR(255),
		started_at    BIGINT,
		completed_at  BIGINT,
		result_value  TEXT,
		error_message TEXT,
		triggered_by  VARCHAR(255),
		trigger_event VARCHAR(255),
		created_at    BIGINT NOT NULL,
		updated_at    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_runs_status ON stage_runs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_runs_parent ON stage_runs (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_runs_trigger ON stage_runs (trigger_event)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_runs_file ON stage_runs (repo_name, commit_hash, workflow_file)`,
	`CREATE TABLE IF NOT EXISTS stage_files (
		id           CHAR(64) NOT NULL PRIMARY KEY,
		stage_run_id CHAR(64) NOT NULL,
		file_path    VARCHAR(1024) NOT NULL,
		content_hash CHAR(64) NOT NULL,
		storage_key  VARCHAR(512) NOT NULL,
		size         BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_files_run ON stage_files (stage_run_id)`,
	`CREATE TABLE IF NOT EXISTS stage_log_lines (
		stage_run_id   CHAR(64) NOT NULL,
		log_line_index BIGINT NOT NULL,
		timestamp      BIGINT NOT NULL,
		log_contents   TEXT NOT NULL,
		PRIMARY KEY (stage_run_id, log_line_index)
	)`,
	`CREATE TABLE IF NOT EXISTS pull_requests (
		repository_id     BIGINT NOT NULL,
		number            BIGINT NOT NULL,
		base_branch       VARCHAR(255) NOT NULL,
		head_branch       VARCHAR(255) NOT NULL,
		title             VARCHAR(1024) NOT NULL,
		description       TEXT,
		author            VARCHAR(255) NOT NULL,
		status            VARCHAR(16) NOT NULL,
		merge_commit_hash CHAR(64),
		merged_at         BIGINT,
		merged_by         VARCHAR(255),
		created_at        BIGINT NOT NULL,
		updated_at        BIGINT NOT NULL,
		PRIMARY KEY (repository_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS pull_request_comments (
		repository_id BIGINT NOT NULL,
		number        BIGINT NOT NULL,
		seq           BIGINT NOT NULL,
		author        VARCHAR(255) NOT NULL,
		body          TEXT NOT NULL,
		created_at    BIGINT NOT NULL,
		PRIMARY KEY (repository_id, number, seq)
	)`,
}

func (d *database) bootstrap(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY"
	if d.driver == "mysql" {
		idColumn = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	for _, stmt := range schemaStatements {
		s := stmt
		if strings.Contains(s, "%[1]s") {
			s = fmt.Sprintf(s, idColumn)
		}
		if d.driver == "mysql" && strings.HasPrefix(s, "CREATE INDEX IF NOT EXISTS") {
			// MySQL has no CREATE INDEX IF NOT EXISTS; re-run errors are
			// duplicate-key shaped and ignored below.
			s = "CREATE INDEX" + strings.TrimPrefix(s, "CREATE INDEX IF NOT EXISTS")
		}
		if _, err := d.ExecContext(ctx, s); err != nil {
			if d.driver == "mysql" && isDupIndex(err) {
				continue
			}
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
