// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
)

const (
	sqlFindStageFileByID   = `select id, stage_run_id, file_path, content_hash, storage_key, size from stage_files where id = ?`
	sqlFindStageFileByPath = `select id, stage_run_id, file_path, content_hash, storage_key, size from stage_files where stage_run_id = ? and file_path = ?`
	sqlInsertStageFile     = `INSERT INTO stage_files (id, stage_run_id, file_path, content_hash, storage_key, size) VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateStageFile     = `UPDATE stage_files SET content_hash = ?, storage_key = ?, size = ? WHERE id = ?`
	sqlStageFilesForRun    = `select id, stage_run_id, file_path, content_hash, storage_key, size from stage_files where stage_run_id = ? order by file_path asc`
)

// UpsertStageFile stores an invocation output. The id is a pure function of
// (stage_run_id, file_path), so a re-written output replaces the previous
// content pointer under the same identity.
func (d *database) UpsertStageFile(ctx context.Context, f *StageFile) (*StageFile, error) {
	if _, err := d.ExecContext(ctx, sqlInsertStageFile,
		f.ID, f.StageRunID, f.FilePath, f.ContentHash, f.StorageKey, f.Size); err != nil {
		if !isDupEntry(err) {
			return nil, err
		}
		if _, err := d.ExecContext(ctx, sqlUpdateStageFile, f.ContentHash, f.StorageKey, f.Size, f.ID); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (d *database) scanStageFile(ctx context.Context, query string, args ...any) (*StageFile, error) {
	var f StageFile
	if err := d.QueryRowContext(ctx, query, args...).Scan(
		&f.ID, &f.StageRunID, &f.FilePath, &f.ContentHash, &f.StorageKey, &f.Size); err != nil {
		return nil, err
	}
	return &f, nil
}

func (d *database) FindStageFile(ctx context.Context, stageRunID, filePath string) (*StageFile, error) {
	return d.scanStageFile(ctx, sqlFindStageFileByPath, stageRunID, filePath)
}

func (d *database) StageFiles(ctx context.Context, stageRunID string) ([]*StageFile, error) {
	rows, err := d.QueryContext(ctx, sqlStageFilesForRun, stageRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []*StageFile
	for rows.Next() {
		var f StageFile
		if err := rows.Scan(&f.ID, &f.StageRunID, &f.FilePath, &f.ContentHash, &f.StorageKey, &f.Size); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}
