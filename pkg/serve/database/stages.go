// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"database/sql"
	"time"
)

const (
	sqlInsertStage     = `INSERT INTO stages (repository_id, id, base_commit, created_at) VALUES (?, ?, ?, ?)`
	sqlUpsertStageBlob = `UPDATE stage_blobs SET blob_hash = ? WHERE repository_id = ? AND stage_id = ? AND path = ?`
	sqlInsertStageBlob = `INSERT INTO stage_blobs (repository_id, stage_id, path, blob_hash) VALUES (?, ?, ?, ?)`
	sqlStageBlobs      = `select repository_id, stage_id, path, blob_hash from stage_blobs where repository_id = ? and stage_id = ? order by path asc`
	sqlDeleteStage     = `DELETE FROM stages WHERE repository_id = ? AND id = ?`
	sqlDeleteStageBlob = `DELETE FROM stage_blobs WHERE repository_id = ? AND stage_id = ?`
)

func (d *database) NewStage(ctx context.Context, s *Stage) (*Stage, error) {
	now := time.Now()
	var base sql.NullString
	if len(s.BaseCommit) != 0 {
		base = sql.NullString{String: s.BaseCommit, Valid: true}
	}
	if _, err := d.ExecContext(ctx, sqlInsertStage, s.RepositoryID, s.ID, base, micros(now)); err != nil {
		if isDupEntry(err) {
			return nil, NewErrExist("stage '%s' already exists", s.ID)
		}
		return nil, err
	}
	s.CreatedAt = fromMicros(micros(now))
	return s, nil
}

// StageAddBlob records one path→blob pair, replacing any previous pair at the
// same path. Staging areas are the only mutable object-side entity.
func (d *database) StageAddBlob(ctx context.Context, sb *StageBlob) error {
	result, err := d.ExecContext(ctx, sqlUpsertStageBlob, sb.BlobHash, sb.RepositoryID, sb.StageID, sb.Path)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = d.ExecContext(ctx, sqlInsertStageBlob, sb.RepositoryID, sb.StageID, sb.Path, sb.BlobHash)
	return err
}

func (d *database) StageBlobs(ctx context.Context, rid int64, stageID string) ([]*StageBlob, error) {
	rows, err := d.QueryContext(ctx, sqlStageBlobs, rid, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blobs []*StageBlob
	for rows.Next() {
		var sb StageBlob
		if err := rows.Scan(&sb.RepositoryID, &sb.StageID, &sb.Path, &sb.BlobHash); err != nil {
			return nil, err
		}
		blobs = append(blobs, &sb)
	}
	return blobs, rows.Err()
}

func (d *database) DeleteStage(ctx context.Context, rid int64, stageID string) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, sqlDeleteStageBlob, rid, stageID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqlDeleteStage, rid, stageID); err != nil {
		return err
	}
	return tx.Commit()
}
