// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
)

const (
	sqlInsertLogLine = `INSERT INTO stage_log_lines (stage_run_id, log_line_index, timestamp, log_contents) VALUES (?, ?, ?, ?)`
	sqlLogLines      = `select stage_run_id, log_line_index, timestamp, log_contents
from stage_log_lines
where stage_run_id = ? and log_line_index > ?
order by log_line_index asc
limit ?`
)

// AppendLogLines stores one shipped batch. Indices are assigned by the
// worker and are dense per run; re-delivery of an index is ignored so a
// retried batch cannot corrupt the stream.
func (d *database) AppendLogLines(ctx context.Context, stageRunID string, lines []*StageLogLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	stored := 0
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, sqlInsertLogLine, stageRunID, line.Index, micros(line.Timestamp), line.Contents); err != nil {
			if isDupEntry(err) {
				continue
			}
			return 0, err
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

// LogLines returns lines with index > sinceIndex sorted ascending, at most
// limit of them, and whether more remain.
func (d *database) LogLines(ctx context.Context, stageRunID string, sinceIndex int64, limit int) ([]*StageLogLine, bool, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.QueryContext(ctx, sqlLogLines, stageRunID, sinceIndex, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	var lines []*StageLogLine
	for rows.Next() {
		var line StageLogLine
		var ts int64
		if err := rows.Scan(&line.StageRunID, &line.Index, &ts, &line.Contents); err != nil {
			return nil, false, err
		}
		line.Timestamp = fromMicros(ts)
		lines = append(lines, &line)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := false
	if len(lines) > limit {
		hasMore = true
		lines = lines[:limit]
	}
	return lines, hasMore, nil
}
