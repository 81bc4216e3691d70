// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB is the single coordination point of the control plane. All
// state-changing operations run inside a transaction; content-addressed
// inserts use "insert if absent, else return existing" semantics.
type DB interface {
	Database() *sql.DB

	NewRepository(ctx context.Context, r *Repository) (*Repository, error)
	FindRepository(ctx context.Context, name string) (*Repository, error)
	FindRepositoryByID(ctx context.Context, rid int64) (*Repository, error)

	UpsertBlob(ctx context.Context, b *Blob) (*Blob, error)
	FindBlob(ctx context.Context, rid int64, hash string) (*Blob, error)

	UpsertTree(ctx context.Context, t *Tree) (*Tree, error)
	FindTree(ctx context.Context, rid int64, hash string) (*Tree, error)

	UpsertCommit(ctx context.Context, c *Commit) (*Commit, error)
	FindCommit(ctx context.Context, rid int64, hash string) (*Commit, error)

	UpsertRef(ctx context.Context, rid int64, name, commitHash string) (*Ref, error)
	NewRef(ctx context.Context, rid int64, name, commitHash string) (*Ref, error)
	FindRef(ctx context.Context, rid int64, name string) (*Ref, error)
	ListRefs(ctx context.Context, rid int64, prefix string) ([]*Ref, error)

	NewStage(ctx context.Context, s *Stage) (*Stage, error)
	StageAddBlob(ctx context.Context, sb *StageBlob) error
	StageBlobs(ctx context.Context, rid int64, stageID string) ([]*StageBlob, error)
	DeleteStage(ctx context.Context, rid int64, stageID string) error

	NewStageRun(ctx context.Context, run *StageRun) (*StageRun, bool, error)
	FindStageRun(ctx context.Context, id string) (*StageRun, error)
	PendingStageRuns(ctx context.Context, limit int) ([]*StageRun, error)
	ClaimStageRun(ctx context.Context, id, workerID string) (*StageRun, error)
	FinishStageRun(ctx context.Context, id string, status StageRunStatus, resultValue, errorMessage string) (*StageRun, error)
	StageRunsByTrigger(ctx context.Context, triggerEvent string) ([]*StageRun, error)
	ChildStageRuns(ctx context.Context, parentID string) ([]*StageRun, error)
	RootStageRuns(ctx context.Context, repoName, commitHash, workflowFile string) ([]*StageRun, error)

	UpsertStageFile(ctx context.Context, f *StageFile) (*StageFile, error)
	FindStageFile(ctx context.Context, stageRunID, filePath string) (*StageFile, error)
	StageFiles(ctx context.Context, stageRunID string) ([]*StageFile, error)

	AppendLogLines(ctx context.Context, stageRunID string, lines []*StageLogLine) (int, error)
	LogLines(ctx context.Context, stageRunID string, sinceIndex int64, limit int) ([]*StageLogLine, bool, error)

	NewPullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error)
	FindPullRequest(ctx context.Context, rid int64, number int64) (*PullRequest, error)
	ListPullRequests(ctx context.Context, rid int64, status PullRequestStatus) ([]*PullRequest, error)
	UpdatePullRequestStatus(ctx context.Context, rid int64, number int64, status PullRequestStatus) (*PullRequest, error)
	MarkPullRequestMerged(ctx context.Context, rid int64, number int64, mergeCommit, mergedBy string) (*PullRequest, error)
	AddPullRequestComment(ctx context.Context, c *PullRequestComment) (*PullRequestComment, error)
	PullRequestComments(ctx context.Context, rid int64, number int64) ([]*PullRequestComment, error)

	Close() error
}

type database struct {
	*sql.DB
	driver string
}

var (
	_ DB = &database{}
)

func (d *database) Database() *sql.DB {
	return d.DB
}

func (d *database) Close() error {
	return d.DB.Close()
}

// NewDB opens the relational store named by dsn and bootstraps the schema.
// MySQL DSNs (either mysql:// URLs or go-sql-driver form) select the MySQL
// driver; anything else is treated as a SQLite database path.
func NewDB(dsn string) (DB, error) {
	driver, source, err := splitDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	switch driver {
	case "mysql":
		db.SetMaxIdleConns(25)
		db.SetMaxOpenConns(50)
		db.SetConnMaxLifetime(5 * time.Minute)
	case "sqlite3":
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY
		// storms under the claim CAS.
		db.SetMaxOpenConns(1)
	}
	d := &database{DB: db, driver: driver}
	if err := d.bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func splitDSN(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		cfg, err := mysql.ParseDSN(mysqlURLToDSN(strings.TrimPrefix(dsn, "mysql://")))
		if err != nil {
			return "", "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = false
		cfg.InterpolateParams = true
		return "mysql", cfg.FormatDSN(), nil
	case strings.Contains(dsn, "@tcp("):
		return "mysql", dsn, nil
	case len(dsn) == 0:
		return "", "", fmt.Errorf("empty database dsn")
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	return "sqlite3", "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// mysqlURLToDSN rewrites user:pass@host:port/name into the go-sql-driver
// form user:pass@tcp(host:port)/name.
func mysqlURLToDSN(rest string) string {
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return rest
	}
	cred, hostPath := rest[:at], rest[at+1:]
	slash := strings.Index(hostPath, "/")
	if slash < 0 {
		return fmt.Sprintf("%s@tcp(%s)/", cred, hostPath)
	}
	return fmt.Sprintf("%s@tcp(%s)/%s", cred, hostPath[:slash], hostPath[slash+1:])
}

// Timestamps are stored as epoch microseconds so both dialects order and
// compare them identically.
func micros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func microsPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: micros(*t), Valid: true}
}

func fromMicrosPtr(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromMicros(ns.Int64)
	return &t
}
