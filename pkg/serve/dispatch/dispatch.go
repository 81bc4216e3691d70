// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package dispatch creates and deduplicates workflow invocations. Invocation
// ids are content-addressable, so the stage run table memoises call graphs by
// input, and the pending rows double as the work queue workers pull from.
package dispatch

import (
	"context"
	"strings"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/repo"
)

// Arguments is the wire shape of an invocation's arguments.
type Arguments struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Canonical renders arguments as canonical JSON: sorted keys, no whitespace,
// nil args and kwargs normalised to empty.
func (a *Arguments) Canonical() (string, error) {
	args := a.Args
	if args == nil {
		args = []any{}
	}
	kwargs := a.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return plumbing.CanonicalJSON(map[string]any{"args": args, "kwargs": kwargs})
}

// RunID computes the invocation id. parentID is empty for root invocations,
// which is what makes the (repo, commit, file, stage, args) tuple unique per
// call-site position.
func RunID(parentID, commitHash, workflowFile, stageName, canonicalArgs string) string {
	payload := strings.Join([]string{parentID, commitHash, workflowFile, stageName, canonicalArgs}, "|")
	return plumbing.HashBytes([]byte(payload)).String()
}

// StageFileID computes the id of a named invocation output.
func StageFileID(stageRunID, filePath string) string {
	return plumbing.HashBytes([]byte(stageRunID + "|" + filePath)).String()
}

// Dispatcher validates and records invocations against the object store.
type Dispatcher struct {
	db  database.DB
	hub *repo.Hub
}

func New(db database.DB, hub *repo.Hub) *Dispatcher {
	return &Dispatcher{db: db, hub: hub}
}

func (d *Dispatcher) DB() database.DB {
	return d.db
}

func (d *Dispatcher) Hub() *repo.Hub {
	return d.hub
}

// CallRequest describes one invocation to create. CallerID names the parent
// invocation for nested calls and is empty for roots.
type CallRequest struct {
	CallerID     string
	RepoName     string
	CommitHash   string
	WorkflowFile string
	StageName    string
	Arguments    Arguments
	TriggeredBy  string
	TriggerEvent string
}

// CreateCall validates the request against stored state and inserts the
// invocation in status pending. The same input always yields the same row;
// created reports whether this call inserted it.
func (d *Dispatcher) CreateCall(ctx context.Context, req *CallRequest) (*database.StageRun, bool, error) {
	if len(req.StageName) == 0 {
		return nil, false, database.NewErrInvalidInput("empty stage name")
	}
	if len(req.WorkflowFile) == 0 {
		return nil, false, database.NewErrInvalidInput("empty workflow file")
	}
	r, err := d.hub.Open(ctx, req.RepoName)
	if err != nil {
		return nil, false, err
	}
	c, err := r.Commit(ctx, req.CommitHash)
	if err != nil {
		return nil, false, err
	}
	if len(req.CallerID) != 0 {
		if _, err := d.db.FindStageRun(ctx, req.CallerID); err != nil {
			return nil, false, err
		}
	}
	canonical, err := req.Arguments.Canonical()
	if err != nil {
		return nil, false, database.NewErrInvalidInput("arguments not JSON-serialisable: %v", err)
	}
	run := &database.StageRun{
		ID:           RunID(req.CallerID, c.Hash, req.WorkflowFile, req.StageName, canonical),
		ParentID:     req.CallerID,
		RepoName:     req.RepoName,
		CommitHash:   c.Hash,
		WorkflowFile: req.WorkflowFile,
		StageName:    req.StageName,
		Arguments:    canonical,
		Status:       database.StatusPending,
		TriggeredBy:  req.TriggeredBy,
		TriggerEvent: req.TriggerEvent,
	}
	return d.db.NewStageRun(ctx, run)
}
