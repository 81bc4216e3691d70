// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/repo"
)

const checkTriggerPrefix = "pr-check:"

// TriggerEvent names the event binding a pull request's check invocations
// together.
func TriggerEvent(rid, number int64) string {
	return fmt.Sprintf("pr:%d:%d", rid, number)
}

// ErrNotMergeable carries the human-readable reason the merge gate is closed.
type ErrNotMergeable struct {
	Reason string
}

func (err *ErrNotMergeable) Error() string {
	return "pull request not mergeable: " + err.Reason
}

func IsErrNotMergeable(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrNotMergeable)
	return ok
}

// CreatePullRequest records the pull request and dispatches its checks
// against the head branch commit.
func (d *Dispatcher) CreatePullRequest(ctx context.Context, r *repo.Repository, pr *database.PullRequest) (*database.PullRequest, []*database.StageRun, error) {
	if _, err := r.Branch(ctx, pr.BaseBranch); err != nil {
		return nil, nil, err
	}
	if _, err := r.Branch(ctx, pr.HeadBranch); err != nil {
		return nil, nil, err
	}
	created, err := d.db.NewPullRequest(ctx, pr)
	if err != nil {
		return nil, nil, err
	}
	runs, err := d.DispatchChecks(ctx, r, created)
	if err != nil {
		return nil, nil, err
	}
	return created, runs, nil
}

// DispatchChecks creates one invocation per configured check against the
// current head branch commit. Content-addressed ids make re-dispatch
// idempotent while the head is unchanged.
func (d *Dispatcher) DispatchChecks(ctx context.Context, r *repo.Repository, pr *database.PullRequest) ([]*database.StageRun, error) {
	cfg, err := d.LoadChecks(ctx, r, pr.BaseBranch)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	headRef, err := r.Branch(ctx, pr.HeadBranch)
	if err != nil {
		return nil, err
	}
	runs := make([]*database.StageRun, 0, len(cfg.Checks))
	for i := range cfg.Checks {
		c := &cfg.Checks[i]
		run, _, err := d.CreateCall(ctx, &CallRequest{
			RepoName:     r.Name(),
			CommitHash:   headRef.CommitHash,
			WorkflowFile: c.WorkflowFile,
			StageName:    c.StageName,
			Arguments:    Arguments{Kwargs: c.Arguments},
			TriggeredBy:  checkTriggerPrefix + c.Name,
			TriggerEvent: TriggerEvent(r.ID(), pr.Number),
		})
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// CanMergePullRequest evaluates the merge gate: the pull request must be
// open and every required check invocation completed. The reason is empty
// exactly when ok.
func (d *Dispatcher) CanMergePullRequest(ctx context.Context, r *repo.Repository, pr *database.PullRequest) (bool, string, error) {
	if pr.Status != database.PullRequestOpen {
		return false, fmt.Sprintf("pull request is %s", pr.Status), nil
	}
	runs, err := d.db.StageRunsByTrigger(ctx, TriggerEvent(pr.RepositoryID, pr.Number))
	if err != nil {
		return false, "", err
	}
	required, err := d.requiredChecks(ctx, r, pr)
	if err != nil {
		return false, "", err
	}
	var pending, running, failed int
	for _, run := range runs {
		name := strings.TrimPrefix(run.TriggeredBy, checkTriggerPrefix)
		if req, known := required[name]; known && !req {
			continue
		}
		switch run.Status {
		case database.StatusPending:
			pending++
		case database.StatusRunning:
			running++
		case database.StatusFailed:
			failed++
		}
	}
	switch {
	case failed > 0:
		return false, fmt.Sprintf("%d check(s) failed", failed), nil
	case running > 0:
		return false, fmt.Sprintf("%d check(s) still running", running), nil
	case pending > 0:
		return false, fmt.Sprintf("%d check(s) pending", pending), nil
	}
	return true, "", nil
}

// requiredChecks maps check names to their required flag from the current
// base branch config. Runs whose check is no longer configured stay blocking.
func (d *Dispatcher) requiredChecks(ctx context.Context, r *repo.Repository, pr *database.PullRequest) (map[string]bool, error) {
	cfg, err := d.LoadChecks(ctx, r, pr.BaseBranch)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	required := make(map[string]bool, len(cfg.Checks))
	for i := range cfg.Checks {
		required[cfg.Checks[i].Name] = cfg.Checks[i].IsRequired()
	}
	return required, nil
}

// MergePullRequest fast-forwards base onto head once the gate is open and
// marks the row merged.
func (d *Dispatcher) MergePullRequest(ctx context.Context, r *repo.Repository, pr *database.PullRequest, mergedBy string) (*database.PullRequest, error) {
	ok, reason, err := d.CanMergePullRequest(ctx, r, pr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ErrNotMergeable{Reason: reason}
	}
	headCommit, err := r.MergeBranches(ctx, pr.BaseBranch, pr.HeadBranch)
	if err != nil {
		return nil, err
	}
	return d.db.MarkPullRequestMerged(ctx, pr.RepositoryID, pr.Number, headCommit.Hash, mergedBy)
}
