// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"testing"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gateChecks = `version: "1"
checks:
  - name: lint
    workflow_file: build.lua
    stage_name: lint
  - name: coverage
    workflow_file: build.lua
    stage_name: coverage
    required: false
`

// seedPullRequest sets up main with a checks file, branches dev off it and
// opens a pull request dev → main.
func seedPullRequest(t *testing.T, fx *fixture, withChecks bool) (*database.PullRequest, []*database.StageRun) {
	t.Helper()
	ctx := context.Background()
	base := fx.seedWorkflow(t)
	if withChecks {
		var err error
		base, err = fx.r.UpdateFile(ctx, "main", ChecksFileName, []byte(gateChecks), "add checks", "dev", "dev@example.com")
		require.NoError(t, err)
	}
	_, err := fx.r.CreateBranch(ctx, "dev", base.Hash)
	require.NoError(t, err)
	_, err = fx.r.UpdateFile(ctx, "dev", "feature.txt", []byte("work"), "feature", "dev", "dev@example.com")
	require.NoError(t, err)

	pr, runs, err := fx.d.CreatePullRequest(ctx, fx.r, &database.PullRequest{
		RepositoryID: fx.r.ID(),
		BaseBranch:   "main",
		HeadBranch:   "dev",
		Title:        "feature",
		Author:       "dev",
	})
	require.NoError(t, err)
	return pr, runs
}

func finishRun(t *testing.T, fx *fixture, id string, status database.StageRunStatus, errMsg string) {
	t.Helper()
	ctx := context.Background()
	_, err := fx.d.DB().ClaimStageRun(ctx, id, "worker-test")
	require.NoError(t, err)
	_, err = fx.d.DB().FinishStageRun(ctx, id, status, "", errMsg)
	require.NoError(t, err)
}

func runByCheck(runs []*database.StageRun, name string) *database.StageRun {
	for _, run := range runs {
		if run.TriggeredBy == "pr-check:"+name {
			return run
		}
	}
	return nil
}

func TestTriggerEvent(t *testing.T) {
	assert.Equal(t, "pr:7:3", TriggerEvent(7, 3))
}

func TestPullRequestWithoutChecksIsMergeable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pr, runs := seedPullRequest(t, fx, false)
	assert.Empty(t, runs)

	ok, reason, err := fx.d.CanMergePullRequest(ctx, fx.r, pr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	merged, err := fx.d.MergePullRequest(ctx, fx.r, pr, "dev")
	require.NoError(t, err)
	assert.Equal(t, database.PullRequestMerged, merged.Status)
	assert.NotEmpty(t, merged.MergeCommitHash)

	// Base now points at the head commit.
	headRef, err := fx.r.Branch(ctx, "dev")
	require.NoError(t, err)
	baseRef, err := fx.r.Branch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, headRef.CommitHash, baseRef.CommitHash)
}

func TestChecksDispatchedAgainstHead(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pr, runs := seedPullRequest(t, fx, true)
	require.Len(t, runs, 2)

	headRef, err := fx.r.Branch(ctx, "dev")
	require.NoError(t, err)
	for _, run := range runs {
		assert.Equal(t, headRef.CommitHash, run.CommitHash)
		assert.Equal(t, TriggerEvent(fx.r.ID(), pr.Number), run.TriggerEvent)
	}
	require.NotNil(t, runByCheck(runs, "lint"))
	require.NotNil(t, runByCheck(runs, "coverage"))
}

func TestMergeGateCountsRequiredOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pr, runs := seedPullRequest(t, fx, true)

	// The non-required coverage check never blocks; only lint counts.
	ok, reason, err := fx.d.CanMergePullRequest(ctx, fx.r, pr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "1 check(s) pending", reason)

	lint := runByCheck(runs, "lint")
	_, err = fx.d.DB().ClaimStageRun(ctx, lint.ID, "worker-test")
	require.NoError(t, err)
	ok, reason, err = fx.d.CanMergePullRequest(ctx, fx.r, pr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "1 check(s) still running", reason)

	_, err = fx.d.DB().FinishStageRun(ctx, lint.ID, database.StatusCompleted, `{"ok":true}`, "")
	require.NoError(t, err)
	ok, reason, err = fx.d.CanMergePullRequest(ctx, fx.r, pr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestMergeGateFailedCheck(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pr, runs := seedPullRequest(t, fx, true)
	finishRun(t, fx, runByCheck(runs, "lint").ID, database.StatusFailed, "lint errors")

	ok, reason, err := fx.d.CanMergePullRequest(ctx, fx.r, pr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "1 check(s) failed", reason)

	_, err = fx.d.MergePullRequest(ctx, fx.r, pr, "dev")
	require.Error(t, err)
	assert.True(t, IsErrNotMergeable(err))
}

func TestMergeGateClosedPullRequest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pr, _ := seedPullRequest(t, fx, false)
	closed, err := fx.d.DB().UpdatePullRequestStatus(ctx, pr.RepositoryID, pr.Number, database.PullRequestClosed)
	require.NoError(t, err)

	ok, reason, err := fx.d.CanMergePullRequest(ctx, fx.r, closed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "pull request is CLOSED", reason)
}

func TestDispatchChecksIdempotentWhileHeadUnchanged(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pr, runs := seedPullRequest(t, fx, true)

	again, err := fx.d.DispatchChecks(ctx, fx.r, pr)
	require.NoError(t, err)
	require.Len(t, again, len(runs))
	for i := range runs {
		assert.Equal(t, runs[i].ID, again[i].ID)
	}
}
