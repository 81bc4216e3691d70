// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/httpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPlane is a full control plane on a loopback listener, backed by a
// throwaway sqlite database and a filesystem blob store.
type testPlane struct {
	srv    *httpserver.Server
	ts     *httptest.Server
	client *Client
}

func newTestPlane(t *testing.T) *testPlane {
	t.Helper()
	sc := &httpserver.ServerConfig{
		Listen:        "127.0.0.1:0",
		IdleTimeout:   serve.Duration{Duration: httpserver.DefaultIdleTimeout},
		ReadTimeout:   serve.Duration{Duration: httpserver.DefaultReadTimeout},
		WriteTimeout:  serve.Duration{Duration: httpserver.DefaultWriteTimeout},
		BannerVersion: "Stageflow-test",
		Cache:         &serve.Cache{NumCounters: 1000, MaxCost: serve.MiByte, BufferItems: 64},
		DB:            &serve.Database{DSN: filepath.Join(t.TempDir(), "stageflow.db")},
		Storage:       &serve.Storage{BasePath: t.TempDir()},
	}
	srv, err := httpserver.NewServer(sc)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &testPlane{srv: srv, ts: ts, client: NewClient(ts.URL)}
}

// seedRepo creates a repository and one commit of files on main.
func (p *testPlane) seedRepo(t *testing.T, name string, files map[string]string) *database.Commit {
	t.Helper()
	ctx := context.Background()
	_, err := p.srv.Hub().New(ctx, name, "", "main")
	require.NoError(t, err)
	r, err := p.srv.Hub().Open(ctx, name)
	require.NoError(t, err)
	stage, err := r.CreateStage(ctx, "")
	require.NoError(t, err)
	for fp, content := range files {
		_, err := r.StageAddFile(ctx, stage.ID, fp, []byte(content))
		require.NoError(t, err)
	}
	c, err := r.CommitStage(ctx, stage.ID, "main", "seed", "dev", "dev@example.com")
	require.NoError(t, err)
	return c
}

func (p *testPlane) newCall(t *testing.T, commitHash, stage string, arguments Arguments) string {
	t.Helper()
	id, err := p.client.CreateCall(context.Background(), &NewCall{
		FunctionName: stage,
		Arguments:    arguments,
		RepoName:     "demo",
		CommitHash:   commitHash,
		WorkflowFile: "build.lua",
	})
	require.NoError(t, err)
	require.Len(t, id, 64)
	return id
}

func TestCreateCallDeduplicates(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	c := p.seedRepo(t, "demo", map[string]string{"build.lua": "function lint() end"})

	args := Arguments{Args: []any{"x"}, Kwargs: map[string]any{"fast": true}}
	first := p.newCall(t, c.Hash, "lint", args)
	second := p.newCall(t, c.Hash, "lint", args)
	assert.Equal(t, first, second)

	call, err := p.client.GetCall(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "lint", call.FunctionName)
	assert.Equal(t, "pending", call.Status)
	assert.False(t, call.Terminal())
}

func TestPendingCallsAndClaim(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	c := p.seedRepo(t, "demo", map[string]string{"build.lua": "function lint() end"})
	a := p.newCall(t, c.Hash, "lint", Arguments{Args: []any{1}})
	b := p.newCall(t, c.Hash, "lint", Arguments{Args: []any{2}})

	calls, err := p.client.PendingCalls(ctx, 10)
	require.NoError(t, err)
	ids := make(map[string]bool, len(calls))
	for _, call := range calls {
		ids[call.InvocationID] = true
	}
	assert.True(t, ids[a])
	assert.True(t, ids[b])

	claimed, err := p.client.StartCall(ctx, a, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, "running", claimed.Status)

	// The claim is a compare-and-set; losers get a conflict.
	_, err = p.client.StartCall(ctx, a, "worker-b")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestFinishCallStoresResult(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	c := p.seedRepo(t, "demo", map[string]string{"build.lua": "function lint() end"})
	id := p.newCall(t, c.Hash, "lint", Arguments{})

	_, err := p.client.StartCall(ctx, id, "worker-a")
	require.NoError(t, err)
	done, err := p.client.FinishCall(ctx, id, "completed", []byte(`{"ok":true}`), "")
	require.NoError(t, err)
	assert.Equal(t, "completed", done.Status)
	assert.True(t, done.Terminal())
	assert.JSONEq(t, `{"ok":true}`, string(done.Result))

	call, err := p.client.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", call.Status)
}

func TestFetchBlob(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	c := p.seedRepo(t, "demo", map[string]string{"dir/hello.txt": "hello worker"})

	content, err := p.client.FetchBlob(ctx, "demo", c.Hash, "dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello worker", string(content))

	_, err = p.client.FetchBlob(ctx, "demo", c.Hash, "dir/missing.txt")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUploadAndGetStageFile(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	c := p.seedRepo(t, "demo", map[string]string{"build.lua": "function lint() end"})
	id := p.newCall(t, c.Hash, "lint", Arguments{})
	_, err := p.client.StartCall(ctx, id, "worker-a")
	require.NoError(t, err)

	content := []byte("artifact bytes")
	fileID, contentHash, err := p.client.UploadFile(ctx, id, "out/report.txt", content)
	require.NoError(t, err)
	assert.Len(t, fileID, 64)
	assert.Equal(t, plumbing.HashBytes(content).String(), contentHash)

	got, err := p.client.GetStageFile(ctx, id, "out/report.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = p.client.GetStageFile(ctx, id, "out/missing.txt")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestAppendAndGetLogsPaging(t *testing.T) {
	p := newTestPlane(t)
	ctx := context.Background()
	c := p.seedRepo(t, "demo", map[string]string{"build.lua": "function lint() end"})
	id := p.newCall(t, c.Hash, "lint", Arguments{})

	lines := make([]LogLine, 0, 7)
	for i := 0; i < 7; i++ {
		lines = append(lines, LogLine{Index: int64(i), Timestamp: time.Now().UTC(), Content: "line"})
	}
	count, err := p.client.AppendLogs(ctx, id, lines)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	logs, hasMore, err := p.client.GetLogs(ctx, id, 2, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(3), logs[0].Index)
	assert.Equal(t, int64(5), logs[2].Index)
	assert.True(t, hasMore)

	logs, hasMore, err = p.client.GetLogs(ctx, id, 5, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.False(t, hasMore)
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "a%20b/c%23d.txt", escapePath("a b/c#d.txt"))
	assert.Equal(t, "plain/path.txt", escapePath("plain/path.txt"))
}

func TestCallTerminal(t *testing.T) {
	for _, status := range []string{"completed", "failed", "skipped"} {
		assert.True(t, (&Call{Status: status}).Terminal())
	}
	for _, status := range []string{"pending", "running"} {
		assert.False(t, (&Call{Status: status}).Terminal())
	}
}
