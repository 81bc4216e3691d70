// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/antgroup/stageflow/pkg/serve"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	ts *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sc := &ServerConfig{
		Listen:        "127.0.0.1:0",
		IdleTimeout:   serve.Duration{Duration: DefaultIdleTimeout},
		ReadTimeout:   serve.Duration{Duration: DefaultReadTimeout},
		WriteTimeout:  serve.Duration{Duration: DefaultWriteTimeout},
		BannerVersion: "Stageflow-test",
		Cache:         &serve.Cache{NumCounters: 1000, MaxCost: serve.MiByte, BufferItems: 64},
		DB:            &serve.Database{DSN: filepath.Join(t.TempDir(), "stageflow.db")},
		Storage:       &serve.Storage{BasePath: t.TempDir()},
	}
	srv, err := NewServer(sc)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &testServer{Server: srv, ts: ts}
}

func (s *testServer) url(format string, a ...any) string {
	return s.ts.URL + fmt.Sprintf(format, a...)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, JSON_MIME, bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp
}

// seedRepo creates a repository and one commit of files on main through the
// service layer.
func (s *testServer) seedRepo(t *testing.T, name string, files map[string]string) *database.Commit {
	t.Helper()
	ctx := context.Background()
	_, err := s.Hub().New(ctx, name, "", "main")
	require.NoError(t, err)
	r, err := s.Hub().Open(ctx, name)
	require.NoError(t, err)
	stage, err := r.CreateStage(ctx, "")
	require.NoError(t, err)
	for p, content := range files {
		_, err := r.StageAddFile(ctx, stage.ID, p, []byte(content))
		require.NoError(t, err)
	}
	c, err := r.CommitStage(ctx, stage.ID, "main", "seed", "dev", "dev@example.com")
	require.NoError(t, err)
	return c
}

func TestNewRepoEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := postJSON(t, s.url("/api/repos"), NewRepoRequest{Name: "demo", Description: "demo repo"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created database.Repository
	decodeBody(t, resp, &created)
	assert.Equal(t, "demo", created.Name)
	assert.Equal(t, "main", created.MainBranch)

	// Duplicate name conflicts.
	resp = postJSON(t, s.url("/api/repos"), NewRepoRequest{Name: "demo"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Empty name is a bad request.
	resp = postJSON(t, s.url("/api/repos"), NewRepoRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, s.url("/api/repos/demo"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var found database.Repository
	decodeBody(t, resp, &found)
	assert.Equal(t, created.ID, found.ID)

	resp = get(t, s.url("/api/repos/missing"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetBlobEndpoint(t *testing.T) {
	s := newTestServer(t)
	c := s.seedRepo(t, "demo", map[string]string{"docs/guide.md": "# guide"})

	resp := get(t, s.url("/api/repos/demo/blob/main/docs/guide.md"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, OCTET_MIME, resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "# guide", string(body))

	// Raw commit hash works as the revision token.
	resp = get(t, s.url("/api/repos/demo/blob/%s/docs/guide.md", c.Hash))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, s.url("/api/repos/demo/blob/main/docs/missing.md"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, s.url("/api/repos/demo/blob/ghost/docs/guide.md"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetTreeEndpoint(t *testing.T) {
	s := newTestServer(t)
	c := s.seedRepo(t, "demo", map[string]string{"a.txt": "a", "subdir/b.txt": "b"})

	resp := get(t, s.url("/api/repos/demo/tree/main"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var tree struct {
		Commit  string          `json:"commit"`
		Entries []TreeEntryView `json:"entries"`
	}
	decodeBody(t, resp, &tree)
	assert.Equal(t, c.Hash, tree.Commit)
	require.Len(t, tree.Entries, 2)
	assert.Equal(t, "a.txt", tree.Entries[0].Name)
	assert.Equal(t, "BLOB", tree.Entries[0].Kind)
	require.NotNil(t, tree.Entries[0].Commit)
	assert.Equal(t, c.Hash, tree.Entries[0].Commit.Hash)
	assert.Equal(t, "subdir", tree.Entries[1].Name)
	assert.Equal(t, "TREE", tree.Entries[1].Kind)

	resp = get(t, s.url("/api/repos/demo/tree/main/subdir"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &tree)
	require.Len(t, tree.Entries, 1)
	assert.Equal(t, "b.txt", tree.Entries[0].Name)
}

func TestGetDiffEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	before := s.seedRepo(t, "demo", map[string]string{"a.txt": "one\n"})
	r, err := s.Hub().Open(ctx, "demo")
	require.NoError(t, err)
	after, err := r.UpdateFile(ctx, "main", "a.txt", []byte("one\ntwo\n"), "extend", "dev", "dev@example.com")
	require.NoError(t, err)

	resp := get(t, s.url("/api/repos/demo/diff?before=%s&after=%s", before.Hash, after.Hash))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Before string          `json:"before"`
		After  string          `json:"after"`
		Events []DiffEventView `json:"events"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, before.Hash, out.Before)
	assert.Equal(t, after.Hash, out.After)
	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, "modified", ev.Op)
	assert.Equal(t, "a.txt", ev.Path)
	assert.Equal(t, "base blob", ev.Type)
	require.NotNil(t, ev.Lines)
	require.Len(t, ev.Lines.Lines, 2)
	assert.Equal(t, "one", ev.Lines.Lines[0].Content)
	assert.Equal(t, "two", ev.Lines.Lines[1].Content)
}

func TestGetHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.seedRepo(t, "demo", map[string]string{"a.txt": "a", "b.txt": "b"})
	r, err := s.Hub().Open(ctx, "demo")
	require.NoError(t, err)
	second, err := r.UpdateFile(ctx, "main", "b.txt", []byte("b2"), "edit b", "dev", "dev@example.com")
	require.NoError(t, err)

	resp := get(t, s.url("/api/repos/demo/history/main"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Commits []*database.Commit `json:"commits"`
	}
	decodeBody(t, resp, &history)
	require.Len(t, history.Commits, 2)
	assert.Equal(t, second.Hash, history.Commits[0].Hash)

	resp = get(t, s.url("/api/repos/demo/history/main?path=a.txt"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var latest struct {
		Commit *database.Commit `json:"commit"`
	}
	decodeBody(t, resp, &latest)
	require.NotNil(t, latest.Commit)
	assert.Equal(t, "seed", latest.Commit.Message)
}

func (s *testServer) createCall(t *testing.T, c *database.Commit) string {
	t.Helper()
	resp := postJSON(t, s.url("/api/call"), NewCallRequest{
		FunctionName: "build",
		RepoName:     "demo",
		CommitHash:   c.Hash,
		WorkflowFile: "build.lua",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		InvocationID string `json:"invocation_id"`
	}
	decodeBody(t, resp, &out)
	return out.InvocationID
}

func TestCallLifecycle(t *testing.T) {
	s := newTestServer(t)
	c := s.seedRepo(t, "demo", map[string]string{"build.lua": "function build() end"})

	id := s.createCall(t, c)
	assert.Len(t, id, 64)

	// Identical input deduplicates to the same invocation.
	assert.Equal(t, id, s.createCall(t, c))

	resp := get(t, s.url("/api/calls?status=pending"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Calls []*CallView `json:"calls"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Calls, 1)
	assert.Equal(t, id, list.Calls[0].InvocationID)

	resp = get(t, s.url("/api/calls?status=running"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// First claim wins; the second conflicts.
	resp = postJSON(t, s.url("/api/call/%s/start", id), StartCallRequest{WorkerID: "worker-a"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var started CallView
	decodeBody(t, resp, &started)
	assert.Equal(t, "running", started.Status)
	require.NotNil(t, started.StartedAt)

	resp = postJSON(t, s.url("/api/call/%s/start", id), StartCallRequest{WorkerID: "worker-b"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, s.url("/api/call/%s/finish", id), FinishCallRequest{Status: "skipped"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, s.url("/api/call/%s/finish", id), FinishCallRequest{
		Status: "completed",
		Result: json.RawMessage(`{"ok":true}`),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var finished CallView
	decodeBody(t, resp, &finished)
	assert.Equal(t, "completed", finished.Status)
	assert.Equal(t, `{"ok":true}`, string(finished.Result))

	resp = get(t, s.url("/api/call/%s", id))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched CallView
	decodeBody(t, resp, &fetched)
	assert.Equal(t, "completed", fetched.Status)
}

func TestLogEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.seedRepo(t, "demo", map[string]string{"build.lua": "function build() end"})
	id := s.createCall(t, c)

	lines := make([]LogLineView, 0, 12)
	for i := 0; i < 12; i++ {
		lines = append(lines, LogLineView{Index: int64(i), Timestamp: time.Now().UTC(), Content: fmt.Sprintf("line %d", i)})
	}
	resp := postJSON(t, s.url("/api/stages/%s/logs", id), AppendLogsRequest{Logs: lines})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var appended struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &appended)
	assert.Equal(t, 12, appended.Count)

	resp = get(t, s.url("/api/stages/%s/logs?since_index=3&limit=5", id))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Logs    []LogLineView `json:"logs"`
		HasMore bool          `json:"has_more"`
	}
	decodeBody(t, resp, &page)
	require.Len(t, page.Logs, 5)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(4), page.Logs[0].Index)

	// Unknown run is a 404 on append.
	ghost := "00000000000000000000000000000000000000000000000000000000000000ff"
	resp = postJSON(t, s.url("/api/stages/%s/logs", ghost), AppendLogsRequest{Logs: lines[:1]})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStageFileEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.seedRepo(t, "demo", map[string]string{"build.lua": "function build() end"})
	id := s.createCall(t, c)

	content := []byte("artifact payload")
	resp := postJSON(t, s.url("/api/stages/%s/files", id), NewStageFileRequest{
		FilePath:      "out/artifact.bin",
		ContentBase64: base64.StdEncoding.EncodeToString(content),
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		StageFileID string `json:"stage_file_id"`
		ContentHash string `json:"content_hash"`
	}
	decodeBody(t, resp, &created)
	assert.Len(t, created.StageFileID, 64)

	resp = get(t, s.url("/api/stages/%s/files/out/artifact.bin", id))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, content, body)

	resp = get(t, s.url("/api/stages/%s/files/out/missing.bin", id))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, s.url("/api/stages/%s/files", id), NewStageFileRequest{
		ContentBase64: base64.StdEncoding.EncodeToString(content),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
