// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/dispatch"
	"github.com/gorilla/mux"
)

type NewCallRequest struct {
	CallerID     string             `json:"caller_id,omitempty"`
	FunctionName string             `json:"function_name"`
	Arguments    dispatch.Arguments `json:"arguments"`
	RepoName     string             `json:"repo_name"`
	CommitHash   string             `json:"commit_hash"`
	WorkflowFile string             `json:"workflow_file"`
}

// CallView is the wire shape of an invocation.
type CallView struct {
	InvocationID string          `json:"invocation_id"`
	FunctionName string          `json:"function_name"`
	Arguments    json.RawMessage `json:"arguments"`
	RepoName     string          `json:"repo_name"`
	CommitHash   string          `json:"commit_hash"`
	WorkflowFile string          `json:"workflow_file"`
	ParentID     string          `json:"parent_id,omitempty"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func callView(run *database.StageRun) *CallView {
	v := &CallView{
		InvocationID: run.ID,
		FunctionName: run.StageName,
		Arguments:    json.RawMessage(run.Arguments),
		RepoName:     run.RepoName,
		CommitHash:   run.CommitHash,
		WorkflowFile: run.WorkflowFile,
		ParentID:     run.ParentID,
		Status:       string(run.Status),
		Error:        run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
	if len(run.ResultValue) != 0 {
		v.Result = json.RawMessage(run.ResultValue)
	}
	return v
}

func (s *Server) NewCall(w http.ResponseWriter, r *http.Request) {
	var newCall NewCallRequest
	if err := json.NewDecoder(r.Body).Decode(&newCall); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	run, _, err := s.dispatcher.CreateCall(r.Context(), &dispatch.CallRequest{
		CallerID:     newCall.CallerID,
		RepoName:     newCall.RepoName,
		CommitHash:   newCall.CommitHash,
		WorkflowFile: newCall.WorkflowFile,
		StageName:    newCall.FunctionName,
		Arguments:    newCall.Arguments,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, map[string]any{"invocation_id": run.ID})
}

func (s *Server) ListCalls(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if status := query.Get("status"); len(status) != 0 && status != string(database.StatusPending) {
		renderFailureFormat(w, r, http.StatusBadRequest, "unsupported status filter '%s'", status)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	runs, err := s.db.PendingStageRuns(r.Context(), limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	calls := make([]*CallView, 0, len(runs))
	for _, run := range runs {
		calls = append(calls, callView(run))
	}
	JsonEncode(w, map[string]any{"calls": calls})
}

func (s *Server) GetCall(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.FindStageRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, callView(run))
}

type StartCallRequest struct {
	WorkerID string `json:"worker_id"`
}

// StartCall claims an invocation: a compare-and-set from pending to running.
// Losers receive a conflict.
func (s *Server) StartCall(w http.ResponseWriter, r *http.Request) {
	var start StartCallRequest
	if err := json.NewDecoder(r.Body).Decode(&start); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	run, err := s.db.ClaimStageRun(r.Context(), mux.Vars(r)["id"], start.WorkerID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, callView(run))
}

type FinishCallRequest struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) FinishCall(w http.ResponseWriter, r *http.Request) {
	var finish FinishCallRequest
	if err := json.NewDecoder(r.Body).Decode(&finish); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	status := database.StageRunStatus(finish.Status)
	if status != database.StatusCompleted && status != database.StatusFailed {
		renderFailureFormat(w, r, http.StatusBadRequest, "invalid finish status '%s'", finish.Status)
		return
	}
	run, err := s.db.FinishStageRun(r.Context(), mux.Vars(r)["id"], status, string(finish.Result), finish.Error)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncode(w, callView(run))
}

type LogLineView struct {
	Index     int64     `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

type AppendLogsRequest struct {
	Logs []LogLineView `json:"logs"`
}

func (s *Server) AppendLogs(w http.ResponseWriter, r *http.Request) {
	var appendLogs AppendLogsRequest
	if err := json.NewDecoder(r.Body).Decode(&appendLogs); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.db.FindStageRun(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	lines := make([]*database.StageLogLine, 0, len(appendLogs.Logs))
	for _, l := range appendLogs.Logs {
		lines = append(lines, &database.StageLogLine{
			StageRunID: id,
			Index:      l.Index,
			Timestamp:  l.Timestamp,
			Contents:   l.Content,
		})
	}
	count, err := s.db.AppendLogLines(r.Context(), id, lines)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, map[string]any{"count": count})
}

func (s *Server) GetLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sinceIndex := int64(-1)
	if v := query.Get("since_index"); len(v) != 0 {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			renderFailureFormat(w, r, http.StatusBadRequest, "invalid since_index '%s'", v)
			return
		}
		sinceIndex = n
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	lines, hasMore, err := s.db.LogLines(r.Context(), mux.Vars(r)["id"], sinceIndex, limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	logs := make([]LogLineView, 0, len(lines))
	for _, l := range lines {
		logs = append(logs, LogLineView{Index: l.Index, Timestamp: l.Timestamp, Content: l.Contents})
	}
	JsonEncode(w, map[string]any{"logs": logs, "has_more": hasMore})
}

type NewStageFileRequest struct {
	FilePath      string `json:"file_path"`
	ContentBase64 string `json:"content_base64"`
}

// NewStageFile stores a named output of a running invocation. Bytes go to the
// blob backend; the row is content-addressed by (run, path).
func (s *Server) NewStageFile(w http.ResponseWriter, r *http.Request) {
	var newFile NewStageFileRequest
	if err := json.NewDecoder(r.Body).Decode(&newFile); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	if len(newFile.FilePath) == 0 {
		renderFailure(w, r, http.StatusBadRequest, "file_path is empty")
		return
	}
	content, err := base64.StdEncoding.DecodeString(newFile.ContentBase64)
	if err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "content_base64 decode error: %v", err)
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.db.FindStageRun(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	stat, err := s.store.Put(r.Context(), content)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	f, err := s.db.UpsertStageFile(r.Context(), &database.StageFile{
		ID:          dispatch.StageFileID(id, newFile.FilePath),
		StageRunID:  id,
		FilePath:    newFile.FilePath,
		ContentHash: stat.Hash.String(),
		StorageKey:  stat.StorageKey,
		Size:        stat.Size,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, map[string]any{"stage_file_id": f.ID, "content_hash": f.ContentHash})
}

func (s *Server) GetStageFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.db.FindStageFile(r.Context(), mux.Vars(r)["id"], pathVar(r, "path"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	content, err := s.store.Get(r.Context(), plumbing.NewHash(f.ContentHash))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", OCTET_MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
