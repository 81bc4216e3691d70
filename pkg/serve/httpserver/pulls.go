// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/dispatch"
	"github.com/gorilla/mux"
)

func pullNumber(r *Request) int64 {
	n, _ := strconv.ParseInt(mux.Vars(r.Request)["number"], 10, 64)
	return n
}

func (s *Server) findPull(w http.ResponseWriter, r *Request) (*database.PullRequest, bool) {
	pr, err := s.db.FindPullRequest(r.Context(), r.R.ID(), pullNumber(r))
	if err != nil {
		s.renderError(w, r.Request, err)
		return nil, false
	}
	return pr, true
}

type NewPullRequestBody struct {
	BaseBranch  string `json:"base_branch,omitempty"`
	HeadBranch  string `json:"head_branch"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author"`
}

// NewPull records the pull request and dispatches its configured checks
// against the head branch.
func (s *Server) NewPull(w http.ResponseWriter, r *Request) {
	var body NewPullRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderFailureFormat(w, r.Request, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	if len(body.HeadBranch) == 0 || len(body.Title) == 0 {
		renderFailure(w, r.Request, http.StatusBadRequest, "head_branch or title is empty")
		return
	}
	if len(body.BaseBranch) == 0 {
		body.BaseBranch = r.R.MainBranch()
	}
	pr, runs, err := s.dispatcher.CreatePullRequest(r.Context(), r.R, &database.PullRequest{
		RepositoryID: r.R.ID(),
		BaseBranch:   body.BaseBranch,
		HeadBranch:   body.HeadBranch,
		Title:        body.Title,
		Description:  body.Description,
		Author:       body.Author,
	})
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	checks := make([]*CallView, 0, len(runs))
	for _, run := range runs {
		checks = append(checks, callView(run))
	}
	JsonEncodeStatus(w, http.StatusCreated, map[string]any{"pull_request": pr, "checks": checks})
}

func (s *Server) ListPulls(w http.ResponseWriter, r *Request) {
	status := database.PullRequestStatus(r.URL.Query().Get("status"))
	pulls, err := s.db.ListPullRequests(r.Context(), r.R.ID(), status)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, map[string]any{"pull_requests": pulls})
}

// GetPull returns the pull request plus its check runs and the current merge
// gate verdict.
func (s *Server) GetPull(w http.ResponseWriter, r *Request) {
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	runs, err := s.db.StageRunsByTrigger(r.Context(), dispatch.TriggerEvent(pr.RepositoryID, pr.Number))
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	mergeable, reason, err := s.dispatcher.CanMergePullRequest(r.Context(), r.R, pr)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	checks := make([]*CallView, 0, len(runs))
	for _, run := range runs {
		checks = append(checks, callView(run))
	}
	resp := map[string]any{"pull_request": pr, "checks": checks, "mergeable": mergeable}
	if len(reason) != 0 {
		resp["reason"] = reason
	}
	JsonEncode(w, resp)
}

func (s *Server) ClosePull(w http.ResponseWriter, r *Request) {
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	if pr.Status != database.PullRequestOpen {
		renderFailureFormat(w, r.Request, http.StatusConflict, "pull request #%d is %s", pr.Number, pr.Status)
		return
	}
	updated, err := s.db.UpdatePullRequestStatus(r.Context(), pr.RepositoryID, pr.Number, database.PullRequestClosed)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, updated)
}

func (s *Server) ReopenPull(w http.ResponseWriter, r *Request) {
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	if pr.Status != database.PullRequestClosed {
		renderFailureFormat(w, r.Request, http.StatusConflict, "pull request #%d is %s", pr.Number, pr.Status)
		return
	}
	updated, err := s.db.UpdatePullRequestStatus(r.Context(), pr.RepositoryID, pr.Number, database.PullRequestOpen)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, updated)
}

type MergePullRequestBody struct {
	MergedBy string `json:"merged_by,omitempty"`
}

// MergePull fast-forwards base onto head when the gate is open; otherwise it
// answers 409 with the human-readable reason.
func (s *Server) MergePull(w http.ResponseWriter, r *Request) {
	var body MergePullRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			renderFailureFormat(w, r.Request, http.StatusBadRequest, "input body error: %v", err)
			return
		}
	}
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	merged, err := s.dispatcher.MergePullRequest(r.Context(), r.R, pr, body.MergedBy)
	if err != nil {
		if nm, ok := err.(*dispatch.ErrNotMergeable); ok {
			w.Header().Set("Content-Type", JSON_MIME)
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"reason": nm.Reason})
			r.Header.Set(ErrorMessageKey, nm.Reason)
			return
		}
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, merged)
}

type NewCommentBody struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (s *Server) NewPullComment(w http.ResponseWriter, r *Request) {
	var body NewCommentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderFailureFormat(w, r.Request, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	if len(body.Body) == 0 {
		renderFailure(w, r.Request, http.StatusBadRequest, "comment body is empty")
		return
	}
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	comment, err := s.db.AddPullRequestComment(r.Context(), &database.PullRequestComment{
		RepositoryID: pr.RepositoryID,
		Number:       pr.Number,
		Author:       body.Author,
		Body:         body.Body,
	})
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, comment)
}

func (s *Server) ListPullComments(w http.ResponseWriter, r *Request) {
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	comments, err := s.db.PullRequestComments(r.Context(), pr.RepositoryID, pr.Number)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, map[string]any{"comments": comments})
}

// DispatchPullChecks re-dispatches the configured checks. Content-addressed
// ids keep this idempotent while the head commit is unchanged.
func (s *Server) DispatchPullChecks(w http.ResponseWriter, r *Request) {
	pr, ok := s.findPull(w, r)
	if !ok {
		return
	}
	if pr.Status != database.PullRequestOpen {
		renderFailureFormat(w, r.Request, http.StatusConflict, "pull request #%d is %s", pr.Number, pr.Status)
		return
	}
	runs, err := s.dispatcher.DispatchChecks(r.Context(), r.R, pr)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	checks := make([]*CallView, 0, len(runs))
	for _, run := range runs {
		checks = append(checks, callView(run))
	}
	JsonEncodeStatus(w, http.StatusCreated, map[string]any{"checks": checks})
}
