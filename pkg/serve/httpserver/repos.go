// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/diff"
	"github.com/gorilla/mux"
)

type NewRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MainBranch  string `json:"main_branch,omitempty"`
}

func (s *Server) NewRepo(w http.ResponseWriter, r *http.Request) {
	var newRepo NewRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&newRepo); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "input body error: %v", err)
		return
	}
	if len(newRepo.Name) == 0 {
		renderFailure(w, r, http.StatusBadRequest, "repository name is empty")
		return
	}
	repository, err := s.hub.New(r.Context(), newRepo.Name, newRepo.Description, newRepo.MainBranch)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, repository)
}

func (s *Server) GetRepo(w http.ResponseWriter, r *Request) {
	JsonEncode(w, r.R.R)
}

// pathVar decodes the {path:...} route variable; the router matches on
// encoded paths.
func pathVar(r *http.Request, name string) string {
	raw := mux.Vars(r)[name]
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (s *Server) GetBlob(w http.ResponseWriter, r *Request) {
	c, err := r.R.ResolveRefOrCommit(r.Context(), mux.Vars(r.Request)["revision"])
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	blobHash, err := r.R.BlobHashFromPath(r.Context(), c.TreeHash, pathVar(r.Request, "path"))
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	content, err := r.R.BlobContent(r.Context(), blobHash)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	w.Header().Set("Content-Type", OCTET_MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

type TreeEntryView struct {
	Name       string           `json:"name"`
	Kind       string           `json:"kind"`
	TargetHash string           `json:"target_hash"`
	Mode       string           `json:"mode"`
	Commit     *database.Commit `json:"commit,omitempty"`
}

// GetTree lists a directory with, per entry, the latest ancestor commit that
// touched it.
func (s *Server) GetTree(w http.ResponseWriter, r *Request) {
	c, err := r.R.ResolveRefOrCommit(r.Context(), mux.Vars(r.Request)["revision"])
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	entries, err := diff.TreeEntriesWithCommits(r.Context(), r.source(), r.R, c, pathVar(r.Request, "path"))
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	views := make([]TreeEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, TreeEntryView{
			Name:       e.Entry.Name,
			Kind:       string(e.Entry.Kind),
			TargetHash: e.Entry.TargetHash,
			Mode:       e.Entry.Mode,
			Commit:     e.Commit,
		})
	}
	JsonEncode(w, map[string]any{"commit": c.Hash, "entries": views})
}

type DiffEventView struct {
	Op    string         `json:"op"`
	Path  string         `json:"path"`
	Type  string         `json:"type"`
	Lines *diff.TextDiff `json:"diff,omitempty"`
}

// GetDiff streams the comparison of two revisions as a JSON event list.
// Modified text leaves carry their unified line diff inline.
func (s *Server) GetDiff(w http.ResponseWriter, r *Request) {
	query := r.URL.Query()
	before, err := r.R.ResolveRefOrCommit(r.Context(), query.Get("before"))
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	after, err := r.R.ResolveRefOrCommit(r.Context(), query.Get("after"))
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	events := []DiffEventView{}
	err = diff.Commits(r.Context(), r.source(), before, after, func(e *diff.Event) error {
		view := DiffEventView{Op: e.Op.String(), Path: e.Path, Type: e.Node.TypeLabel()}
		if e.Op == diff.OpModified && e.Before != nil && e.After != nil {
			oldBytes, err := e.Before.Bytes(r.Context())
			if err != nil {
				return err
			}
			newBytes, err := e.After.Bytes(r.Context())
			if err != nil {
				return err
			}
			view.Lines = diff.UnifiedLines(oldBytes, newBytes)
		}
		events = append(events, view)
		return nil
	})
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, map[string]any{"before": before.Hash, "after": after.Hash, "events": events})
}

// GetHistory walks the linear history of a revision. With ?path= it returns
// the latest commit touching that path instead.
func (s *Server) GetHistory(w http.ResponseWriter, r *Request) {
	c, err := r.R.ResolveRefOrCommit(r.Context(), mux.Vars(r.Request)["revision"])
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	if p := query.Get("path"); len(p) != 0 {
		latest, err := diff.LatestCommitForPath(r.Context(), r.source(), c, p, limit)
		if err != nil {
			s.renderError(w, r.Request, err)
			return
		}
		JsonEncode(w, map[string]any{"commit": latest})
		return
	}
	commits, err := r.R.CommitHistory(r.Context(), c.Hash, limit)
	if err != nil {
		s.renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, map[string]any{"commits": commits})
}
