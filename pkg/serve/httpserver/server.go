// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package httpserver is the control-plane HTTP API: repositories and object
// retrieval, invocation create/claim/finish, log and output-file streaming,
// pull requests with checked merges, and read views over the diff engine.
package httpserver

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/antgroup/stageflow/pkg/serve"
	"github.com/antgroup/stageflow/pkg/serve/blob"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/dispatch"
	"github.com/antgroup/stageflow/pkg/serve/repo"
	"github.com/antgroup/stageflow/pkg/serve/vfs"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type HandlerFunc func(http.ResponseWriter, *Request)

// Request binds the resolved repository to the inbound request for handlers
// registered through OnRepo.
type Request struct {
	*http.Request
	R *repo.Repository
}

func (r *Request) source() *vfs.Source {
	return &vfs.Source{DB: r.R.DB(), Store: r.R.Store(), RepoID: r.R.ID(), RepoName: r.R.Name()}
}

type Server struct {
	*ServerConfig
	srv        *http.Server
	r          *mux.Router
	db         database.DB
	store      blob.Store
	hub        *repo.Hub
	dispatcher *dispatch.Dispatcher
	serverName string
}

func (s *Server) apiRouter(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	// Repositories and object retrieval
	api.HandleFunc("/repos", s.NewRepo).Methods("POST")
	api.HandleFunc("/repos/{repo_name}", s.OnRepo(s.GetRepo)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/blob/{revision}/{path:.+}", s.OnRepo(s.GetBlob)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/tree/{revision}", s.OnRepo(s.GetTree)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/tree/{revision}/{path:.*}", s.OnRepo(s.GetTree)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/diff", s.OnRepo(s.GetDiff)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/history/{revision}", s.OnRepo(s.GetHistory)).Methods("GET")
	// Invocations
	api.HandleFunc("/call", s.NewCall).Methods("POST")
	api.HandleFunc("/calls", s.ListCalls).Methods("GET")
	api.HandleFunc("/call/{id:[0-9a-f]{64}}", s.GetCall).Methods("GET")
	api.HandleFunc("/call/{id:[0-9a-f]{64}}/start", s.StartCall).Methods("POST")
	api.HandleFunc("/call/{id:[0-9a-f]{64}}/finish", s.FinishCall).Methods("POST")
	// Logs and output files
	api.HandleFunc("/stages/{id:[0-9a-f]{64}}/logs", s.AppendLogs).Methods("POST")
	api.HandleFunc("/stages/{id:[0-9a-f]{64}}/logs", s.GetLogs).Methods("GET")
	api.HandleFunc("/stages/{id:[0-9a-f]{64}}/files", s.NewStageFile).Methods("POST")
	api.HandleFunc("/stages/{id:[0-9a-f]{64}}/files/{path:.+}", s.GetStageFile).Methods("GET")
	// Pull requests
	api.HandleFunc("/repos/{repo_name}/pulls", s.OnRepo(s.NewPull)).Methods("POST")
	api.HandleFunc("/repos/{repo_name}/pulls", s.OnRepo(s.ListPulls)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}", s.OnRepo(s.GetPull)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}/close", s.OnRepo(s.ClosePull)).Methods("POST")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}/reopen", s.OnRepo(s.ReopenPull)).Methods("POST")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}/merge", s.OnRepo(s.MergePull)).Methods("POST")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}/comments", s.OnRepo(s.NewPullComment)).Methods("POST")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}/comments", s.OnRepo(s.ListPullComments)).Methods("GET")
	api.HandleFunc("/repos/{repo_name}/pulls/{number:[0-9]+}/checks", s.OnRepo(s.DispatchPullChecks)).Methods("POST")
}

func (s *Server) initialize() error {
	r := mux.NewRouter().UseEncodedPath()
	s.apiRouter(r)
	s.r = r
	s.srv.Handler = s
	return nil
}

func NewServer(sc *ServerConfig) (*Server, error) {
	if sc.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	srv := &Server{
		ServerConfig: sc,
		srv: &http.Server{
			Addr:         sc.Listen,
			ReadTimeout:  sc.ReadTimeout.Duration,
			IdleTimeout:  sc.IdleTimeout.Duration,
			WriteTimeout: sc.WriteTimeout.Duration,
		},
		serverName: sc.BannerVersion,
	}
	if err := srv.initialize(); err != nil {
		return nil, err
	}
	var err error
	if srv.db, err = database.NewDB(sc.DB.DSN); err != nil {
		return nil, err
	}
	if srv.store, err = newStore(sc.Storage); err != nil {
		_ = srv.db.Close()
		return nil, err
	}
	cc := &repo.CacheConfig{
		NumCounters: sc.Cache.NumCounters,
		MaxCost:     sc.Cache.MaxCost,
		BufferItems: sc.Cache.BufferItems,
	}
	if srv.hub, err = repo.NewHub(srv.db, srv.store, cc); err != nil {
		_ = srv.db.Close()
		return nil, err
	}
	srv.dispatcher = dispatch.New(srv.db, srv.hub)
	return srv, nil
}

func newStore(storage *serve.Storage) (blob.Store, error) {
	if len(storage.S3Bucket) != 0 {
		return blob.NewS3Store(context.Background(), storage.S3Bucket)
	}
	return blob.NewFilesystemStore(storage.BasePath)
}

func (s *Server) DB() database.DB {
	return s.db
}

func (s *Server) Hub() *repo.Hub {
	return s.hub
}

func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

func (s *Server) ListenAndServe() error {
	logrus.Infof("stageflow control plane listening on %s", s.Listen)
	return s.srv.ListenAndServe()
}

// OnRepo resolves {repo_name} before invoking the handler.
func (s *Server) OnRepo(handler HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rr, err := s.hub.Open(r.Context(), mux.Vars(r)["repo_name"])
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		handler(w, &Request{Request: r, R: rr})
	}
}

func logResponse(hw *ResponseWriter, r *http.Request, tr *trackedReader, spent time.Duration) {
	message := r.Header.Get(ErrorMessageKey)
	switch statusCode := hw.StatusCode(); {
	case statusCode >= http.StatusOK && statusCode <= http.StatusPermanentRedirect:
		logrus.Infof("[%s] %s %s status: %d received: %d written: %d spent: %v", hw.RemoteAddress(), r.Method, r.RequestURI, hw.StatusCode(), tr.received, hw.Written(), spent)
	default:
		logrus.Errorf("[%s] %s %s status: %d received: %d written: %d spent: %v message: %s", hw.RemoteAddress(), r.Method, r.RequestURI, hw.StatusCode(), tr.received, hw.Written(), spent, message)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// remove multiple slash and ./..
	if r.URL != nil {
		r.URL.Path = path.Clean(r.URL.Path)
	}

	w.Header().Set("Server", s.serverName)
	tr := newTrackedReader(r.Body)
	r.Body = tr
	now := time.Now()
	hw := NewResponseWriter(w, r)
	s.r.ServeHTTP(hw, r)
	logResponse(hw, r, tr, time.Since(now))
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		logrus.Errorf("shutdown http server %v", err)
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return nil
}
