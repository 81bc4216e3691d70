// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/antgroup/stageflow/modules/plumbing"
	"github.com/antgroup/stageflow/pkg/serve/database"
	"github.com/antgroup/stageflow/pkg/serve/dispatch"
	"github.com/sirupsen/logrus"
)

const (
	ErrorMessageKey = "X-Stageflow-Error-Message"
	JSON_MIME       = "application/json"
	OCTET_MIME      = "application/octet-stream"
)

// ErrorCode is the JSON body of every failure response.
type ErrorCode struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResponseWriter shadow ResponseWriter
type ResponseWriter struct {
	http.ResponseWriter
	written    int64
	statusCode int
	remoteAddr string
}

// NewResponseWriter bind ResponseWriter
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK, remoteAddr: parseRemoteAddress(r)}
}

// Write data
func (w *ResponseWriter) Write(data []byte) (int, error) {
	written, err := w.ResponseWriter.Write(data)
	w.written += int64(written)
	return written, err
}

// WriteHeader write header statusCode
func (w *ResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// StatusCode return statusCode
func (w *ResponseWriter) StatusCode() int {
	return w.statusCode
}

// Written return body size
func (w *ResponseWriter) Written() int64 {
	return w.written
}

func (w *ResponseWriter) RemoteAddress() string {
	return w.remoteAddr
}

type trackedReader struct {
	rc       io.ReadCloser
	received int64
}

func newTrackedReader(rc io.ReadCloser) *trackedReader {
	return &trackedReader{rc: rc}
}

// Read reads up to len(data) bytes from the channel.
func (r *trackedReader) Read(data []byte) (int, error) {
	n, err := r.rc.Read(data)
	r.received += int64(n)
	return n, err
}

func (r *trackedReader) Close() error {
	return r.rc.Close()
}

func parseRemoteAddress(r *http.Request) string {
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if addr := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0]); len(addr) != 0 {
		return addr
	}
	if addr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); len(addr) != 0 {
		return addr
	}
	addr, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	return addr
}

func renderFailureFormat(w http.ResponseWriter, r *http.Request, code int, format string, a ...any) {
	renderFailure(w, r, code, fmt.Sprintf(format, a...))
}

func renderFailure(w http.ResponseWriter, r *http.Request, code int, message string) {
	resp := &ErrorCode{
		Code:    code,
		Message: message,
	}
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
	if code != 200 {
		r.Header.Set(ErrorMessageKey, message)
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case plumbing.IsNoSuchObject(err), plumbing.IsErrRevisionNotFound(err), plumbing.IsErrPathNotFound(err):
		renderFailure(w, r, http.StatusNotFound, err.Error())
	case os.IsNotExist(err), database.IsNotFound(err):
		renderFailureFormat(w, r, http.StatusNotFound, "resource not found: %v", err)
	case database.IsErrExist(err), database.IsErrInvalidTransition(err), dispatch.IsErrNotMergeable(err), os.IsExist(err):
		renderFailure(w, r, http.StatusConflict, err.Error())
	case database.IsErrInvalidInput(err):
		renderFailure(w, r, http.StatusBadRequest, err.Error())
	default:
		renderFailure(w, r, http.StatusInternalServerError, "internal server error")
		r.Header.Set(ErrorMessageKey, err.Error())
	}
}

func JsonEncode(w http.ResponseWriter, a any) {
	JsonEncodeStatus(w, http.StatusOK, a)
}

func JsonEncodeStatus(w http.ResponseWriter, code int, a any) {
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(a); err != nil {
		logrus.Errorf("encode response error: %v", err)
	}
}
