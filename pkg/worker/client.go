// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package worker pulls pending invocations from the control plane, executes
// the named stage function of a Lua workflow file pinned to a commit, streams
// logs, uploads output files and reports terminal status. Nested stage calls
// go back through the same HTTP API.
package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/antgroup/stageflow/pkg/version"
)

var (
	dialer = net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
)

// Client speaks the control-plane HTTP API.
type Client struct {
	*http.Client
	baseURL   string
	userAgent string
}

func NewClient(serverURL string) *Client {
	return &Client{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		baseURL:   strings.TrimRight(serverURL, "/"),
		userAgent: version.GetUserAgent(),
	}
}

// ErrorCode is a non-2xx answer from the control plane.
type ErrorCode struct {
	status  int    `json:"-"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (e *ErrorCode) Error() string {
	if len(e.Message) == 0 && len(e.Reason) != 0 {
		return e.Reason
	}
	return e.Message
}

func (e *ErrorCode) Status() int {
	return e.status
}

// IsConflict reports whether err is a 409 answer, e.g. a lost claim race.
func IsConflict(err error) bool {
	ec, ok := err.(*ErrorCode)
	return ok && ec.status == http.StatusConflict
}

func IsNotFound(err error) bool {
	ec, ok := err.(*ErrorCode)
	return ok && ec.status == http.StatusNotFound
}

func parseError(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	if m, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(m, "application/json") {
		ec := &ErrorCode{status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(ec); err != nil {
			return fmt.Errorf("decode json error: %w", err)
		}
		ec.Message = strings.TrimRightFunc(ec.Message, unicode.IsSpace)
		return ec
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &ErrorCode{status: resp.StatusCode, Message: fmt.Sprintf("%s %s", resp.Status, strings.TrimRightFunc(string(b), unicode.IsSpace))}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Arguments mirrors the control plane's invocation argument shape.
type Arguments struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Call is the wire state of an invocation.
type Call struct {
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
}

// Terminal reports whether the call reached a final status.
func (c *Call) Terminal() bool {
	return c.Status == "completed" || c.Status == "failed" || c.Status == "skipped"
}

type NewCall struct {
	CallerID     string    `json:"caller_id,omitempty"`
	FunctionName string    `json:"function_name"`
	Arguments    Arguments `json:"arguments"`
	RepoName     string    `json:"repo_name"`
	CommitHash   string    `json:"commit_hash"`
	WorkflowFile string    `json:"workflow_file"`
}

// CreateCall creates or deduplicates an invocation and returns its id.
func (c *Client) CreateCall(ctx context.Context, newCall *NewCall) (string, error) {
	req, err := c.newRequest(ctx, "POST", "/api/call", newCall)
	if err != nil {
		return "", err
	}
	var resp struct {
		InvocationID string `json:"invocation_id"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	return resp.InvocationID, nil
}

// PendingCalls fetches up to limit of the oldest pending invocations.
func (c *Client) PendingCalls(ctx context.Context, limit int) ([]*Call, error) {
	req, err := c.newRequest(ctx, "GET", "/api/calls?status=pending&limit="+strconv.Itoa(limit), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Calls []*Call `json:"calls"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}
	return resp.Calls, nil
}

func (c *Client) GetCall(ctx context.Context, id string) (*Call, error) {
	req, err := c.newRequest(ctx, "GET", "/api/call/"+id, nil)
	if err != nil {
		return nil, err
	}
	call := &Call{}
	if err := c.doJSON(req, call); err != nil {
		return nil, err
	}
	return call, nil
}

// StartCall claims the invocation. A lost race answers with a conflict.
func (c *Client) StartCall(ctx context.Context, id, workerID string) (*Call, error) {
	req, err := c.newRequest(ctx, "POST", "/api/call/"+id+"/start", map[string]string{"worker_id": workerID})
	if err != nil {
		return nil, err
	}
	call := &Call{}
	if err := c.doJSON(req, call); err != nil {
		return nil, err
	}
	return call, nil
}

func (c *Client) FinishCall(ctx context.Context, id, status string, result json.RawMessage, errorMessage string) (*Call, error) {
	body := map[string]any{"status": status}
	if len(result) != 0 {
		body["result"] = result
	}
	if len(errorMessage) != 0 {
		body["error"] = errorMessage
	}
	req, err := c.newRequest(ctx, "POST", "/api/call/"+id+"/finish", body)
	if err != nil {
		return nil, err
	}
	call := &Call{}
	if err := c.doJSON(req, call); err != nil {
		return nil, err
	}
	return call, nil
}

// LogLine is one batched log entry.
type LogLine struct {
	Index     int64     `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

func (c *Client) AppendLogs(ctx context.Context, id string, lines []LogLine) (int, error) {
	req, err := c.newRequest(ctx, "POST", "/api/stages/"+id+"/logs", map[string]any{"logs": lines})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// GetLogs pages stored log lines after sinceIndex.
func (c *Client) GetLogs(ctx context.Context, id string, sinceIndex int64, limit int) ([]LogLine, bool, error) {
	p := fmt.Sprintf("/api/stages/%s/logs?since_index=%d&limit=%d", id, sinceIndex, limit)
	req, err := c.newRequest(ctx, "GET", p, nil)
	if err != nil {
		return nil, false, err
	}
	var resp struct {
		Logs    []LogLine `json:"logs"`
		HasMore bool      `json:"has_more"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Logs, resp.HasMore, nil
}

// FetchBlob downloads the file at (repo, commit, path) from the control
// plane.
func (c *Client) FetchBlob(ctx context.Context, repoName, commitHash, filePath string) ([]byte, error) {
	p := fmt.Sprintf("/api/repos/%s/blob/%s/%s", url.PathEscape(repoName), commitHash, escapePath(filePath))
	req, err := c.newRequest(ctx, "GET", p, nil)
	if err != nil {
		return nil, err
	}
	return c.doRaw(req)
}

// UploadFile creates a named output of a running invocation.
func (c *Client) UploadFile(ctx context.Context, id, filePath string, content []byte) (stageFileID, contentHash string, err error) {
	req, err := c.newRequest(ctx, "POST", "/api/stages/"+id+"/files", map[string]string{
		"file_path":      filePath,
		"content_base64": base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return "", "", err
	}
	var resp struct {
		StageFileID string `json:"stage_file_id"`
		ContentHash string `json:"content_hash"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", "", err
	}
	return resp.StageFileID, resp.ContentHash, nil
}

// GetStageFile downloads a named output of an invocation.
func (c *Client) GetStageFile(ctx context.Context, id, filePath string) ([]byte, error) {
	req, err := c.newRequest(ctx, "GET", "/api/stages/"+id+"/files/"+escapePath(filePath), nil)
	if err != nil {
		return nil, err
	}
	return c.doRaw(req)
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
