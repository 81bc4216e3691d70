// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	ServerURL    string
	WorkerID     string
	PollInterval time.Duration
	Concurrency  int
}

// Worker repeatedly polls for pending invocations, claims them and executes
// each on its own goroutine. Claims lost to other workers are skipped;
// network errors are logged and retried with backoff on the next cycle.
type Worker struct {
	client  *Client
	modules *moduleCache
	opts    Options
}

func New(opts Options) (*Worker, error) {
	if len(opts.WorkerID) == 0 {
		opts.WorkerID = "worker-" + uuid.NewString()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	client := NewClient(opts.ServerURL)
	modules, err := newModuleCache(client)
	if err != nil {
		return nil, err
	}
	return &Worker{client: client, modules: modules, opts: opts}, nil
}

func (w *Worker) ID() string {
	return w.opts.WorkerID
}

// Run polls until ctx is cancelled. Executions run on a bounded group; when
// the group is full the worker keeps polling without claiming more.
func (w *Worker) Run(ctx context.Context) error {
	logrus.Infof("worker %s polling %s every %v", w.opts.WorkerID, w.opts.ServerURL, w.opts.PollInterval)
	g := &errgroup.Group{}
	g.SetLimit(w.opts.Concurrency)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.opts.PollInterval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	wait := w.opts.PollInterval
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-time.After(wait):
		}
		calls, err := w.client.PendingCalls(ctx, w.opts.Concurrency)
		if err != nil {
			logrus.Errorf("worker %s: poll: %v", w.opts.WorkerID, err)
			wait = bo.NextBackOff()
			continue
		}
		bo.Reset()
		wait = w.opts.PollInterval
		for _, call := range calls {
			call := call
			if !g.TryGo(func() error {
				w.execute(ctx, call.InvocationID)
				return nil
			}) {
				// Pool is full; leave the rest pending for the next cycle.
				break
			}
		}
	}
}

// execute claims and runs one invocation end to end. User errors become a
// failed status with the stringified error; they never crash the worker.
func (w *Worker) execute(ctx context.Context, id string) {
	call, err := w.client.StartCall(ctx, id, w.opts.WorkerID)
	if err != nil {
		if IsConflict(err) {
			// Another worker won the claim.
			return
		}
		logrus.Errorf("worker %s: claim %s: %v", w.opts.WorkerID, id, err)
		return
	}
	logrus.Infof("worker %s: running %s (%s in %s)", w.opts.WorkerID, call.InvocationID, call.FunctionName, call.WorkflowFile)
	logs := newLogPipeline(w.client, call.InvocationID)
	result, execErr := w.run(ctx, call, logs)
	logs.Close()
	if execErr != nil {
		if _, err := w.client.FinishCall(ctx, call.InvocationID, "failed", nil, execErr.Error()); err != nil {
			logrus.Errorf("worker %s: finish %s: %v", w.opts.WorkerID, call.InvocationID, err)
		}
		return
	}
	if _, err := w.client.FinishCall(ctx, call.InvocationID, "completed", result, ""); err != nil {
		logrus.Errorf("worker %s: finish %s: %v", w.opts.WorkerID, call.InvocationID, err)
	}
}

func (w *Worker) run(ctx context.Context, call *Call, logs *logPipeline) (json.RawMessage, error) {
	source, err := w.modules.Fetch(ctx, call.RepoName, call.CommitHash, call.WorkflowFile)
	if err != nil {
		return nil, err
	}
	return runStage(ctx, &execContext{client: w.client, call: call, logs: logs}, source)
}
