// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/antgroup/stageflow/pkg/version"
	"github.com/antgroup/stageflow/pkg/worker"
	"github.com/sirupsen/logrus"
)

type App struct {
	Globals
	ServerURL    string        `name:"server-url" help:"Base URL of the stageflow control plane" default:"http://127.0.0.1:8700"`
	WorkerID     string        `name:"worker-id" help:"Stable worker identity, generated when empty" optional:""`
	PollInterval time.Duration `name:"poll-interval" help:"Interval between polls for pending invocations" default:"2s"`
	Concurrency  int           `name:"concurrency" help:"Maximum invocations executed at once" default:"4"`
}

func (app *App) Run(globals *Globals) error {
	w, err := worker.New(worker.Options{
		ServerURL:    app.ServerURL,
		WorkerID:     app.WorkerID,
		PollInterval: app.PollInterval,
		Concurrency:  app.Concurrency,
	})
	if err != nil {
		logrus.Errorf("stageflow-worker initialize error: %v", err)
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logrus.Infof("stageflow-worker %s polling %s", w.ID(), app.ServerURL)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		logrus.Errorf("stageflow-worker run error: %v", err)
		return err
	}
	logrus.Infof("stageflow-worker %s exited", w.ID())
	return nil
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("stageflow-worker"),
		kong.Description("Stageflow worker - pulls pending invocations and executes them"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.GetVersionString(),
		},
	)
	if err := ctx.Run(&app.Globals); err != nil {
		os.Exit(1)
	}
}
