// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/antgroup/stageflow/pkg/version"
	"github.com/antgroup/stageflow/pkg/worker"
)

type App struct {
	Globals
	ControlPlane string `name:"control-plane" help:"Base URL of the stageflow control plane" default:"http://127.0.0.1:8700"`
	Repo         string `name:"repo" help:"Repository name" required:""`
	Commit       string `name:"commit" help:"Commit hash or revision the workflow runs against" required:""`
	File         string `name:"file" help:"Workflow file path inside the repository" required:""`
	Function     string `name:"function" help:"Stage function to invoke" required:""`
	Args         string `name:"args" help:"Positional arguments as a JSON array" default:"[]"`
	Kwargs       string `name:"kwargs" help:"Keyword arguments as a JSON object" default:"{}"`
}

func (app *App) Run(globals *Globals) error {
	var args []any
	if err := json.Unmarshal([]byte(app.Args), &args); err != nil {
		fmt.Fprintf(os.Stderr, "stageflow-kickoff parse --args error: %v\n", err)
		return err
	}
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(app.Kwargs), &kwargs); err != nil {
		fmt.Fprintf(os.Stderr, "stageflow-kickoff parse --kwargs error: %v\n", err)
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	client := worker.NewClient(app.ControlPlane)
	call, err := worker.Kickoff(ctx, client, &worker.NewCall{
		FunctionName: app.Function,
		Arguments:    worker.Arguments{Args: args, Kwargs: kwargs},
		RepoName:     app.Repo,
		CommitHash:   app.Commit,
		WorkflowFile: app.File,
	}, func(l worker.LogLine) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", l.Timestamp.Format(time.RFC3339), l.Content)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "stageflow-kickoff run error: %v\n", err)
		return err
	}
	if call.Status != "completed" {
		fmt.Fprintf(os.Stderr, "invocation %s %s: %s\n", call.InvocationID, call.Status, call.Error)
		return fmt.Errorf("invocation %s", call.Status)
	}
	if len(call.Result) != 0 {
		fmt.Println(string(call.Result))
	}
	return nil
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("stageflow-kickoff"),
		kong.Description("Stageflow kickoff - start a root invocation and stream its logs"),
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
