// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/antgroup/stageflow/pkg/version"
)

type App struct {
	Globals
	HTTPD HTTPD `cmd:"httpd" help:"start stageflow control plane"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("stageflow-serve"),
		kong.Description("Stageflow - workflow execution on a content-addressed object store"),
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
