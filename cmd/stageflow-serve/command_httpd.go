// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"

	"github.com/antgroup/stageflow/pkg/serve/httpserver"
	"github.com/sirupsen/logrus"
)

type HTTPD struct {
	Config string `short:"c" name:"config" help:"Location of server config file" optional:"" type:"path"`
	Listen string `name:"listen" help:"Override listen address" optional:""`
	Debug  bool   `name:"debug" help:"Enable verbose logging"`
}

func (c *HTTPD) Run(globals *Globals) error {
	sc, err := httpserver.NewServerConfig(c.Config, globals.ExpandEnv)
	if err != nil {
		logrus.Errorf("stageflow-serve httpd load server config error: %v", err)
		return err
	}
	if len(c.Listen) != 0 {
		sc.Listen = c.Listen
	}
	if c.Debug {
		sc.Debug = true
	}
	srv, err := httpserver.NewServer(sc)
	if err != nil {
		logrus.Errorf("stageflow-serve httpd new server error: %v", err)
		return err
	}
	closer := newCloser()
	go closer.listenSignal(context.Background(), srv)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("stageflow-serve httpd listen server error: %v", err)
		return err
	}
	<-closer.ch
	logrus.Infof("stageflow-serve httpd exited")
	return nil
}
