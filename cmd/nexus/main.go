/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/sirupsen/logrus"

	"github.com/nexuschat/nexus"
	"github.com/nexuschat/nexus/internal/config"
	"github.com/nexuschat/nexus/shared/logfmt"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (env vars prefixed NEXUS_ also apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	mainContext, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	wg := conc.NewWaitGroup()
	defer wg.Wait()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat != "json" {
		logger.SetFormatter(logfmt.New())
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	server, err := nexus.NewServer(
		nexus.WithConfig(cfg),
		nexus.WithLogger(logger),
		nexus.WithGracefulShutdown(mainContext, cfg.ShutdownTimeout),
	)
	if err != nil {
		logger.Fatal(fmt.Errorf("failed to build server: %w", err))
	}

	wg.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nexus.ErrServerClosed) {
			logger.Fatal(fmt.Errorf("failed to start server: %w", err))
		}
	})

	log := logger.WithField("component", "main")
	killSignals := make(chan os.Signal, 1)
	signal.Notify(killSignals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-killSignals
	log.Infof("initializing server shutdown, received signal: %s", sig)
	shutdown()

	go func() {
		sig := <-killSignals
		log.Fatalf("forcefully shutting down server, received signal: %s", sig)
	}()

	select {
	case <-mainContext.Done():
	case <-time.After(cfg.ShutdownTimeout + 5*time.Second):
		log.Warn("shutdown grace period exceeded")
	}
}
