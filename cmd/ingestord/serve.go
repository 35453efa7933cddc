// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veriscribe/ingestor/internal/api"
	"github.com/veriscribe/ingestor/internal/api/handlers"
	"github.com/veriscribe/ingestor/internal/auth"
	"github.com/veriscribe/ingestor/internal/config"
	"github.com/veriscribe/ingestor/internal/llm"
	"github.com/veriscribe/ingestor/internal/store"
	"github.com/veriscribe/ingestor/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger("ingestord", telemetry.ParseLevel(cfg.LogLevel))

	tracerCleanup, err := telemetry.InitTracer(ctx, "ingestord", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer tracerCleanup(context.Background())

	metrics := telemetry.NewPipelineMetrics()

	watcher, err := config.NewWatcher(*cfg, configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.DatabaseDSN, cfg.FilesDir)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	if err := st.SweepOrphanFiles(ctx); err != nil {
		logger.Warn("orphan file sweep failed", "error", err)
	}

	authSvc := auth.NewService(st, cfg.MasterAPIKey)

	llmClient := llm.New(llm.Config{
		Endpoint:           cfg.LLMEndpoint,
		APIKey:             cfg.LLMAPIKey,
		Model:              cfg.LLMModel,
		Concurrency:        int64(cfg.LLMConcurrency),
		Timeout:            time.Duration(cfg.RequestDeadlineMS) * time.Millisecond,
		RateLimitPerSecond: cfg.LLMRateLimitPerSec,
	})

	deps := handlers.Deps{
		Store:   st,
		Auth:    authSvc,
		LLM:     llmClient,
		Config:  watcher,
		Metrics: metrics,
		Log:     logger,
	}

	router := api.NewRouter(deps)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
