// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin handler factories backing §6's
// HTTP surface. Each factory closes over exactly the dependencies it
// needs, the same shape the orchestrator service's handlers package
// uses.
package handlers

import (
	"log/slog"

	"github.com/veriscribe/ingestor/internal/auth"
	"github.com/veriscribe/ingestor/internal/config"
	"github.com/veriscribe/ingestor/internal/firewall"
	"github.com/veriscribe/ingestor/internal/llm"
	"github.com/veriscribe/ingestor/internal/pipeline"
	"github.com/veriscribe/ingestor/internal/store"
	"github.com/veriscribe/ingestor/internal/telemetry"
)

// Deps bundles everything a handler factory might need. A single
// instance is built at startup in cmd/ingestord and threaded into
// every handler constructor.
type Deps struct {
	Store   *store.Store
	Auth    *auth.Service
	LLM     llm.Client
	Config  *config.Watcher
	Metrics *telemetry.PipelineMetrics
	Log     *slog.Logger
}

func (d Deps) pipelineConfig() pipeline.Config {
	cfg := d.Config.Current()
	return pipeline.Config{
		MaxAttempts: cfg.MaxAttempts,
		Firewall: firewall.Config{
			StrictExtraction:     cfg.StrictExtraction,
			RequireExpectedTests: cfg.RequireExpectedTests,
			RequirePatient:       cfg.RequirePatient,
			AllowReportDate:      cfg.AllowReportDate,
			MinObservations:      cfg.MinObservations,
		},
	}
}
