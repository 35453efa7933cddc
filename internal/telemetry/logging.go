// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires structured logging, OpenTelemetry tracing and
// Prometheus metrics for ingestord. Logging follows the stderr-JSON
// slog convention the rest of this codebase's ancestor uses; tracing
// and metrics follow its orchestrator service's OTLP/Prometheus setup.
package telemetry

import (
	"log/slog"
	"os"
)

// Level mirrors the four slog levels the rest of the pack logs at.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps the LOG_LEVEL config string to a Level, defaulting to
// Info for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// NewLogger builds the process-wide JSON slog.Logger, tagged with the
// service name on every record. Unlike the ancestor package's Logger,
// this never opens a log file or enterprise exporter: ingestord runs
// as a container workload where stdout/stderr collection is the
// platform's job, not the application's.
func NewLogger(service string, level Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level.toSlogLevel()})
	return slog.New(handler).With("service", service)
}

// WithSubmission returns a logger scoped to one ingest request, the
// fields every pipeline and storage log line carries so a submission's
// full history can be grepped out of aggregated logs by id alone.
func WithSubmission(base *slog.Logger, submissionID string) *slog.Logger {
	return base.With("submission_id", submissionID)
}

// WithAttempt narrows a submission-scoped logger further to one repair
// loop attempt and pipeline state.
func WithAttempt(base *slog.Logger, attempt int, state string) *slog.Logger {
	return base.With("attempt", attempt, "state", state)
}
