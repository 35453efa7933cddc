// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("warn"))
	require.Equal(t, LevelError, ParseLevel("error"))
	require.Equal(t, LevelInfo, ParseLevel("whatever"))
}

func TestNewLoggerDoesNotPanic(t *testing.T) {
	logger := NewLogger("ingestord", LevelInfo)
	require.NotNil(t, logger)
	WithAttempt(WithSubmission(logger, "sub-1"), 2, "EXTRACTING").Info("attempt started")
}

func TestInitTracerNoopWhenEndpointEmpty(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), "ingestord", "")
	require.NoError(t, err)
	cleanup(context.Background())
}

// testMetrics is shared by the tests below: NewPipelineMetrics registers
// on the default Prometheus registry, so a second call would panic.
var testMetrics = NewPipelineMetrics()

func TestRecordSubmissionUpdatesCounters(t *testing.T) {
	m := testMetrics
	m.RecordSubmission("LAB", "done", 1.5, 2)
	require.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("LAB", "done")))
}

func TestLLMSlotGauges(t *testing.T) {
	m := testMetrics
	m.EnterLLMQueue()
	require.Equal(t, float64(1), testutil.ToFloat64(m.LLMQueueDepth))
	m.LeaveLLMQueue()
	require.Equal(t, float64(0), testutil.ToFloat64(m.LLMQueueDepth))

	m.AcquireLLMSlot()
	require.Equal(t, float64(1), testutil.ToFloat64(m.LLMConcurrencyInUse))
	m.ReleaseLLMSlot()
	require.Equal(t, float64(0), testutil.ToFloat64(m.LLMConcurrencyInUse))
}
