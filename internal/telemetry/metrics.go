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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "ingestord"
	pipelineSubsys   = "pipeline"
)

// PipelineMetrics holds the Prometheus instruments the ingest pipeline
// updates. Initialized once at startup via NewPipelineMetrics and held
// for the process lifetime, the way the orchestrator's StreamingMetrics
// singleton is.
type PipelineMetrics struct {
	// IngestLatencySeconds measures end-to-end ingest_file->final bundle
	// duration. Labels: modality, outcome (done, fallback).
	IngestLatencySeconds *prometheus.HistogramVec

	// RepairIterations records how many repair-loop attempts a
	// submission needed before reaching DONE or FALLBACK.
	RepairIterations *prometheus.HistogramVec

	// LLMConcurrencyInUse tracks in-flight LLM calls against the
	// configured semaphore capacity.
	LLMConcurrencyInUse prometheus.Gauge

	// LLMQueueDepth tracks callers waiting on the LLM semaphore.
	LLMQueueDepth prometheus.Gauge

	// SubmissionsTotal counts completed submissions by outcome.
	SubmissionsTotal *prometheus.CounterVec

	// ValidationErrorsTotal counts bundle validation failures by kind,
	// the signal that feeds the repair loop's next attempt.
	ValidationErrorsTotal *prometheus.CounterVec
}

// NewPipelineMetrics registers and returns the pipeline's Prometheus
// instruments. Must be called at most once per process; a second call
// panics on duplicate registration, matching promauto's behavior.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		IngestLatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "ingest_latency_seconds",
			Help:      "End-to-end ingest duration from upload to final bundle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"modality", "outcome"}),

		RepairIterations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "repair_iterations",
			Help:      "Number of repair-loop attempts before DONE or FALLBACK.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"modality"}),

		LLMConcurrencyInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "llm_concurrency_in_use",
			Help:      "In-flight LLM extraction calls.",
		}),

		LLMQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "llm_queue_depth",
			Help:      "Callers waiting on the LLM concurrency semaphore.",
		}),

		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "submissions_total",
			Help:      "Completed submissions by modality and outcome.",
		}, []string{"modality", "outcome"}),

		ValidationErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsys,
			Name:      "validation_errors_total",
			Help:      "Bundle validation failures by violation kind.",
		}, []string{"kind"}),
	}
}

// RecordSubmission records a terminal submission outcome: latency,
// repair count and the outcome counter, in one call so callers can't
// forget one of the three on a given code path.
func (m *PipelineMetrics) RecordSubmission(modality, outcome string, seconds float64, attempts int) {
	m.IngestLatencySeconds.WithLabelValues(modality, outcome).Observe(seconds)
	m.RepairIterations.WithLabelValues(modality).Observe(float64(attempts))
	m.SubmissionsTotal.WithLabelValues(modality, outcome).Inc()
}

// AcquireLLMSlot and ReleaseLLMSlot track the semaphore gauge around an
// LLM call; EnterLLMQueue and LeaveLLMQueue bracket the time a caller
// spends waiting for a slot before AcquireLLMSlot is reached.
func (m *PipelineMetrics) AcquireLLMSlot() { m.LLMConcurrencyInUse.Inc() }
func (m *PipelineMetrics) ReleaseLLMSlot() { m.LLMConcurrencyInUse.Dec() }
func (m *PipelineMetrics) EnterLLMQueue()  { m.LLMQueueDepth.Inc() }
func (m *PipelineMetrics) LeaveLLMQueue()  { m.LLMQueueDepth.Dec() }
