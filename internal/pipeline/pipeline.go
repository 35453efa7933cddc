// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives one ingestion request through the
// classify/extract/sanitize/validate/build state machine, bounded by a
// repair budget, falling back to a safety-mode bundle when the budget
// is exhausted rather than ever failing the request outright.
package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/veriscribe/ingestor/internal/datatypes"
	"github.com/veriscribe/ingestor/internal/fhir"
	"github.com/veriscribe/ingestor/internal/firewall"
	"github.com/veriscribe/ingestor/internal/llm"
	"github.com/veriscribe/ingestor/internal/parser"
	"github.com/veriscribe/ingestor/internal/prompts"
	"github.com/veriscribe/ingestor/internal/telemetry"
)

// State names one stage of the state machine in §4.7.
type State string

const (
	StateStart    State = "START"
	StateClassify State = "CLASSIFYING"
	StateExtract  State = "EXTRACTING"
	StateSanitize State = "SANITIZING"
	StateValidate State = "VALIDATING"
	StateBuild    State = "BUILDING"
	StateRepair   State = "REPAIR"
	StateFallback State = "FALLBACK"
	StateDone     State = "DONE"
)

// Status is the terminal status recorded on the submission row.
type Status string

const (
	StatusComplete Status = "completed"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// Config bounds one run of the pipeline; it is built once from
// internal/config.Config and passed to every ingest.
type Config struct {
	MaxAttempts int // repair budget, default 3 (§4.7)
	Firewall    firewall.Config
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Outcome is everything the caller (internal/store, via internal/api)
// needs to persist a submission and answer the ingest request.
type Outcome struct {
	Modality      datatypes.Modality
	Status        Status
	Bundle        fhir.Bundle
	RawExtraction string
	Attempts      int
	Elapsed       time.Duration
	Repairs       []datatypes.RepairNote
	ClassifyErr   error // transport failure during CLASSIFYING, if modality fell back to UNKNOWN
}

// Run executes the full state machine for one submission's images. It
// never returns a non-nil error for a parse or validation failure —
// those are recovered into a FALLBACK bundle per §4.7's "never raises
// to the caller." A non-nil error here means either the context was
// cancelled (callers must not persist a row in that case, §8 property
// 9) or the LLM endpoint itself failed the extraction call after its
// own retries, which §7 routes to UpstreamUnavailable rather than a
// local repair/fallback: a repair attempt can't fix an unreachable
// endpoint. Callers should use errors.Is against context.Canceled/
// context.DeadlineExceeded to tell the two apart.
func Run(ctx context.Context, client llm.Client, images []llm.Image, cfg Config, metrics *telemetry.PipelineMetrics, log Logger) (Outcome, error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	ctx, finishClassify := telemetry.StartStage(ctx, "classifying", nil)
	modality, classifyErr := classify(ctx, client, images)
	finishClassify(classifyErr)
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	state := StateExtract
	var rawOutput string
	var result datatypes.ExtractionResult
	var bundle fhir.Bundle
	extractCalls := 0
	repairsUsed := 0
	viaFallback := false

	for {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		switch state {
		case StateExtract:
			extractCalls++
			var err error
			stageCtx, finish := telemetry.StartStage(ctx, "extracting", map[string]string{"attempt": strconv.Itoa(extractCalls)})
			if extractCalls == 1 {
				rawOutput, err = chat(stageCtx, client, prompts.ForModality(modality, images))
			} else {
				rawOutput, err = chat(stageCtx, client, prompts.Repair(modality, rawOutput, result.Errors))
			}
			finish(err)
			if err != nil {
				// §7: a transport failure is not a parse/validation
				// failure a repair attempt can recover from; it surfaces
				// to the caller as UpstreamUnavailable instead of being
				// absorbed into FALLBACK.
				log.Warn("extraction call failed", "attempt", extractCalls, "error", err)
				return Outcome{}, err
			}
			state = StateSanitize

		case StateSanitize:
			_, finish := telemetry.StartStage(ctx, "sanitizing", nil)
			parsed := parser.Parse(modality, rawOutput, parser.Config{})
			result = firewall.Sanitize(modality, parsed, cfg.Firewall)
			finish(nil)
			state = StateValidate

		case StateValidate:
			if len(result.Errors) > 0 {
				if repairsUsed < cfg.MaxAttempts {
					repairsUsed++
					state = StateRepair
					continue
				}
				state = StateFallback
				continue
			}
			state = StateBuild

		case StateRepair:
			state = StateExtract

		case StateBuild:
			_, finish := telemetry.StartStage(ctx, "building", nil)
			bundle = fhir.Build(result)
			violation := fhir.Validate(bundle)
			finish(nil)
			if violation != "" {
				if repairsUsed < cfg.MaxAttempts {
					repairsUsed++
					state = StateRepair
					continue
				}
				state = StateFallback
				continue
			}
			state = StateDone

		case StateFallback:
			_, finish := telemetry.StartStage(ctx, "fallback", nil)
			reason := fallbackReason(result, classifyErr)
			bundle = fhir.FallbackBundle(result.Patient, reason)
			finish(nil)
			viaFallback = true
			state = StateDone

		case StateDone:
			elapsed := time.Since(start)
			status := statusFor(!viaFallback, result)
			outcome := Outcome{
				Modality:      modality,
				Status:        status,
				Bundle:        bundle,
				RawExtraction: rawOutput,
				Attempts:      extractCalls,
				Elapsed:       elapsed,
				Repairs:       result.Repairs,
				ClassifyErr:   classifyErr,
			}
			if metrics != nil {
				outcomeLabel := "done"
				if status != StatusComplete {
					outcomeLabel = "fallback"
				}
				metrics.RecordSubmission(string(modality), outcomeLabel, elapsed.Seconds(), repairsUsed)
			}
			return outcome, nil
		}
	}
}

func statusFor(reachedBuild bool, result datatypes.ExtractionResult) Status {
	if reachedBuild {
		return StatusComplete
	}
	if len(result.Rows) == 0 && result.Patient.Identifier == "" && result.Patient.FamilyName == "" {
		return StatusFailed
	}
	return StatusPartial
}

func fallbackReason(result datatypes.ExtractionResult, classifyErr error) string {
	if classifyErr != nil {
		return "modality classification failed, extraction attempted against best-guess prompt"
	}
	if len(result.Errors) == 0 {
		return "extraction exhausted repair budget"
	}
	return result.Errors[0].Message
}

func classify(ctx context.Context, client llm.Client, images []llm.Image) (datatypes.Modality, error) {
	text, _, err := client.Chat(ctx, prompts.Classifier(images), llm.Params{Temperature: 0})
	if err != nil {
		// §4.7: "On transport failure after C2's retries, set modality =
		// UNKNOWN and continue" — not a pipeline failure.
		return datatypes.ModalityUnknown, err
	}
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case string(datatypes.ModalityLab):
		return datatypes.ModalityLab, nil
	case string(datatypes.ModalityRadiology):
		return datatypes.ModalityRadiology, nil
	case string(datatypes.ModalityPrescription):
		return datatypes.ModalityPrescription, nil
	case string(datatypes.ModalityVitals):
		return datatypes.ModalityVitals, nil
	default:
		return datatypes.ModalityUnknown, nil
	}
}

func chat(ctx context.Context, client llm.Client, messages []llm.Message) (string, error) {
	text, _, err := client.Chat(ctx, messages, llm.Params{Temperature: 0})
	return text, err
}

// Logger is the subset of *slog.Logger the pipeline needs, kept as an
// interface so tests can assert on warnings without wiring slog.
type Logger interface {
	Warn(msg string, args ...any)
}
