// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts builds the message sequences sent to the LLM client for
// each pipeline stage. Every builder here is a pure function: given the
// same inputs it always returns the same messages, which keeps the
// orchestrator's temperature-0 determinism story (§4.7) honest.
package prompts

import (
	"fmt"
	"strings"

	"github.com/veriscribe/ingestor/internal/datatypes"
	"github.com/veriscribe/ingestor/internal/llm"
)

const classifierSystemPrompt = `You classify a single clinical document image into exactly one of:
LAB, RADIOLOGY, PRESCRIPTION, VITALS
Reply with exactly one uppercase token from that list and nothing else.`

// Classifier builds the one-shot modality classification prompt.
func Classifier(images []llm.Image) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Text: classifierSystemPrompt},
		{Role: llm.RoleUser, Text: "Classify this document.", Images: images},
	}
}

const labExtractorPrompt = `Extract every test result from this lab report into a strict
tab-separated table. Do not use markdown, do not add commentary, do not wrap
the table in code fences.

The header row must be exactly:
TEST	VALUE	UNIT	RANGE	FLAG

Example rows:
Hemoglobin	13.2	g/dL	12.0-15.5	N
Absolute Neutrophils	4200	/uL	1500-8000	N

Emit one row per test, including every row of any Differential Count or
Complete Blood Count panel present. Leave a cell empty rather than
inventing a value you cannot read.`

// ExtractorLab builds the LAB extraction prompt.
func ExtractorLab(images []llm.Image) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Text: labExtractorPrompt},
		{Role: llm.RoleUser, Text: "Extract the lab results.", Images: images},
	}
}

const radiologyExtractorPrompt = `Extract the radiology report into exactly two fields, each on
its own line, with no markdown and no extra commentary:

FINDING: <narrative finding text>
IMPRESSION: <free-text impression>

If either section is genuinely absent from the report, leave that line's
value empty rather than inventing content.`

// ExtractorRadiology builds the RADIOLOGY extraction prompt.
func ExtractorRadiology(images []llm.Image) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Text: radiologyExtractorPrompt},
		{Role: llm.RoleUser, Text: "Extract the radiology finding and impression.", Images: images},
	}
}

const prescriptionExtractorPrompt = `Extract every prescribed medication from this image into a
JSON array, and nothing else (no markdown fences, no commentary). Each
element must have exactly these fields:

[{"medication": "...", "dosage": "...", "frequency": "...", "duration": "..."}]

Preserve the frequency exactly as written on the prescription, including
colloquial abbreviations like "bid", "tid", "qhs", or "twice daily" —
do not expand or translate them.`

// ExtractorPrescription builds the PRESCRIPTION extraction prompt.
func ExtractorPrescription(images []llm.Image) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Text: prescriptionExtractorPrompt},
		{Role: llm.RoleUser, Text: "Extract the prescribed medications.", Images: images},
	}
}

const vitalsExtractorPrompt = `Extract every vital sign from this sheet into a strict
tab-separated table, no markdown, no commentary. The header row must be
exactly:
TEST	VALUE	UNIT	RANGE	FLAG

Use these TEST names exactly where applicable: Heart Rate, Blood Pressure,
Temperature, SpO2, BMI, Weight, Height, Respiratory Rate.`

// ExtractorVitals builds the VITALS extraction prompt.
func ExtractorVitals(images []llm.Image) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Text: vitalsExtractorPrompt},
		{Role: llm.RoleUser, Text: "Extract the vital signs.", Images: images},
	}
}

// ForModality dispatches to the right extractor prompt builder. Callers
// model extractor selection as this tagged dispatch rather than runtime
// subclassing (see DESIGN.md).
func ForModality(modality datatypes.Modality, images []llm.Image) []llm.Message {
	switch modality {
	case datatypes.ModalityLab:
		return ExtractorLab(images)
	case datatypes.ModalityRadiology:
		return ExtractorRadiology(images)
	case datatypes.ModalityPrescription:
		return ExtractorPrescription(images)
	case datatypes.ModalityVitals:
		return ExtractorVitals(images)
	default:
		// UNKNOWN modality still needs an attempt; lab extraction is the
		// most permissive shape (TSV) and degrades gracefully to a raw
		// parse failure that the orchestrator's fallback path handles.
		return ExtractorLab(images)
	}
}

// Repair builds the repair prompt: the prior raw output plus a
// machine-readable error list, asking for a corrected re-emission.
// Images are intentionally not attached (§4.3.6: "prior image(s)
// omitted on retry").
func Repair(modality datatypes.Modality, priorOutput string, errs []datatypes.ValidationError) []llm.Message {
	var b strings.Builder
	b.WriteString("Your previous extraction had the following problems:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", e.Code, e.Path, e.Message)
	}
	b.WriteString("\nHere is your previous output:\n---\n")
	b.WriteString(priorOutput)
	b.WriteString("\n---\nRe-emit a corrected response in the same format as before, fixing exactly these problems. Do not add commentary.")

	return []llm.Message{
		{Role: llm.RoleSystem, Text: string(modalitySystemPrompt(modality))},
		{Role: llm.RoleUser, Text: b.String()},
	}
}

func modalitySystemPrompt(modality datatypes.Modality) string {
	switch modality {
	case datatypes.ModalityRadiology:
		return radiologyExtractorPrompt
	case datatypes.ModalityPrescription:
		return prescriptionExtractorPrompt
	case datatypes.ModalityVitals:
		return vitalsExtractorPrompt
	default:
		return labExtractorPrompt
	}
}

const synthesisSystemPrompt = `You write a structured clinical summary from a FHIR bundle and
a clinician's notes. Respond in markdown with exactly these H2 sections,
in this order: Findings, Correlations, Recommendations. Be concise and
factual; do not invent values not present in the bundle or notes.`

// Synthesis builds the AI-summary prompt (§4.3.7).
func Synthesis(bundleJSON string, doctorNotes string) []llm.Message {
	user := fmt.Sprintf("FHIR bundle:\n%s\n\nDoctor's notes:\n%s", bundleJSON, doctorNotes)
	return []llm.Message{
		{Role: llm.RoleSystem, Text: synthesisSystemPrompt},
		{Role: llm.RoleUser, Text: user},
	}
}
