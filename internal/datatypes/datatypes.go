// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the in-memory pipeline entities shared by the
// parser, firewall, fhir, and pipeline packages. None of these types are
// persisted directly — the pipeline package owns the persisted Submission
// shape in internal/store.
package datatypes

// Modality classifies the clinical document under evaluation.
type Modality string

const (
	ModalityLab          Modality = "LAB"
	ModalityRadiology    Modality = "RADIOLOGY"
	ModalityPrescription Modality = "PRESCRIPTION"
	ModalityVitals       Modality = "VITALS"
	ModalityUnknown      Modality = "UNKNOWN"
)

// ClassificationResult is the outcome of the classifier LLM call.
type ClassificationResult struct {
	Modality   Modality
	Confidence float64
}

// Flag is a lab interpretation flag.
type Flag string

const (
	FlagHigh   Flag = "H"
	FlagLow    Flag = "L"
	FlagNormal Flag = "N"
	FlagNone   Flag = ""
)

// ReferenceRange is a low/high numeric range, a free-text range, or both
// absent. At most one of (Low/High) or Text is meaningful at a time; both
// may be populated when the source carried a parseable numeric range that
// also repeats as text.
type ReferenceRange struct {
	Low     *float64
	High    *float64
	Text    string
	HasLow  bool
	HasHigh bool
}

// ExtractedRow is one parsed line of model output: a lab/vitals
// measurement, a radiology finding, or a prescription line, normalized
// into a single shape the firewall and FHIR builder both understand.
//
// Exactly one of Value (numeric) or StringValue should be treated as
// authoritative at any point; IsNumeric records which.
type ExtractedRow struct {
	TestName       string
	IsNumeric      bool
	Value          float64
	StringValue    string
	Unit           string
	ReferenceRange ReferenceRange
	Flag           Flag
	SourceSpan     int // row index in the raw table, for audit; -1 if unknown

	// Prescription-only fields. Populated only when the extraction
	// modality is PRESCRIPTION; ExtractedRow is reused rather than
	// introducing a parallel type because C5's dedup/section-filter/flag
	// rules operate uniformly over "rows" regardless of modality.
	Medication string
	Dosage     string
	Frequency  string
	Duration   string
	AuthoredOn string
}

// PatientIdentity is the cleaned-up patient name/identifier pulled from
// the extraction, if any was present.
type PatientIdentity struct {
	GivenName  string
	FamilyName string
	Identifier string
}

// RepairNote records one deterministic rewrite the semantic firewall
// applied, for audit purposes (§4.5, §4.7 "ordered list of repair
// notes").
type RepairNote struct {
	Code    string
	Message string
	Row     int // -1 when not row-specific
}

// ValidationError is one machine-readable completeness or structural
// failure surfaced by the firewall or the FHIR builder.
type ValidationError struct {
	Path    string
	Code    string
	Message string
}

// ExtractionResult is the full output of parse+sanitize for one attempt:
// the rows, any top-level patient identity, repair notes applied, and
// any validation errors still outstanding.
type ExtractionResult struct {
	Modality  Modality
	Rows      []ExtractedRow
	Patient   PatientIdentity
	Repairs   []RepairNote
	Errors    []ValidationError
	RawText   string
}
