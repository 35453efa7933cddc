// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package firewall implements the deterministic semantic firewall (C5):
// a fixed-order pipeline of rewrites that detects and repairs common
// model hallucinations — unit mismatches, off-by-1000 platelet counts,
// off-by-10 differential counts, and swapped Platelet/MPV rows — before
// the result is handed to the FHIR builder.
//
// Every rewrite records a RepairNote. The pipeline is built to be
// idempotent: running Sanitize twice on its own output must be a no-op,
// because each rule's trigger condition is also the condition the rule
// itself resolves.
package firewall

import (
	"strconv"
	"strings"
	"time"

	"github.com/veriscribe/ingestor/internal/datatypes"
	"github.com/veriscribe/ingestor/internal/parser"
	"github.com/veriscribe/ingestor/internal/terminology"
)

// Config controls the completeness strictness of Sanitize (§4.5).
type Config struct {
	StrictExtraction     bool
	RequireExpectedTests bool
	RequirePatient       bool
	AllowReportDate      bool
	MinObservations      int
}

func (c Config) withDefaults() Config {
	if c.MinObservations <= 0 {
		c.MinObservations = 3
	}
	return c
}

var sectionBanners = map[string]bool{
	"DIFFERENTIAL COUNT":   true,
	"IMPRESSION":           true,
	"COMPLETE BLOOD COUNT": true,
	"CBC":                  true,
	"VITALS":               true,
}

// Sanitize runs the full ordered rewrite + completeness pipeline over one
// parse Result and returns the normalized ExtractionResult.
func Sanitize(modality datatypes.Modality, parsed parser.Result, cfg Config) datatypes.ExtractionResult {
	cfg = cfg.withDefaults()

	rows := make([]datatypes.ExtractedRow, len(parsed.Rows))
	copy(rows, parsed.Rows)

	var repairs []datatypes.RepairNote

	rows = normalizeTestNames(rows)
	rows = normalizeUnits(rows)
	rows, repairs = deduplicateRows(rows, repairs)
	rows = filterSectionBanners(rows)
	rows, repairs = plateletScalingRepair(rows, repairs)
	rows, repairs = absoluteCountReconstruction(rows, repairs)
	rows, repairs = plateletMPVSwap(rows, repairs)

	patient, repairs := cleanPatientIdentity(parsed.TopLevel, repairs)

	topLevel, repairs := pruneReportDate(parsed.TopLevel, cfg.AllowReportDate, repairs)
	_ = topLevel

	rows = deriveFlags(rows)

	result := datatypes.ExtractionResult{
		Modality: modality,
		Rows:     rows,
		Patient:  patient,
		Repairs:  repairs,
		RawText:  parsed.Text,
	}
	result.Errors = completenessErrors(modality, result, cfg)
	return result
}

func normalizeTestNames(rows []datatypes.ExtractedRow) []datatypes.ExtractedRow {
	for i := range rows {
		if rows[i].TestName == "" || rows[i].Medication != "" {
			continue
		}
		rows[i].TestName = terminology.CanonicalTestName(rows[i].TestName)
	}
	return rows
}

func normalizeUnits(rows []datatypes.ExtractedRow) []datatypes.ExtractedRow {
	for i := range rows {
		rows[i].Unit = terminology.CanonicalUnit(rows[i].Unit)
	}
	return rows
}

func deduplicateRows(rows []datatypes.ExtractedRow, repairs []datatypes.RepairNote) ([]datatypes.ExtractedRow, []datatypes.RepairNote) {
	best := map[string]int{} // canonical name -> index into kept slice
	var kept []datatypes.ExtractedRow

	better := func(a, b datatypes.ExtractedRow) bool {
		if a.IsNumeric != b.IsNumeric {
			return a.IsNumeric
		}
		aHasRange := a.ReferenceRange.HasLow || a.ReferenceRange.Text != ""
		bHasRange := b.ReferenceRange.HasLow || b.ReferenceRange.Text != ""
		return aHasRange && !bHasRange
	}

	for _, row := range rows {
		key := strings.ToLower(row.TestName)
		if key == "" || row.Medication != "" {
			kept = append(kept, row)
			continue
		}
		if idx, ok := best[key]; ok {
			if better(row, kept[idx]) {
				kept[idx] = row
				repairs = append(repairs, datatypes.RepairNote{Code: "duplicate_row_dropped", Message: "kept stronger duplicate for " + row.TestName, Row: row.SourceSpan})
			} else {
				repairs = append(repairs, datatypes.RepairNote{Code: "duplicate_row_dropped", Message: "dropped weaker duplicate for " + row.TestName, Row: row.SourceSpan})
			}
			continue
		}
		best[key] = len(kept)
		kept = append(kept, row)
	}
	return kept, repairs
}

func filterSectionBanners(rows []datatypes.ExtractedRow) []datatypes.ExtractedRow {
	out := rows[:0]
	for _, row := range rows {
		onlyName := row.TestName != "" && !row.IsNumeric && row.StringValue == "" && row.Unit == "" && row.Medication == ""
		if onlyName && sectionBanners[strings.ToUpper(row.TestName)] {
			continue
		}
		out = append(out, row)
	}
	return out
}

func plateletScalingRepair(rows []datatypes.ExtractedRow, repairs []datatypes.RepairNote) ([]datatypes.ExtractedRow, []datatypes.RepairNote) {
	for i := range rows {
		row := &rows[i]
		if row.TestName != "Platelet Count" || !row.IsNumeric || row.Value >= 1000 {
			continue
		}
		switch row.Unit {
		case "/uL", "uL", "":
		default:
			continue
		}
		row.Value *= 1000
		row.Unit = "/uL"
		if row.ReferenceRange.HasLow {
			*row.ReferenceRange.Low *= 1000
		}
		if row.ReferenceRange.HasHigh {
			*row.ReferenceRange.High *= 1000
		}
		if row.Flag == datatypes.FlagLow {
			if row.ReferenceRange.HasLow && row.ReferenceRange.HasHigh {
				row.Flag = flagFor(row.Value, *row.ReferenceRange.Low, *row.ReferenceRange.High)
			} else {
				row.Flag = datatypes.FlagNone
			}
		}
		repairs = append(repairs, datatypes.RepairNote{Code: "platelet_scaled", Message: "scaled platelet count by 1000 and canonicalized unit to /uL", Row: row.SourceSpan})
	}
	return rows, repairs
}

func absoluteCountReconstruction(rows []datatypes.ExtractedRow, repairs []datatypes.RepairNote) ([]datatypes.ExtractedRow, []datatypes.RepairNote) {
	wbcOK := false
	for _, row := range rows {
		if row.TestName == "WBC" && row.IsNumeric && row.Value > 0 {
			wbcOK = true
			break
		}
	}
	if !wbcOK {
		return rows, repairs
	}
	for i := range rows {
		row := &rows[i]
		if !strings.HasPrefix(row.TestName, "Absolute ") || !row.IsNumeric {
			continue
		}
		if !row.ReferenceRange.HasLow || !row.ReferenceRange.HasHigh {
			continue
		}
		midpoint := (*row.ReferenceRange.Low + *row.ReferenceRange.High) / 2
		if row.Value <= 0 || midpoint < 10*row.Value {
			continue
		}
		row.Value *= 10
		repairs = append(repairs, datatypes.RepairNote{Code: "absolute_count_reconstructed", Message: "corrected likely off-by-10 OCR artifact on " + row.TestName, Row: row.SourceSpan})
	}
	return rows, repairs
}

func plateletMPVSwap(rows []datatypes.ExtractedRow, repairs []datatypes.RepairNote) ([]datatypes.ExtractedRow, []datatypes.RepairNote) {
	pIdx, mIdx := -1, -1
	for i, row := range rows {
		switch row.TestName {
		case "Platelet Count":
			pIdx = i
		case "MPV":
			mIdx = i
		}
	}
	if pIdx < 0 || mIdx < 0 {
		return rows, repairs
	}
	p, m := &rows[pIdx], &rows[mIdx]
	if !p.IsNumeric || !m.IsNumeric {
		return rows, repairs
	}
	plateletInMPVRange := p.Value >= 6 && p.Value <= 12
	mpvInPlateletRange := mpvValueInPlateletRange(m.Value, p.ReferenceRange)
	if !plateletInMPVRange || !mpvInPlateletRange {
		return rows, repairs
	}
	p.Value, m.Value = m.Value, p.Value
	if factor, base, ok := terminology.UnitMagnitude(p.Unit); ok {
		p.Value *= factor
		p.Unit = base
		if p.ReferenceRange.HasLow {
			*p.ReferenceRange.Low *= factor
		}
		if p.ReferenceRange.HasHigh {
			*p.ReferenceRange.High *= factor
		}
	}
	repairs = append(repairs, datatypes.RepairNote{Code: "platelet_mpv_swap", Message: "swapped transposed Platelet Count and MPV values, scaled to absolute count", Row: p.SourceSpan})
	return rows, repairs
}

// mpvValueInPlateletRange checks the MPV's raw value against the
// Platelet row's own reference range when present, falling back to the
// conventional 150-450 x10^3/uL platelet range otherwise.
func mpvValueInPlateletRange(mpvValue float64, plateletRange datatypes.ReferenceRange) bool {
	if plateletRange.HasLow && plateletRange.HasHigh {
		return mpvValue >= *plateletRange.Low && mpvValue <= *plateletRange.High
	}
	return mpvValue >= 150 && mpvValue <= 450
}

var honorifics = []string{"dr.", "dr", "mr.", "mr", "ms.", "ms", "mrs.", "mrs"}
var suffixes = []string{"md", "phd", "m.d.", "ph.d."}

func cleanPatientIdentity(top map[string]any, repairs []datatypes.RepairNote) (datatypes.PatientIdentity, []datatypes.RepairNote) {
	var identity datatypes.PatientIdentity
	name, _ := stringField(top, "patient_name", "patient", "name")
	id, _ := stringField(top, "patient_id", "mrn", "identifier")
	identity.Identifier = strings.TrimSpace(id)

	name = strings.TrimSpace(name)
	if name == "" {
		return identity, repairs
	}
	fields := strings.Fields(name)
	var cleaned []string
	for _, f := range fields {
		lower := strings.ToLower(strings.Trim(f, "., "))
		isHonorific := false
		for _, h := range honorifics {
			if lower == strings.Trim(h, ".") {
				isHonorific = true
				break
			}
		}
		isSuffix := false
		for _, s := range suffixes {
			if lower == strings.Trim(s, ".") {
				isSuffix = true
				break
			}
		}
		if isHonorific || isSuffix {
			repairs = append(repairs, datatypes.RepairNote{Code: "patient_name_cleaned", Message: "stripped honorific/suffix " + f, Row: -1})
			continue
		}
		cleaned = append(cleaned, f)
	}
	if len(cleaned) == 0 {
		return identity, repairs
	}
	if len(cleaned) == 1 {
		identity.GivenName = cleaned[0]
		return identity, repairs
	}
	identity.GivenName = strings.Join(cleaned[:len(cleaned)-1], " ")
	identity.FamilyName = cleaned[len(cleaned)-1]
	return identity, repairs
}

func pruneReportDate(top map[string]any, allow bool, repairs []datatypes.RepairNote) (map[string]any, []datatypes.RepairNote) {
	if top == nil {
		return top, repairs
	}
	raw, ok := stringField(top, "report_date", "Report Date")
	if !ok {
		return top, repairs
	}
	if allow {
		if _, err := time.Parse("2006-01-02", raw); err == nil {
			return top, repairs
		}
	}
	delete(top, "report_date")
	delete(top, "Report Date")
	repairs = append(repairs, datatypes.RepairNote{Code: "report_date_pruned", Message: "dropped report date not permitted or not ISO-8601", Row: -1})
	return top, repairs
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func deriveFlags(rows []datatypes.ExtractedRow) []datatypes.ExtractedRow {
	for i := range rows {
		row := &rows[i]
		if !row.IsNumeric || !row.ReferenceRange.HasLow || !row.ReferenceRange.HasHigh {
			continue
		}
		row.Flag = flagFor(row.Value, *row.ReferenceRange.Low, *row.ReferenceRange.High)
	}
	return rows
}

func flagFor(value, low, high float64) datatypes.Flag {
	switch {
	case value < low:
		return datatypes.FlagLow
	case value > high:
		return datatypes.FlagHigh
	default:
		return datatypes.FlagNormal
	}
}

func completenessErrors(modality datatypes.Modality, result datatypes.ExtractionResult, cfg Config) []datatypes.ValidationError {
	var errs []datatypes.ValidationError
	if !cfg.StrictExtraction {
		return errs
	}

	switch modality {
	case datatypes.ModalityLab, datatypes.ModalityVitals:
		if len(result.Rows) < cfg.MinObservations {
			errs = append(errs, datatypes.ValidationError{
				Path: "rows", Code: "too_few_observations",
				Message: "expected at least " + strconv.Itoa(cfg.MinObservations) + " observations",
			})
		}
		if cfg.RequireExpectedTests && isCBC(result.Rows) {
			have := map[string]bool{}
			for _, r := range result.Rows {
				have[r.TestName] = true
			}
			for _, expected := range terminology.CBCPanel() {
				if !have[expected] {
					errs = append(errs, datatypes.ValidationError{
						Path: "rows", Code: "missing_cbc_test",
						Message: "CBC panel missing " + expected,
					})
				}
			}
		}
	case datatypes.ModalityPrescription:
		hasMed := false
		for _, r := range result.Rows {
			if r.Medication != "" {
				hasMed = true
				break
			}
		}
		if !hasMed {
			errs = append(errs, datatypes.ValidationError{Path: "rows", Code: "no_medications", Message: "expected at least one medication row"})
		}
	}

	if cfg.RequirePatient {
		if result.Patient.GivenName == "" && result.Patient.FamilyName == "" {
			errs = append(errs, datatypes.ValidationError{Path: "patient.name", Code: "missing_patient_name", Message: "patient name is required"})
		}
		if result.Patient.Identifier == "" {
			errs = append(errs, datatypes.ValidationError{Path: "patient.identifier", Code: "missing_patient_identifier", Message: "at least one identifier is required"})
		}
	}
	return errs
}

func isCBC(rows []datatypes.ExtractedRow) bool {
	for _, r := range rows {
		if r.TestName == "Hemoglobin" || r.TestName == "WBC" {
			return true
		}
	}
	return false
}
