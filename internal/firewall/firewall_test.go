// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package firewall

import (
	"testing"

	"github.com/veriscribe/ingestor/internal/datatypes"
	"github.com/veriscribe/ingestor/internal/parser"
)

func TestSanitizePlateletScaling(t *testing.T) {
	raw := "TEST\tVALUE\tUNIT\tRANGE\tFLAG\n" +
		"Platelet Count\t370\t/uL\t150-450\tL\n" +
		"Hemoglobin\t13.2\tg/dL\t12.0-15.5\tN\n"
	parsed := parser.Parse(datatypes.ModalityLab, raw, parser.Config{})
	result := Sanitize(datatypes.ModalityLab, parsed, Config{})

	var plt *datatypes.ExtractedRow
	for i := range result.Rows {
		if result.Rows[i].TestName == "Platelet Count" {
			plt = &result.Rows[i]
		}
	}
	if plt == nil {
		t.Fatal("expected platelet count row")
	}
	if plt.Value != 370000 || plt.Unit != "/uL" {
		t.Fatalf("expected scaled platelet count 370000 /uL, got %v %v", plt.Value, plt.Unit)
	}
	if plt.Flag != datatypes.FlagNormal {
		t.Fatalf("expected recomputed flag N, got %v", plt.Flag)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	raw := "TEST\tVALUE\tUNIT\tRANGE\tFLAG\n" +
		"Platelet Count\t370\t/uL\t150-450\tL\n" +
		"hgb\t13.2\tg/dl\t12.0-15.5\tN\n"
	parsed := parser.Parse(datatypes.ModalityLab, raw, parser.Config{})
	cfg := Config{}
	once := Sanitize(datatypes.ModalityLab, parsed, cfg)

	reparsed := parser.Result{Kind: parser.KindTSV, Rows: once.Rows, TopLevel: parsed.TopLevel, Text: once.RawText}
	twice := Sanitize(datatypes.ModalityLab, reparsed, cfg)

	if len(once.Rows) != len(twice.Rows) {
		t.Fatalf("row count changed: %d vs %d", len(once.Rows), len(twice.Rows))
	}
	for i := range once.Rows {
		if once.Rows[i] != twice.Rows[i] {
			t.Fatalf("row %d changed on second sanitize pass: %+v vs %+v", i, once.Rows[i], twice.Rows[i])
		}
	}
}

func TestSanitizePlateletMPVSwap(t *testing.T) {
	raw := "TEST\tVALUE\tUNIT\tRANGE\tFLAG\n" +
		"Platelet Count\t9.2\t10^3/uL\t150-450\n" +
		"MPV\t250\tfL\t6-12\n"
	parsed := parser.Parse(datatypes.ModalityLab, raw, parser.Config{})
	result := Sanitize(datatypes.ModalityLab, parsed, Config{})

	var plt, mpv *datatypes.ExtractedRow
	for i := range result.Rows {
		switch result.Rows[i].TestName {
		case "Platelet Count":
			plt = &result.Rows[i]
		case "MPV":
			mpv = &result.Rows[i]
		}
	}
	if plt == nil || mpv == nil {
		t.Fatal("expected both platelet and mpv rows")
	}
	if plt.Value != 250000 {
		t.Fatalf("expected swapped and scaled platelet value 250000, got %v", plt.Value)
	}
	if plt.Unit != "/uL" {
		t.Fatalf("expected platelet unit normalized to /uL, got %v", plt.Unit)
	}
	if mpv.Value != 9.2 {
		t.Fatalf("expected swapped mpv value 9.2, got %v", mpv.Value)
	}
	if plt.Flag != datatypes.FlagNormal || mpv.Flag != datatypes.FlagNormal {
		t.Fatalf("expected both flagged N, got platelet=%v mpv=%v", plt.Flag, mpv.Flag)
	}
}

func TestSanitizeDropsSectionBannerRow(t *testing.T) {
	rows := []datatypes.ExtractedRow{
		{TestName: "DIFFERENTIAL COUNT", SourceSpan: 0},
		{TestName: "Neutrophils", IsNumeric: true, Value: 60, Unit: "%", SourceSpan: 1},
	}
	result := Sanitize(datatypes.ModalityLab, parser.Result{Kind: parser.KindTSV, Rows: rows}, Config{})
	if len(result.Rows) != 1 {
		t.Fatalf("expected banner row dropped, got %+v", result.Rows)
	}
}

func TestSanitizeDeduplicatesPreferringNumeric(t *testing.T) {
	rows := []datatypes.ExtractedRow{
		{TestName: "Glucose", StringValue: "pending", SourceSpan: 0},
		{TestName: "Glucose", IsNumeric: true, Value: 95, SourceSpan: 1},
	}
	result := Sanitize(datatypes.ModalityLab, parser.Result{Kind: parser.KindTSV, Rows: rows}, Config{})
	if len(result.Rows) != 1 {
		t.Fatalf("expected one glucose row after dedup, got %d", len(result.Rows))
	}
	if !result.Rows[0].IsNumeric || result.Rows[0].Value != 95 {
		t.Fatalf("expected numeric row to win dedup, got %+v", result.Rows[0])
	}
}

func TestSanitizeCleansPatientHonorifics(t *testing.T) {
	parsed := parser.Result{
		Kind:     parser.KindJSON,
		TopLevel: map[string]any{"patient_name": "Dr. Jane Q. Smith MD", "patient_id": "MRN-1001"},
	}
	result := Sanitize(datatypes.ModalityLab, parsed, Config{})
	if result.Patient.FamilyName != "Smith" {
		t.Fatalf("expected family name Smith, got %+v", result.Patient)
	}
	if result.Patient.Identifier != "MRN-1001" {
		t.Fatalf("expected identifier preserved, got %+v", result.Patient)
	}
}

func TestSanitizeCompletenessRequiresMinObservations(t *testing.T) {
	rows := []datatypes.ExtractedRow{
		{TestName: "Hemoglobin", IsNumeric: true, Value: 13.2, SourceSpan: 0},
	}
	cfg := Config{StrictExtraction: true, MinObservations: 3}
	result := Sanitize(datatypes.ModalityLab, parser.Result{Kind: parser.KindTSV, Rows: rows}, cfg)
	if len(result.Errors) == 0 {
		t.Fatal("expected too_few_observations error")
	}
}

func TestSanitizePrescriptionRequiresMedication(t *testing.T) {
	cfg := Config{StrictExtraction: true}
	result := Sanitize(datatypes.ModalityPrescription, parser.Result{Kind: parser.KindJSON}, cfg)
	found := false
	for _, e := range result.Errors {
		if e.Code == "no_medications" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected no_medications completeness error")
	}
}
