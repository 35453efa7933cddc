// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parser

import (
	"testing"

	"github.com/veriscribe/ingestor/internal/datatypes"
)

func TestParseTSVLab(t *testing.T) {
	raw := "TEST\tVALUE\tUNIT\tRANGE\tFLAG\n" +
		"Hemoglobin\t13.2\tg/dL\t12.0-15.5\tN\n" +
		"Platelet Count\t370\t/uL\t150-450\tL\n"
	res := Parse(datatypes.ModalityLab, raw, Config{})
	if res.Kind != KindTSV {
		t.Fatalf("expected KindTSV, got %s", res.Kind)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
	if res.Rows[0].TestName != "Hemoglobin" || !res.Rows[0].IsNumeric || res.Rows[0].Value != 13.2 {
		t.Fatalf("row 0 mismatch: %+v", res.Rows[0])
	}
	if res.Rows[0].ReferenceRange.Low == nil || *res.Rows[0].ReferenceRange.Low != 12.0 {
		t.Fatalf("expected parsed reference range low=12.0, got %+v", res.Rows[0].ReferenceRange)
	}
}

func TestParseDropsSectionBanners(t *testing.T) {
	raw := "TEST\tVALUE\tUNIT\tRANGE\tFLAG\n" +
		"DIFFERENTIAL COUNT\n" +
		"Neutrophils\t60\t%\t40-70\tN\n"
	res := Parse(datatypes.ModalityLab, raw, Config{})
	if res.Kind != KindTSV {
		t.Fatalf("expected KindTSV, got %s", res.Kind)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected banner dropped, 1 row, got %d: %+v", len(res.Rows), res.Rows)
	}
}

func TestParseMarkdownFencedJSON(t *testing.T) {
	raw := "```json\n[{\"medication\":\"Amoxicillin 500mg\",\"dosage\":\"1 tab\",\"frequency\":\"bid\",\"duration\":\"7 days\"}]\n```"
	res := Parse(datatypes.ModalityPrescription, raw, Config{})
	if res.Kind != KindJSON {
		t.Fatalf("expected KindJSON, got %s", res.Kind)
	}
	if len(res.Rows) != 1 || res.Rows[0].Frequency != "bid" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}
}

func TestStripThinking(t *testing.T) {
	raw := "before <unused94>internal reasoning\nmore reasoning<unused95>after"
	got := stripThinking(raw, "<unused94>", "<unused95>")
	if got != "before after" {
		t.Fatalf("got %q", got)
	}
}

func TestParseRadiologyKeyValue(t *testing.T) {
	raw := "FINDING: mild cardiomegaly\nIMPRESSION: no acute disease"
	res := Parse(datatypes.ModalityRadiology, raw, Config{})
	if res.Kind != KindText {
		t.Fatalf("expected KindText, got %s", res.Kind)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
}

func TestParseFallsBackToRaw(t *testing.T) {
	res := Parse(datatypes.ModalityLab, "I cannot read this image.", Config{})
	if res.Kind != KindRaw {
		t.Fatalf("expected KindRaw, got %s", res.Kind)
	}
}
