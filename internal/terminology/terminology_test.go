// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package terminology

import "testing"

func TestCanonicalTestNameSynonyms(t *testing.T) {
	cases := map[string]string{
		"Hb":            "Hemoglobin",
		"hgb":           "Hemoglobin",
		"PLATELETS":     "Platelet Count",
		"plt":           "Platelet Count",
		"  MPV ":        "MPV",
		"anc":           "Absolute Neutrophils",
		"Not A Real Test": "Not A Real Test",
	}
	for in, want := range cases {
		if got := CanonicalTestName(in); got != want {
			t.Errorf("CanonicalTestName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLOINCForKnownAndUnknown(t *testing.T) {
	if code, ok := LOINCFor("Hemoglobin"); !ok || code != "718-7" {
		t.Fatalf("LOINCFor(Hemoglobin) = %q, %v", code, ok)
	}
	if _, ok := LOINCFor("Not A Real Test"); ok {
		t.Fatalf("expected unknown test to have no LOINC code")
	}
}

func TestCanonicalUnitVariants(t *testing.T) {
	cases := map[string]string{
		"mill/cumm":  "10*6/uL",
		"MILLION/MM3": "10*6/uL",
		"thousand/cumm": "10*3/uL",
		"g/dl":       "g/dL",
		"":           "",
		"already-unknown-unit": "already-unknown-unit",
	}
	for in, want := range cases {
		if got := CanonicalUnit(in); got != want {
			t.Errorf("CanonicalUnit(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCBCPanelIsStableCopy(t *testing.T) {
	a := CBCPanel()
	a[0] = "mutated"
	b := CBCPanel()
	if b[0] == "mutated" {
		t.Fatal("CBCPanel must return an independent copy each call")
	}
}
