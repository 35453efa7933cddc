// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package terminology holds the static LOINC and unit lookup tables
// used to enrich extracted observations with standard codes.
//
// Every lookup here is pure and O(1): no network calls, no database round
// trips, and no fuzzy matching. A name or unit that isn't recognized is
// returned unchanged rather than rejected — the caller still emits an
// Observation, just without a coded system attached.
package terminology

import "strings"

// Code pairs a canonical test name with its LOINC identifier.
type Code struct {
	Canonical string
	LOINC     string
}

// canonicalCodes is the bundled canonical-name to LOINC table. Names are
// the form stored on ExtractedRow.TestName after CanonicalTestName.
var canonicalCodes = map[string]string{
	"Hemoglobin":                      "718-7",
	"Hematocrit":                      "4544-3",
	"WBC":                             "6690-2",
	"RBC":                             "789-8",
	"Platelet Count":                  "777-3",
	"MPV":                             "32623-1",
	"MCV":                             "787-2",
	"MCH":                             "785-6",
	"MCHC":                            "786-4",
	"RDW":                             "788-0",
	"Neutrophils":                     "770-8",
	"Lymphocytes":                     "736-9",
	"Monocytes":                       "5905-5",
	"Eosinophils":                     "713-8",
	"Basophils":                       "706-2",
	"Absolute Neutrophils":            "751-8",
	"Absolute Lymphocytes":            "731-0",
	"Absolute Monocytes":              "742-7",
	"Absolute Eosinophils":            "711-2",
	"Absolute Basophils":              "704-7",
	"Glucose":                         "2345-7",
	"Creatinine":                      "2160-0",
	"Sodium":                          "2951-2",
	"Potassium":                       "2823-3",
	"Chloride":                        "2075-0",
	"BUN":                             "3094-0",
	"Total Cholesterol":               "2093-3",
	"HDL Cholesterol":                 "2085-9",
	"LDL Cholesterol":                 "13457-7",
	"Triglycerides":                   "2571-8",
	"TSH":                             "3016-3",
	"Heart Rate":                      "8867-4",
	"Blood Pressure":                  "85354-9",
	"Temperature":                     "8310-5",
	"SpO2":                            "59408-5",
	"BMI":                             "39156-5",
	"Weight":                          "29463-7",
	"Height":                          "8302-2",
	"Respiratory Rate":                "9279-1",
}

// synonyms maps a casefolded, punctuation-stripped alias to the canonical
// test name it should normalize to. Keys must already be in the form
// produced by normalizeKey.
var synonyms = map[string]string{
	"hb":                 "Hemoglobin",
	"hgb":                "Hemoglobin",
	"haemoglobin":        "Hemoglobin",
	"hct":                "Hematocrit",
	"packed cell volume": "Hematocrit",
	"pcv":                "Hematocrit",
	"wbc":                "WBC",
	"white blood cells":  "WBC",
	"white blood cell count": "WBC",
	"tlc":                "WBC",
	"rbc":                "RBC",
	"red blood cells":    "RBC",
	"red blood cell count": "RBC",
	"platelets":          "Platelet Count",
	"platelet count":     "Platelet Count",
	"plt":                "Platelet Count",
	"mean platelet volume": "MPV",
	"mpv":                "MPV",
	"mean corpuscular volume": "MCV",
	"mcv":                "MCV",
	"mean corpuscular hemoglobin": "MCH",
	"mch":                "MCH",
	"mean corpuscular hemoglobin concentration": "MCHC",
	"mchc":               "MCHC",
	"red cell distribution width": "RDW",
	"rdw":                "RDW",
	"neutrophils":        "Neutrophils",
	"neutrophil":         "Neutrophils",
	"lymphocytes":        "Lymphocytes",
	"lymphocyte":         "Lymphocytes",
	"monocytes":          "Monocytes",
	"monocyte":           "Monocytes",
	"eosinophils":        "Eosinophils",
	"eosinophil":         "Eosinophils",
	"basophils":          "Basophils",
	"basophil":           "Basophils",
	"absolute neutrophil count": "Absolute Neutrophils",
	"anc":                "Absolute Neutrophils",
	"absolute lymphocyte count": "Absolute Lymphocytes",
	"alc":                "Absolute Lymphocytes",
	"absolute monocyte count": "Absolute Monocytes",
	"absolute eosinophil count": "Absolute Eosinophils",
	"aec":                "Absolute Eosinophils",
	"absolute basophil count": "Absolute Basophils",
	"glucose":            "Glucose",
	"fasting blood sugar": "Glucose",
	"fbs":                "Glucose",
	"creatinine":         "Creatinine",
	"sodium":             "Sodium",
	"na":                 "Sodium",
	"potassium":          "Potassium",
	"k":                  "Potassium",
	"chloride":           "Chloride",
	"cl":                 "Chloride",
	"bun":                "BUN",
	"blood urea nitrogen": "BUN",
	"total cholesterol":  "Total Cholesterol",
	"cholesterol total":  "Total Cholesterol",
	"hdl":                "HDL Cholesterol",
	"hdl cholesterol":    "HDL Cholesterol",
	"ldl":                "LDL Cholesterol",
	"ldl cholesterol":    "LDL Cholesterol",
	"triglycerides":      "Triglycerides",
	"tsh":                "TSH",
	"thyroid stimulating hormone": "TSH",
	"hr":                 "Heart Rate",
	"heart rate":         "Heart Rate",
	"pulse":              "Heart Rate",
	"bp":                 "Blood Pressure",
	"blood pressure":     "Blood Pressure",
	"temp":               "Temperature",
	"temperature":        "Temperature",
	"spo2":               "SpO2",
	"oxygen saturation":  "SpO2",
	"bmi":                "BMI",
	"weight":             "Weight",
	"wt":                 "Weight",
	"height":             "Height",
	"ht":                 "Height",
	"rr":                 "Respiratory Rate",
	"resp rate":          "Respiratory Rate",
	"respiratory rate":   "Respiratory Rate",
}

// unitVariants maps a casefolded unit spelling to its canonical UCUM-ish
// form. Only variants we've actually observed in extracted tables are
// listed; anything else passes through unchanged.
var unitVariants = map[string]string{
	"mill/cumm":     "10*6/uL",
	"million/mm3":   "10*6/uL",
	"million/cumm":  "10*6/uL",
	"x10^6/ul":      "10*6/uL",
	"10^6/ul":       "10*6/uL",
	"cumm":          "/uL",
	"/cumm":         "/uL",
	"mm3":           "/uL",
	"/mm3":          "/uL",
	"thousand/cumm": "10*3/uL",
	"thousand/ul":   "10*3/uL",
	"x10^3/ul":      "10*3/uL",
	"10^3/ul":       "10*3/uL",
	"k/ul":          "10*3/uL",
	"g/dl":          "g/dL",
	"gm/dl":         "g/dL",
	"mg/dl":         "mg/dL",
	"%":             "%",
	"percent":       "%",
	"fl":            "fL",
	"pg":            "pg",
	"meq/l":         "mEq/L",
	"mmol/l":        "mmol/L",
	"miu/l":         "mIU/L",
	"bpm":           "/min",
	"beats/min":     "/min",
	"mmhg":          "mm[Hg]",
	"deg f":         "[degF]",
	"degf":          "[degF]",
	"deg c":         "Cel",
	"degc":          "Cel",
	"kg/m2":         "kg/m2",
	"kg":            "kg",
	"cm":            "cm",
	"breaths/min":   "/min",
}

// cbcPanel is the expected-test-names set used by the completeness check
// when require_expected_tests is enabled and the modality is a CBC.
var cbcPanel = []string{
	"Hemoglobin", "Hematocrit", "WBC", "RBC", "Platelet Count", "MPV",
	"MCV", "MCH", "MCHC", "RDW",
	"Neutrophils", "Lymphocytes", "Monocytes", "Eosinophils", "Basophils",
}

// CBCPanel returns the full CBC + Differential + Platelet test name set.
func CBCPanel() []string {
	out := make([]string, len(cbcPanel))
	copy(out, cbcPanel)
	return out
}

// normalizeKey casefolds and strips punctuation/whitespace-runs so lookups
// are forgiving of "Platelet Count", "platelet-count", and "PLATELET COUNT"
// all hitting the same entry.
func normalizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '-' || r == '_' || r == '/':
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// drop punctuation entirely
		}
	}
	return strings.TrimSpace(b.String())
}

// CanonicalTestName resolves a raw, model-extracted test name to its
// canonical form via the synonym table. Names with no known synonym are
// returned with surrounding whitespace trimmed and their case kept.
func CanonicalTestName(raw string) string {
	key := normalizeKey(raw)
	if canonical, ok := synonyms[key]; ok {
		return canonical
	}
	// Already-canonical names should resolve to themselves even though
	// they aren't in the synonym table (the table only holds aliases).
	for canonical := range canonicalCodes {
		if normalizeKey(canonical) == key {
			return canonical
		}
	}
	return strings.TrimSpace(raw)
}

// LOINCFor returns the LOINC code for a canonical test name, and whether
// one is known. Callers should run CanonicalTestName first.
func LOINCFor(canonical string) (string, bool) {
	code, ok := canonicalCodes[canonical]
	return code, ok
}

// CanonicalUnit resolves a raw unit string to its canonical spelling. An
// empty or unrecognized unit is returned unchanged (the caller decides
// whether to coerce empty to null).
func CanonicalUnit(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	key := strings.ToLower(trimmed)
	if canonical, ok := unitVariants[key]; ok {
		return canonical
	}
	return trimmed
}

// UnitMagnitude returns the numeric scale factor a canonical count unit
// carries (e.g. "10*3/uL" counts in thousands) and the plain unit it
// scales into. ok is false when unit carries no recognized magnitude
// prefix, in which case factor and base are meaningless.
func UnitMagnitude(unit string) (factor float64, base string, ok bool) {
	switch unit {
	case "10*3/uL":
		return 1000, "/uL", true
	case "10*6/uL":
		return 1e6, "/uL", true
	default:
		return 1, unit, false
	}
}

// IsKnownCanonicalUnit reports whether unit is already one of the
// canonical spellings this table can produce. An empty unit counts as
// canonical.
func IsKnownCanonicalUnit(unit string) bool {
	if unit == "" {
		return true
	}
	for _, canonical := range unitVariants {
		if canonical == unit {
			return true
		}
	}
	for _, canonical := range []string{"/uL", "10*6/uL", "10*3/uL"} {
		if canonical == unit {
			return true
		}
	}
	return false
}
