// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fhir builds and minimally validates HL7 FHIR R4 Bundles from
// sanitized extraction results (C6). The resource shapes here are a
// deliberately small subset of R4 — just enough to carry Patient,
// Observation, and MedicationRequest data faithfully — modeled as plain
// structs rather than pulled from a generic FHIR SDK (see DESIGN.md).
package fhir

import (
	"fmt"

	"github.com/go-openapi/strfmt"

	"github.com/veriscribe/ingestor/internal/datatypes"
	"github.com/veriscribe/ingestor/internal/terminology"
)

// Bundle is a FHIR R4 Bundle of type "collection".
type Bundle struct {
	ResourceType string         `json:"resourceType"`
	Type         string         `json:"type"`
	Entry        []BundleEntry  `json:"entry"`
}

// BundleEntry wraps one resource. Resource is left as `any` because its
// concrete shape (Patient/Observation/MedicationRequest) varies per
// entry; callers type-switch when they need to inspect one.
type BundleEntry struct {
	Resource any `json:"resource"`
}

// Patient is the minimal R4 Patient resource this system emits.
type Patient struct {
	ResourceType string             `json:"resourceType"`
	Name         []HumanName        `json:"name,omitempty"`
	Identifier   []Identifier       `json:"identifier,omitempty"`
}

type HumanName struct {
	Given  []string `json:"given,omitempty"`
	Family string   `json:"family,omitempty"`
}

type Identifier struct {
	Value string `json:"value"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

type Quantity struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

type ObservationReferenceRange struct {
	Low  *Quantity `json:"low,omitempty"`
	High *Quantity `json:"high,omitempty"`
	Text string    `json:"text,omitempty"`
}

// Observation is the minimal R4 Observation resource. ValueQuantity and
// ValueString are mutually exclusive — Build never sets both, and
// Validate rejects a bundle where both (or neither) are present.
type Observation struct {
	ResourceType    string                      `json:"resourceType"`
	Status          string                      `json:"status"`
	Category        []CodeableConcept           `json:"category,omitempty"`
	Code            CodeableConcept             `json:"code"`
	ValueQuantity   *Quantity                   `json:"valueQuantity,omitempty"`
	ValueString     string                      `json:"valueString,omitempty"`
	ReferenceRange  []ObservationReferenceRange `json:"referenceRange,omitempty"`
	Interpretation  []CodeableConcept           `json:"interpretation,omitempty"`
}

// MedicationRequest is the minimal R4 MedicationRequest resource.
type MedicationRequest struct {
	ResourceType            string          `json:"resourceType"`
	Status                  string          `json:"status"`
	MedicationCodeableConcept CodeableConcept `json:"medicationCodeableConcept"`
	DosageInstruction       []DosageInstruction `json:"dosageInstruction,omitempty"`
	AuthoredOn              string          `json:"authoredOn,omitempty"`
}

type DosageInstruction struct {
	Text string `json:"text"`
}

const unitsOfMeasureSystem = "http://unitsofmeasure.org"
const loincSystem = "http://loinc.org"

func categoryFor(modality datatypes.Modality) string {
	switch modality {
	case datatypes.ModalityLab:
		return "laboratory"
	case datatypes.ModalityRadiology:
		return "imaging"
	case datatypes.ModalityVitals:
		return "vital-signs"
	default:
		return "laboratory"
	}
}

// Build assembles a collection Bundle from one sanitized extraction
// result. It never fails: rows with no usable content still produce an
// Observation with a text-only code rather than being dropped silently,
// so Validate is the single gate for bundle acceptance.
func Build(result datatypes.ExtractionResult) Bundle {
	var entries []BundleEntry

	entries = append(entries, BundleEntry{Resource: buildPatient(result.Patient)})

	category := categoryFor(result.Modality)
	for _, row := range result.Rows {
		if row.Medication != "" {
			entries = append(entries, BundleEntry{Resource: buildMedicationRequest(row)})
			continue
		}
		entries = append(entries, BundleEntry{Resource: buildObservation(row, category)})
	}

	return Bundle{ResourceType: "Bundle", Type: "collection", Entry: entries}
}

func buildPatient(identity datatypes.PatientIdentity) Patient {
	p := Patient{ResourceType: "Patient"}
	if identity.GivenName != "" || identity.FamilyName != "" {
		p.Name = []HumanName{{Family: identity.FamilyName}}
		if identity.GivenName != "" {
			p.Name[0].Given = []string{identity.GivenName}
		}
	}
	if identity.Identifier != "" {
		p.Identifier = []Identifier{{Value: identity.Identifier}}
	}
	return p
}

func buildObservation(row datatypes.ExtractedRow, category string) Observation {
	obs := Observation{
		ResourceType: "Observation",
		Status:       "final",
		Category:     []CodeableConcept{{Coding: []Coding{{System: "http://terminology.hl7.org/CodeSystem/observation-category", Code: category}}}},
		Code:         codeFor(row.TestName),
	}

	if row.IsNumeric && row.Unit != "" {
		obs.ValueQuantity = &Quantity{Value: row.Value, Unit: row.Unit, System: unitsOfMeasureSystem, Code: row.Unit}
	} else if row.IsNumeric {
		obs.ValueString = formatNumeric(row.Value)
	} else {
		obs.ValueString = row.StringValue
	}

	if rng, ok := buildReferenceRange(row.ReferenceRange, row.Unit); ok {
		obs.ReferenceRange = []ObservationReferenceRange{rng}
	}

	if row.Flag != datatypes.FlagNone {
		obs.Interpretation = []CodeableConcept{{Coding: []Coding{{Code: string(row.Flag)}}}}
	}

	return obs
}

func formatNumeric(v float64) string {
	return fmt.Sprintf("%g", v)
}

func codeFor(testName string) CodeableConcept {
	if testName == "" {
		return CodeableConcept{Text: "Unknown"}
	}
	if loinc, ok := terminology.LOINCFor(testName); ok {
		return CodeableConcept{
			Coding: []Coding{{System: loincSystem, Code: loinc, Display: testName}},
			Text:   testName,
		}
	}
	return CodeableConcept{Text: testName}
}

func buildReferenceRange(rr datatypes.ReferenceRange, unit string) (ObservationReferenceRange, bool) {
	if rr.HasLow && rr.HasHigh {
		out := ObservationReferenceRange{}
		if unit != "" {
			out.Low = &Quantity{Value: *rr.Low, Unit: unit, System: unitsOfMeasureSystem, Code: unit}
			out.High = &Quantity{Value: *rr.High, Unit: unit, System: unitsOfMeasureSystem, Code: unit}
		} else {
			out.Text = rr.Text
		}
		return out, true
	}
	if rr.Text != "" {
		return ObservationReferenceRange{Text: rr.Text}, true
	}
	return ObservationReferenceRange{}, false
}

func buildMedicationRequest(row datatypes.ExtractedRow) MedicationRequest {
	mr := MedicationRequest{
		ResourceType:              "MedicationRequest",
		Status:                    "active",
		MedicationCodeableConcept: CodeableConcept{Text: row.Medication},
		AuthoredOn:                row.AuthoredOn,
	}
	if row.Dosage != "" || row.Frequency != "" || row.Duration != "" {
		mr.DosageInstruction = []DosageInstruction{{Text: joinDosage(row.Dosage, row.Frequency, row.Duration)}}
	}
	return mr
}

func joinDosage(dosage, frequency, duration string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{dosage, frequency, duration} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// FallbackBundle builds the safety-mode bundle C7 emits when repair
// attempts are exhausted: a Patient-only (when identity exists) bundle
// plus a single annotation Observation flagging degraded extraction.
func FallbackBundle(identity datatypes.PatientIdentity, reason string) Bundle {
	entries := []BundleEntry{{Resource: buildPatient(identity)}}
	entries = append(entries, BundleEntry{Resource: Observation{
		ResourceType: "Observation",
		Status:       "final",
		Code:         CodeableConcept{Text: "Extraction Degraded"},
		ValueString:  reason,
	}})
	return Bundle{ResourceType: "Bundle", Type: "collection", Entry: entries}
}

// Validate enforces the minimal R4 compliance rules from §4.6:
// value-type exclusivity, exactly one Patient, non-empty code text, and
// ISO-8601 dates where present. It returns the path of the first
// violation found, or "" when the bundle is valid.
func Validate(b Bundle) string {
	if b.ResourceType != "Bundle" {
		return "resourceType"
	}
	patientCount := 0
	for i, entry := range b.Entry {
		switch res := entry.Resource.(type) {
		case Patient:
			patientCount++
			if res.ResourceType != "Patient" {
				return fmt.Sprintf("entry[%d].resourceType", i)
			}
		case Observation:
			if path := validateObservation(res, i); path != "" {
				return path
			}
		case MedicationRequest:
			if res.ResourceType != "MedicationRequest" {
				return fmt.Sprintf("entry[%d].resourceType", i)
			}
			if res.MedicationCodeableConcept.Text == "" {
				return fmt.Sprintf("entry[%d].medicationCodeableConcept.text", i)
			}
			if res.AuthoredOn != "" && !isISO8601(res.AuthoredOn) {
				return fmt.Sprintf("entry[%d].authoredOn", i)
			}
		default:
			return fmt.Sprintf("entry[%d].resourceType", i)
		}
	}
	if patientCount != 1 {
		return "entry[].resourceType=Patient"
	}
	return ""
}

// isISO8601 accepts either a date or a full date-time, delegating the
// actual parsing to strfmt's wire formats rather than hand-rolling a
// regex.
func isISO8601(raw string) bool {
	var d strfmt.Date
	if err := d.UnmarshalText([]byte(raw)); err == nil {
		return true
	}
	var dt strfmt.DateTime
	return dt.UnmarshalText([]byte(raw)) == nil
}

func validateObservation(obs Observation, idx int) string {
	if obs.ResourceType != "Observation" {
		return fmt.Sprintf("entry[%d].resourceType", idx)
	}
	hasQuantity := obs.ValueQuantity != nil
	hasString := obs.ValueString != ""
	if hasQuantity == hasString {
		return fmt.Sprintf("entry[%d].value[x]", idx)
	}
	if obs.Code.Text == "" && len(obs.Code.Coding) == 0 {
		return fmt.Sprintf("entry[%d].code", idx)
	}
	return ""
}
