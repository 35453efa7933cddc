// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fhir

import (
	"testing"

	"github.com/veriscribe/ingestor/internal/datatypes"
)

func numericRow(name string, value float64, unit string, low, high float64, flag datatypes.Flag) datatypes.ExtractedRow {
	l, h := low, high
	return datatypes.ExtractedRow{
		TestName:       name,
		IsNumeric:      true,
		Value:          value,
		Unit:           unit,
		ReferenceRange: datatypes.ReferenceRange{Low: &l, High: &h, HasLow: true, HasHigh: true},
		Flag:           flag,
	}
}

func TestBuildObservationValueExclusivity(t *testing.T) {
	result := datatypes.ExtractionResult{
		Modality: datatypes.ModalityLab,
		Patient:  datatypes.PatientIdentity{GivenName: "Jane", FamilyName: "Smith", Identifier: "MRN-1"},
		Rows: []datatypes.ExtractedRow{
			numericRow("Hemoglobin", 13.2, "g/dL", 12.0, 15.5, datatypes.FlagNormal),
			{TestName: "Finding", StringValue: "mild cardiomegaly"},
		},
	}
	bundle := Build(result)
	if violation := Validate(bundle); violation != "" {
		t.Fatalf("expected valid bundle, got violation at %s", violation)
	}

	obsCount := 0
	for _, e := range bundle.Entry {
		if obs, ok := e.Resource.(Observation); ok {
			obsCount++
			hasQ := obs.ValueQuantity != nil
			hasS := obs.ValueString != ""
			if hasQ == hasS {
				t.Fatalf("expected exactly one of valueQuantity/valueString, got %+v", obs)
			}
		}
	}
	if obsCount != 2 {
		t.Fatalf("expected 2 observations, got %d", obsCount)
	}
}

func TestBuildExactlyOnePatient(t *testing.T) {
	bundle := Build(datatypes.ExtractionResult{Modality: datatypes.ModalityLab})
	count := 0
	for _, e := range bundle.Entry {
		if _, ok := e.Resource.(Patient); ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one patient entry, got %d", count)
	}
}

func TestBuildAttachesLOINCWhenKnown(t *testing.T) {
	result := datatypes.ExtractionResult{
		Modality: datatypes.ModalityLab,
		Rows:     []datatypes.ExtractedRow{numericRow("Hemoglobin", 13.2, "g/dL", 12.0, 15.5, datatypes.FlagNormal)},
	}
	bundle := Build(result)
	obs := bundle.Entry[1].Resource.(Observation)
	if len(obs.Code.Coding) == 0 || obs.Code.Coding[0].Code != "718-7" {
		t.Fatalf("expected LOINC 718-7 attached, got %+v", obs.Code)
	}
}

func TestBuildFallsBackToCodeTextWhenUnknown(t *testing.T) {
	result := datatypes.ExtractionResult{
		Modality: datatypes.ModalityLab,
		Rows:     []datatypes.ExtractedRow{numericRow("Some Unlisted Marker", 1, "", 0, 0, datatypes.FlagNone)},
	}
	bundle := Build(result)
	obs := bundle.Entry[1].Resource.(Observation)
	if obs.Code.Text != "Some Unlisted Marker" || len(obs.Code.Coding) != 0 {
		t.Fatalf("expected text-only code, got %+v", obs.Code)
	}
}

func TestValidateRejectsBothValuesPresent(t *testing.T) {
	bundle := Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry: []BundleEntry{
			{Resource: Patient{ResourceType: "Patient"}},
			{Resource: Observation{ResourceType: "Observation", Status: "final", Code: CodeableConcept{Text: "x"}, ValueQuantity: &Quantity{Value: 1}, ValueString: "1"}},
		},
	}
	if violation := Validate(bundle); violation == "" {
		t.Fatal("expected a violation when both value types are present")
	}
}

func TestValidateRejectsMultiplePatients(t *testing.T) {
	bundle := Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry: []BundleEntry{
			{Resource: Patient{ResourceType: "Patient"}},
			{Resource: Patient{ResourceType: "Patient"}},
		},
	}
	if violation := Validate(bundle); violation == "" {
		t.Fatal("expected a violation with two patients")
	}
}

func TestFallbackBundleIsValid(t *testing.T) {
	bundle := FallbackBundle(datatypes.PatientIdentity{FamilyName: "Doe"}, "extraction exhausted retries")
	if violation := Validate(bundle); violation != "" {
		t.Fatalf("expected fallback bundle to validate, got %s", violation)
	}
}

func TestBuildMedicationRequest(t *testing.T) {
	result := datatypes.ExtractionResult{
		Modality: datatypes.ModalityPrescription,
		Rows: []datatypes.ExtractedRow{
			{Medication: "Amoxicillin 500mg", Dosage: "1 tab", Frequency: "bid", Duration: "7 days"},
		},
	}
	bundle := Build(result)
	mr, ok := bundle.Entry[1].Resource.(MedicationRequest)
	if !ok {
		t.Fatalf("expected MedicationRequest entry, got %T", bundle.Entry[1].Resource)
	}
	if mr.MedicationCodeableConcept.Text != "Amoxicillin 500mg" {
		t.Fatalf("unexpected medication text: %+v", mr.MedicationCodeableConcept)
	}
	if len(mr.DosageInstruction) != 1 || mr.DosageInstruction[0].Text != "1 tab, bid, 7 days" {
		t.Fatalf("unexpected dosage instruction: %+v", mr.DosageInstruction)
	}
}
