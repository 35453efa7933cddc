// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veriscribe/ingestor/internal/fhir"
	"github.com/veriscribe/ingestor/internal/firewall"
	"github.com/veriscribe/ingestor/internal/llm"
)

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

func TestRunPlateletScalingScenario(t *testing.T) {
	fake := &llm.Fake{Responses: []llm.FakeResponse{
		{Text: "LAB"},
		{Text: "TEST\tVALUE\tUNIT\tRANGE\tFLAG\nPlatelet Count\t370\t/uL\t150-450\tL\n"},
	}}
	outcome, err := Run(context.Background(), fake, nil, Config{}, nil, nopLogger{})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, outcome.Status)

	obs, ok := findObservation(outcome.Bundle, "Platelet Count")
	require.True(t, ok)
	require.NotNil(t, obs.ValueQuantity)
	require.Equal(t, 370000.0, obs.ValueQuantity.Value)
	require.Equal(t, "/uL", obs.ValueQuantity.Unit)
	require.Len(t, obs.Interpretation, 1)
	require.Equal(t, "N", obs.Interpretation[0].Coding[0].Code)
}

func TestRunMPVSwapScenario(t *testing.T) {
	fake := &llm.Fake{Responses: []llm.FakeResponse{
		{Text: "LAB"},
		{Text: "TEST\tVALUE\tUNIT\tRANGE\tFLAG\nPlatelet Count\t9.2\t10^3/uL\t150-450\nMPV\t250\tfL\t6-12\n"},
	}}
	outcome, err := Run(context.Background(), fake, nil, Config{}, nil, nopLogger{})
	require.NoError(t, err)

	plt, ok := findObservation(outcome.Bundle, "Platelet Count")
	require.True(t, ok)
	require.Equal(t, 250000.0, plt.ValueQuantity.Value)
	require.Equal(t, "/uL", plt.ValueQuantity.Unit)

	mpv, ok := findObservation(outcome.Bundle, "MPV")
	require.True(t, ok)
	require.Equal(t, 9.2, mpv.ValueQuantity.Value)
}

func TestRunIncompleteCBCExhaustsRepairBudgetToPartial(t *testing.T) {
	responses := []llm.FakeResponse{{Text: "LAB"}}
	for i := 0; i < 4; i++ {
		responses = append(responses, llm.FakeResponse{Text: "TEST\tVALUE\tUNIT\tRANGE\tFLAG\nHemoglobin\t13\tg/dL\t12.0-15.5\tN\n"})
	}
	fake := &llm.Fake{Responses: responses}
	cfg := Config{MaxAttempts: 3, Firewall: firewall.Config{StrictExtraction: true, RequireExpectedTests: true}}

	outcome, err := Run(context.Background(), fake, nil, cfg, nil, nopLogger{})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, outcome.Status)
	require.NotEmpty(t, outcome.RawExtraction)

	_, hasPatient := findPatient(outcome.Bundle)
	require.True(t, hasPatient)

	// classify(1) + initial extract(1) + repairs(3) == 5, the §8 property
	// 10 ceiling for default max_attempts.
	require.Len(t, fake.Calls, 5)
}

func TestRunPrescriptionScenario(t *testing.T) {
	fake := &llm.Fake{Responses: []llm.FakeResponse{
		{Text: "PRESCRIPTION"},
		{Text: `[{"medication":"Amoxicillin 500mg","dosage":"1 tab","frequency":"bid","duration":"7 days"}]`},
	}}
	outcome, err := Run(context.Background(), fake, nil, Config{}, nil, nopLogger{})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, outcome.Status)

	var mr *fhir.MedicationRequest
	for _, e := range outcome.Bundle.Entry {
		if r, ok := e.Resource.(fhir.MedicationRequest); ok {
			mr = &r
		}
	}
	require.NotNil(t, mr)
	require.Equal(t, "1 tab, bid, 7 days", mr.DosageInstruction[0].Text)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &llm.Fake{Responses: []llm.FakeResponse{{Text: "LAB"}}}
	_, err := Run(ctx, fake, nil, Config{}, nil, nopLogger{})
	require.Error(t, err)
}

func findObservation(b fhir.Bundle, testName string) (fhir.Observation, bool) {
	for _, e := range b.Entry {
		if obs, ok := e.Resource.(fhir.Observation); ok {
			if obs.Code.Text == testName {
				return obs, true
			}
			for _, c := range obs.Code.Coding {
				if c.Display == testName {
					return obs, true
				}
			}
		}
	}
	return fhir.Observation{}, false
}

func findPatient(b fhir.Bundle) (fhir.Patient, bool) {
	for _, e := range b.Entry {
		if p, ok := e.Resource.(fhir.Patient); ok {
			return p, true
		}
	}
	return fhir.Patient{}, false
}
