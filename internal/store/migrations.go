// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
)

const createSubmissionsTable = `
CREATE TABLE IF NOT EXISTS submissions (
	id UUID PRIMARY KEY,
	patient_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	image_url TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('completed', 'partial', 'failed')),
	fhir_bundle JSONB NOT NULL,
	raw_extraction TEXT NOT NULL DEFAULT '',
	doctor_notes TEXT NOT NULL DEFAULT '',
	ai_summary TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createSubmissionsPatientIndex = `
CREATE INDEX IF NOT EXISTS submissions_patient_id_idx ON submissions (patient_id, created_at DESC);`

const createAPIKeysTable = `
CREATE TABLE IF NOT EXISTS api_keys (
	key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at TIMESTAMPTZ
);`

var migrations = []string{
	createSubmissionsTable,
	createSubmissionsPatientIndex,
	createAPIKeysTable,
}

// Migrate applies every migration statement, each individually
// idempotent via CREATE ... IF NOT EXISTS, the same pattern the rest
// of the pack uses for Postgres schema setup.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
