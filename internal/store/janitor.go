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
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const orphanAge = time.Hour

// SweepOrphanFiles deletes per-submission directories under FilesDir
// that are older than orphanAge and have no matching submissions row
// (§4.8: "files are reaped by a janitor on next startup"). It is meant
// to run once, synchronously, before the HTTP surface starts accepting
// traffic.
func (s *Store) SweepOrphanFiles(ctx context.Context) error {
	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			continue // not a submission directory, leave it alone
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < orphanAge {
			continue
		}

		var exists bool
		err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)`, id).Scan(&exists)
		if err != nil || exists {
			continue
		}

		_ = os.RemoveAll(filepath.Join(s.filesDir, entry.Name()))
	}
	return nil
}
