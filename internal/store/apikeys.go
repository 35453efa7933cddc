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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/veriscribe/ingestor/internal/auth"
	"github.com/veriscribe/ingestor/internal/ingestorerr"
)

// InsertAPIKey implements auth.Store.
func (s *Store) InsertAPIKey(ctx context.Context, key auth.APIKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (key, name, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, key.Key, key.Name, string(key.Role), key.IsActive)
	if err != nil {
		return ingestorerr.StorageError("could not persist API key", err)
	}
	return nil
}

// LookupAPIKey implements auth.Store.
func (s *Store) LookupAPIKey(ctx context.Context, key string) (auth.APIKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, name, role, is_active, created_at, last_used_at
		FROM api_keys WHERE key = $1
	`, key)
	var (
		k        auth.APIKey
		role     string
		lastUsed *time.Time
	)
	if err := row.Scan(&k.Key, &k.Name, &role, &k.IsActive, &k.CreatedAt, &lastUsed); err != nil {
		if err == pgx.ErrNoRows {
			return auth.APIKey{}, ingestorerr.AuthError("unknown API key")
		}
		return auth.APIKey{}, ingestorerr.StorageError("could not look up API key", err)
	}
	k.Role = auth.Role(role)
	if lastUsed != nil {
		k.LastUsedAt = *lastUsed
	}
	return k, nil
}

// TouchLastUsed implements auth.Store. It is fire-and-forget per §4.9
// ("updates last_used_at asynchronously, best-effort"); a failure here
// must never surface to the caller that already authorized.
func (s *Store) TouchLastUsed(ctx context.Context, key string, at time.Time) {
	_, _ = s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE key = $1`, key, at)
}

// DeactivateAPIKey supports the admin-only revoke path; it is not wired
// to an HTTP route in the default surface (§4.10 exposes registration
// only); its caller is the keyctl revoke command.
func (s *Store) DeactivateAPIKey(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET is_active = false WHERE key = $1`, key)
	if err != nil {
		return ingestorerr.StorageError("could not deactivate API key", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestorerr.NotFound("API key not found")
	}
	return nil
}
