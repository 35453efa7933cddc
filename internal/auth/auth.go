// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth issues and verifies the bearer API keys C10's middleware
// checks on every request but /auth/register. A configured master key
// is held in memguard-sealed memory the same way the orchestrator
// service keeps streamed tokens out of swap (§4.9).
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/veriscribe/ingestor/internal/ingestorerr"
)

// Role scopes what an API key may do. Only "admin" (the configured
// master key) may call operator-only endpoints in a future surface;
// every key minted by Register is "frontend".
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleFrontend Role = "frontend"
	RoleService  Role = "service"
	RoleInternal Role = "internal"
)

// APIKey is one row of the api_keys table (§6).
type APIKey struct {
	Key        string
	Name       string
	Role       Role
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store is the persistence contract auth needs from internal/store,
// kept narrow so this package never imports the storage layer
// directly (it would otherwise create an import cycle, since store
// needs auth's constant-time verify for nothing — this is one-way).
type Store interface {
	InsertAPIKey(ctx context.Context, key APIKey) error
	LookupAPIKey(ctx context.Context, key string) (APIKey, error)
	TouchLastUsed(ctx context.Context, key string, at time.Time)
}

// ErrRevoked marks a key that exists but is no longer active.
var ErrRevoked = errors.New("auth: key revoked")

// Service issues and verifies API keys. The master key, when
// configured, is sealed in memguard memory for the process lifetime
// and never appears in a log line or error message.
type Service struct {
	store  Store
	master *memguard.Enclave
}

// NewService builds a Service. masterKey may be empty, disabling the
// admin-override verification path.
func NewService(store Store, masterKey string) *Service {
	s := &Service{store: store}
	if masterKey != "" {
		s.master = memguard.NewEnclave([]byte(masterKey))
	}
	return s
}

// Register mints a new frontend-role API key: "sk-" followed by 32
// random bytes hex-encoded (64 hex characters), per §4.9.
func (s *Service) Register(ctx context.Context, name string) (APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return APIKey{}, ingestorerr.StorageError("could not generate API key", err)
	}
	key := APIKey{
		Key:       "sk-" + hex.EncodeToString(raw),
		Name:      name,
		Role:      RoleFrontend,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return APIKey{}, ingestorerr.StorageError("could not persist API key", err)
	}
	return key, nil
}

// Verify checks token against the configured master key first, then
// falls back to a store lookup. Both branches perform a full
// constant-time comparison regardless of where the mismatch occurs —
// §8 property 8 requires no early-out on a partial match.
func (s *Service) Verify(ctx context.Context, token string) (APIKey, error) {
	if token == "" {
		return APIKey{}, ingestorerr.AuthError("missing bearer token")
	}

	if s.master != nil {
		buf, err := s.master.Open()
		if err == nil {
			matches := constantTimeEqual(buf.Bytes(), []byte(token))
			buf.Destroy()
			if matches {
				return APIKey{Key: "<master>", Role: RoleAdmin, IsActive: true}, nil
			}
		}
	}

	if s.store == nil {
		return APIKey{}, ingestorerr.AuthError("invalid or unknown API key")
	}
	key, err := s.store.LookupAPIKey(ctx, token)
	if err != nil {
		return APIKey{}, ingestorerr.AuthError("invalid or unknown API key")
	}
	if !constantTimeEqual([]byte(key.Key), []byte(token)) {
		return APIKey{}, ingestorerr.AuthError("invalid or unknown API key")
	}
	if !key.IsActive {
		return APIKey{}, ingestorerr.AuthError(ErrRevoked.Error())
	}

	// Best-effort: a slow or failed last_used_at update must never
	// block or fail the request it's auditing.
	go s.store.TouchLastUsed(context.Background(), key.Key, time.Now())

	return key, nil
}

// constantTimeEqual runs a full-length comparison regardless of an
// early byte mismatch. subtle.ConstantTimeCompare returns 0 immediately
// for inputs of unequal length, so on a length mismatch this function
// first runs a same-length dummy comparison over len(a) bytes and then
// returns false.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		// Still perform a same-cost comparison against a dummy of equal
		// length to avoid leaking the valid key's length through an
		// instant false branch.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare(dummy, dummy)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Describe is a small formatting helper for log lines: it must never
// print the key material itself, only whether one was present and its
// role.
func Describe(key APIKey) string {
	return fmt.Sprintf("role=%s active=%t", key.Role, key.IsActive)
}
