// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	keys      map[string]APIKey
	touched   map[string]time.Time
	touchedCh chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:      make(map[string]APIKey),
		touched:   make(map[string]time.Time),
		touchedCh: make(chan struct{}, 16),
	}
}

func (f *fakeStore) InsertAPIKey(ctx context.Context, key APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key.Key] = key
	return nil
}

func (f *fakeStore) LookupAPIKey(ctx context.Context, key string) (APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[key]
	if !ok {
		return APIKey{}, ErrRevoked
	}
	return k, nil
}

func (f *fakeStore) TouchLastUsed(ctx context.Context, key string, at time.Time) {
	f.mu.Lock()
	f.touched[key] = at
	f.mu.Unlock()
	f.touchedCh <- struct{}{}
}

func TestRegisterThenVerify(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, "")

	key, err := svc.Register(context.Background(), "front-desk")
	require.NoError(t, err)
	require.Contains(t, key.Key, "sk-")
	require.Len(t, key.Key, 67) // "sk-" + 64 hex chars

	verified, err := svc.Verify(context.Background(), key.Key)
	require.NoError(t, err)
	require.Equal(t, RoleFrontend, verified.Role)

	select {
	case <-store.touchedCh:
	case <-time.After(time.Second):
		t.Fatal("TouchLastUsed was not called within 1s")
	}
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	svc := NewService(newFakeStore(), "")
	_, err := svc.Verify(context.Background(), "sk-doesnotexist")
	require.Error(t, err)
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	svc := NewService(newFakeStore(), "")
	_, err := svc.Verify(context.Background(), "")
	require.Error(t, err)
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, "")
	key, err := svc.Register(context.Background(), "temp")
	require.NoError(t, err)

	store.mu.Lock()
	revoked := store.keys[key.Key]
	revoked.IsActive = false
	store.keys[key.Key] = revoked
	store.mu.Unlock()

	_, err = svc.Verify(context.Background(), key.Key)
	require.Error(t, err)
}

func TestVerifyAcceptsMasterKey(t *testing.T) {
	svc := NewService(newFakeStore(), "super-secret-master")
	key, err := svc.Verify(context.Background(), "super-secret-master")
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, key.Role)
}

func TestVerifyRejectsWrongMasterKey(t *testing.T) {
	svc := NewService(newFakeStore(), "super-secret-master")
	_, err := svc.Verify(context.Background(), "wrong-guess")
	require.Error(t, err)
}

func TestDescribeNeverLeaksKeyMaterial(t *testing.T) {
	desc := Describe(APIKey{Key: "sk-shouldnotappear", Role: RoleFrontend, IsActive: true})
	require.NotContains(t, desc, "sk-shouldnotappear")
}
