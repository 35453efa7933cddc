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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilenameStripsPathAndUnsafeChars(t *testing.T) {
	require.Equal(t, "report.pdf", sanitizeFilename("report.pdf"))
	require.Equal(t, "etc_passwd", sanitizeFilename("../../etc/passwd"))
	require.Equal(t, "weird_name_.png", sanitizeFilename("weird name!.png"))
	require.Equal(t, "upload", sanitizeFilename(""))
}

func TestAdvisoryKeyIsStableAndDistinguishesIDs(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	require.Equal(t, advisoryKey(a), advisoryKey(a))
	require.NotEqual(t, advisoryKey(a), advisoryKey(b))
}

func TestRerunLocksSerializeSameID(t *testing.T) {
	locks := newRerunLocks()
	id := uuid.New()

	require.True(t, locks.tryLock(id))
	require.False(t, locks.tryLock(id), "second lock on the same id must fail while the first is held")

	locks.unlock(id)
	require.True(t, locks.tryLock(id), "lock must be reacquirable after unlock")
}

func TestRerunLocksDoNotContendAcrossIDs(t *testing.T) {
	locks := newRerunLocks()
	a, b := uuid.New(), uuid.New()

	require.True(t, locks.tryLock(a))
	require.True(t, locks.tryLock(b), "locks on distinct ids must not contend (§5: no lock across submissions)")
}

func TestResolveFileRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	s := &Store{filesDir: dir}

	_, err := s.ResolveFile("../../etc/passwd")
	require.Error(t, err)

	_, err = s.ResolveFile("nonexistent/file.png")
	require.Error(t, err)
}
