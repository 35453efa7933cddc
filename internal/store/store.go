// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the transactional boundary between the pipeline and
// a SQL-capable database (§4.8). Original files land on disk first;
// the database row that references them is written in one commit, so
// a crash between the two leaves an orphan file the janitor reclaims
// rather than a dangling row.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veriscribe/ingestor/internal/fhir"
	"github.com/veriscribe/ingestor/internal/ingestorerr"
)

// Submission is one row of the submissions table (§6).
type Submission struct {
	ID            uuid.UUID
	PatientID     string
	Filename      string
	ImageURL      string
	Status        string
	FHIRBundle    []byte
	RawExtraction string
	DoctorNotes   string
	AISummary     string
	CreatedAt     time.Time
}

// PatientSummary is one row of list_patients().
type PatientSummary struct {
	PatientID   string
	FileCount   int
	LastUpdated time.Time
}

// StoredFile records where one uploaded original landed on disk,
// relative to FilesDir, for later reread by rerun or the file-serving
// endpoint.
type StoredFile struct {
	RelPath string
	AbsPath string
}

// Store wraps a pgx connection pool and the on-disk files directory.
// Every call takes a context so cancellation observed at the HTTP
// layer propagates into the query and, on a write path, rolls the
// transaction back (§5 cancellation semantics).
type Store struct {
	pool     *pgxpool.Pool
	filesDir string
	locks    *rerunLocks
}

// Open connects to dsn and ensures filesDir exists. It does not create
// the schema; callers run Migrate after Open for that.
func Open(ctx context.Context, dsn, filesDir string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create files directory %s: %w", filesDir, err)
	}
	return &Store{pool: pool, filesDir: filesDir, locks: newRerunLocks()}, nil
}

// Close releases the connection pool. It does not touch the files
// directory.
func (s *Store) Close() {
	s.pool.Close()
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	cleaned := unsafeFilenameChars.ReplaceAllString(base, "_")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}

// WriteFiles persists each of contents under a per-submission
// directory named by id, using the `{submission_id}_{index}_{sanitized_original}`
// naming scheme from §5 to prevent collisions. It returns one
// StoredFile per input, in order, or the first write error (whatever
// was already written on disk is left for the janitor).
func (s *Store) WriteFiles(id uuid.UUID, originalNames []string, contents [][]byte) ([]StoredFile, error) {
	if len(originalNames) != len(contents) {
		return nil, ingestorerr.ClientError("mismatched file name/content counts", nil)
	}
	dir := filepath.Join(s.filesDir, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ingestorerr.StorageError("could not create upload directory", err)
	}
	out := make([]StoredFile, 0, len(originalNames))
	for i, name := range originalNames {
		filename := fmt.Sprintf("%s_%d_%s", id.String(), i, sanitizeFilename(name))
		abs := filepath.Join(dir, filename)
		if err := os.WriteFile(abs, contents[i], 0o644); err != nil {
			return nil, ingestorerr.StorageError("could not write uploaded file", err)
		}
		rel, err := filepath.Rel(s.filesDir, abs)
		if err != nil {
			rel = filename
		}
		out = append(out, StoredFile{RelPath: rel, AbsPath: abs})
	}
	return out, nil
}

// ListFiles returns the originals previously written for id, sorted by
// the index embedded in their filename, so rerun can re-read them in
// upload order without a second database round trip.
func (s *Store) ListFiles(id uuid.UUID) ([]StoredFile, error) {
	dir := filepath.Join(s.filesDir, id.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ingestorerr.StorageError("could not list stored files", err)
	}
	out := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		abs := filepath.Join(dir, e.Name())
		rel, err := filepath.Rel(s.filesDir, abs)
		if err != nil {
			rel = e.Name()
		}
		out = append(out, StoredFile{RelPath: rel, AbsPath: abs})
	}
	return out, nil
}

// ResolveFile joins relPath against the files directory and refuses
// any path that escapes it, the path-traversal guard the file-serving
// endpoint (§6) requires.
func (s *Store) ResolveFile(relPath string) (string, error) {
	cleaned := filepath.Clean("/" + relPath)[1:]
	abs := filepath.Join(s.filesDir, cleaned)
	rootWithSep := filepath.Clean(s.filesDir) + string(filepath.Separator)
	if !strings.HasPrefix(abs, rootWithSep) {
		return "", ingestorerr.ClientError("path escapes files directory", nil)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", ingestorerr.NotFound("file not found")
	}
	return abs, nil
}

// InsertParams is what CreateSubmission needs to write the initial row
// (§4.8: "insert Submission row with bundle + raw extraction + initial
// empty notes/summary").
type InsertParams struct {
	ID            uuid.UUID
	PatientID     string
	Filename      string
	ImageURL      string
	Status        string
	FHIRBundle    fhir.Bundle
	RawExtraction string
}

// CreateSubmission persists the files-already-written submission in a
// single transaction. If ctx is cancelled before the commit, no row is
// inserted (§8 property 9) — the transaction is rolled back and the
// already-written files are left for the janitor.
func (s *Store) CreateSubmission(ctx context.Context, p InsertParams) (Submission, error) {
	bundleJSON, err := marshalBundle(p.FHIRBundle)
	if err != nil {
		return Submission{}, ingestorerr.StorageError("could not marshal FHIR bundle", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Submission{}, ingestorerr.StorageError("could not begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO submissions (id, patient_id, filename, image_url, status, fhir_bundle, raw_extraction, doctor_notes, ai_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '')
		RETURNING created_at
	`, p.ID, p.PatientID, p.Filename, p.ImageURL, p.Status, bundleJSON, p.RawExtraction).Scan(&createdAt)
	if err != nil {
		return Submission{}, ingestorerr.StorageError("could not insert submission", err)
	}

	if ctx.Err() != nil {
		return Submission{}, ctx.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return Submission{}, ingestorerr.StorageError("could not commit submission", err)
	}

	return Submission{
		ID: p.ID, PatientID: p.PatientID, Filename: p.Filename, ImageURL: p.ImageURL,
		Status: p.Status, FHIRBundle: bundleJSON, RawExtraction: p.RawExtraction, CreatedAt: createdAt,
	}, nil
}

// UpdateAfterRerun replaces the bundle and raw extraction and bumps
// created_at, per §4.8's "smart rerun" semantics (§9 design note: this
// is a deliberate choice to surface reprocessed records at the top of
// the clinician's timeline rather than leaving them in original
// position).
func (s *Store) UpdateAfterRerun(ctx context.Context, id uuid.UUID, bundle fhir.Bundle, rawExtraction, status string) (time.Time, error) {
	bundleJSON, err := marshalBundle(bundle)
	if err != nil {
		return time.Time{}, ingestorerr.StorageError("could not marshal FHIR bundle", err)
	}
	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `
		UPDATE submissions
		SET fhir_bundle = $2, raw_extraction = $3, status = $4, created_at = now()
		WHERE id = $1
		RETURNING created_at
	`, id, bundleJSON, rawExtraction, status).Scan(&createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, ingestorerr.NotFound("submission not found")
		}
		return time.Time{}, ingestorerr.StorageError("could not update submission after rerun", err)
	}
	return createdAt, nil
}

// SaveNotes updates only doctor_notes (§4.8: "no pipeline invocation").
func (s *Store) SaveNotes(ctx context.Context, id uuid.UUID, notes string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE submissions SET doctor_notes = $2 WHERE id = $1`, id, notes)
	if err != nil {
		return ingestorerr.StorageError("could not save notes", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestorerr.NotFound("submission not found")
	}
	return nil
}

// SaveSummary updates only ai_summary, after C7's caller has already
// invoked the synthesis prompt.
func (s *Store) SaveSummary(ctx context.Context, id uuid.UUID, summary string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE submissions SET ai_summary = $2 WHERE id = $1`, id, summary)
	if err != nil {
		return ingestorerr.StorageError("could not save summary", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestorerr.NotFound("submission not found")
	}
	return nil
}

// Get fetches one submission by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Submission, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, filename, image_url, status, fhir_bundle, raw_extraction, doctor_notes, ai_summary, created_at
		FROM submissions WHERE id = $1
	`, id)
	var sub Submission
	if err := row.Scan(&sub.ID, &sub.PatientID, &sub.Filename, &sub.ImageURL, &sub.Status,
		&sub.FHIRBundle, &sub.RawExtraction, &sub.DoctorNotes, &sub.AISummary, &sub.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Submission{}, ingestorerr.NotFound("submission not found")
		}
		return Submission{}, ingestorerr.StorageError("could not fetch submission", err)
	}
	return sub, nil
}

// ListRecent returns the most recent submissions, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, filename, image_url, status, fhir_bundle, raw_extraction, doctor_notes, ai_summary, created_at
		FROM submissions ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, ingestorerr.StorageError("could not list submissions", err)
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// PatientHistory returns every submission for patientID, newest first.
func (s *Store) PatientHistory(ctx context.Context, patientID string) ([]Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, filename, image_url, status, fhir_bundle, raw_extraction, doctor_notes, ai_summary, created_at
		FROM submissions WHERE patient_id = $1 ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, ingestorerr.StorageError("could not fetch patient history", err)
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// ListPatients groups submissions by patient_id (§4.8).
func (s *Store) ListPatients(ctx context.Context) ([]PatientSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT patient_id, count(*), max(created_at)
		FROM submissions GROUP BY patient_id ORDER BY max(created_at) DESC
	`)
	if err != nil {
		return nil, ingestorerr.StorageError("could not list patients", err)
	}
	defer rows.Close()

	var out []PatientSummary
	for rows.Next() {
		var p PatientSummary
		if err := rows.Scan(&p.PatientID, &p.FileCount, &p.LastUpdated); err != nil {
			return nil, ingestorerr.StorageError("could not scan patient row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSubmissions(rows pgx.Rows) ([]Submission, error) {
	var out []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.PatientID, &sub.Filename, &sub.ImageURL, &sub.Status,
			&sub.FHIRBundle, &sub.RawExtraction, &sub.DoctorNotes, &sub.AISummary, &sub.CreatedAt); err != nil {
			return nil, ingestorerr.StorageError("could not scan submission row", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// advisoryKey folds a UUID down to an int64 for pg_try_advisory_lock,
// which only accepts bigint keys. FNV-1a gives a stable, well-mixed
// key without pulling in a second hash dependency.
func advisoryKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.String()))
	return int64(h.Sum64())
}

// TryLockRerun attempts the database-level advisory lock backing
// cross-process rerun serialization, and the in-process map backing
// same-process serialization (both are needed: §5 specifies the lock
// is keyed by submission id with no cross-submission contention).
func (s *Store) TryLockRerun(ctx context.Context, id uuid.UUID) (func(), bool, error) {
	if !s.locks.tryLock(id) {
		return nil, false, nil
	}
	var locked bool
	key := advisoryKey(id)
	if err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		s.locks.unlock(id)
		return nil, false, ingestorerr.StorageError("could not acquire advisory lock", err)
	}
	if !locked {
		s.locks.unlock(id)
		return nil, false, nil
	}
	release := func() {
		_, _ = s.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		s.locks.unlock(id)
	}
	return release, true, nil
}

// rerunLocks is the in-process half of the rerun lock; it protects
// against two goroutines on the same instance racing the advisory
// lock's acquire/scan round trip before either holds it.
type rerunLocks struct {
	ch chan struct{}
	m  map[uuid.UUID]struct{}
}

func newRerunLocks() *rerunLocks {
	return &rerunLocks{ch: make(chan struct{}, 1), m: make(map[uuid.UUID]struct{})}
}

func (l *rerunLocks) tryLock(id uuid.UUID) bool {
	l.ch <- struct{}{}
	defer func() { <-l.ch }()
	if _, busy := l.m[id]; busy {
		return false
	}
	l.m[id] = struct{}{}
	return true
}

func (l *rerunLocks) unlock(id uuid.UUID) {
	l.ch <- struct{}{}
	delete(l.m, id)
	<-l.ch
}

func marshalBundle(b fhir.Bundle) ([]byte, error) {
	return json.Marshal(b)
}
