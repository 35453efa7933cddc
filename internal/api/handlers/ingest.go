// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veriscribe/ingestor/internal/fhir"
	"github.com/veriscribe/ingestor/internal/ingestorerr"
	"github.com/veriscribe/ingestor/internal/llm"
	"github.com/veriscribe/ingestor/internal/pipeline"
	"github.com/veriscribe/ingestor/internal/store"
)

// llmRetryAfterSeconds is the Retry-After hint sent with a 503 when the
// LLM endpoint failed an extraction call after its own retries; it
// matches the semaphore reject-after window from §5.
const llmRetryAfterSeconds = 30

// respondUpstreamUnavailable maps a pipeline.Run error to the
// cancellation-vs-transport-failure distinction §7 requires: a
// cancelled request context gets a plain 503 with no Retry-After, an
// LLM transport failure gets 503 with Retry-After set.
func respondUpstreamUnavailable(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
		return
	}
	wrapped := ingestorerr.UpstreamUnavailable("LLM endpoint unavailable", err, llmRetryAfterSeconds)
	if secs, ok := ingestorerr.RetryAfterSeconds(wrapped); ok {
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.JSON(ingestorerr.HTTPStatus(wrapped), gin.H{"error": "LLM endpoint unavailable"})
}

const maxIngestFiles = 8

var allowedIngestMIME = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
}

type ingestResponse struct {
	SubmissionID string      `json:"submission_id"`
	PatientID    string      `json:"patient_id"`
	DBPersisted  bool        `json:"db_persisted"`
	FHIRBundle   fhir.Bundle `json:"fhir_bundle"`
}

// Ingest handles POST /api/v1/ingest: stores the uploaded originals,
// runs the full pipeline, and persists the result (§4.7, §4.8, §6).
func Ingest(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		patientID := c.PostForm("patient_id")
		if patientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "patient_id is required"})
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse multipart form"})
			return
		}
		files := form.File["files"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
			return
		}
		if len(files) > maxIngestFiles {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("at most %d files allowed", maxIngestFiles)})
			return
		}

		names, contents, images, err := readUploads(files)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		submissionID := uuid.New()
		stored, err := d.Store.WriteFiles(submissionID, names, contents)
		if err != nil {
			d.Log.Error("failed to write uploaded files", "error", err, "submission_id", submissionID)
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not store uploaded files"})
			return
		}

		outcome, err := pipeline.Run(c.Request.Context(), d.LLM, images, d.pipelineConfig(), d.Metrics, pipelineLogger{d.Log})
		if err != nil {
			// Either the context was cancelled mid-pipeline or the LLM
			// endpoint failed the extraction call after its own retries;
			// either way no row is persisted (§8 property 9, §7
			// UpstreamUnavailable) and the already-written files are left
			// for the janitor.
			d.Log.Warn("pipeline run failed", "error", err, "submission_id", submissionID)
			respondUpstreamUnavailable(c, err)
			return
		}

		primaryImageURL := ""
		if len(stored) > 0 {
			primaryImageURL = stored[0].RelPath
		}

		sub, err := d.Store.CreateSubmission(c.Request.Context(), store.InsertParams{
			ID:            submissionID,
			PatientID:     patientID,
			Filename:      names[0],
			ImageURL:      primaryImageURL,
			Status:        string(outcome.Status),
			FHIRBundle:    outcome.Bundle,
			RawExtraction: outcome.RawExtraction,
		})
		if err != nil {
			d.Log.Error("failed to persist submission", "error", err, "submission_id", submissionID)
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not persist submission"})
			return
		}

		c.JSON(http.StatusOK, ingestResponse{
			SubmissionID: sub.ID.String(),
			PatientID:    sub.PatientID,
			DBPersisted:  true,
			FHIRBundle:   outcome.Bundle,
		})
	}
}

func readUploads(files []*multipart.FileHeader) ([]string, [][]byte, []llm.Image, error) {
	names := make([]string, 0, len(files))
	contents := make([][]byte, 0, len(files))
	images := make([]llm.Image, 0, len(files))

	for _, fh := range files {
		mime := fh.Header.Get("Content-Type")
		if !allowedIngestMIME[mime] {
			return nil, nil, nil, errors.New("unsupported file type: " + mime)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, nil, nil, errors.New("could not open uploaded file")
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, nil, nil, errors.New("could not read uploaded file")
		}
		names = append(names, fh.Filename)
		contents = append(contents, data)
		images = append(images, llm.Image{MIME: mime, Data: data})
	}
	return names, contents, images, nil
}

// pipelineLogger adapts *slog.Logger to pipeline.Logger.
type pipelineLogger struct {
	log *slog.Logger
}

func (l pipelineLogger) Warn(msg string, args ...any) {
	l.log.Warn(msg, args...)
}
