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
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veriscribe/ingestor/internal/ingestorerr"
	"github.com/veriscribe/ingestor/internal/llm"
	"github.com/veriscribe/ingestor/internal/pipeline"
)

// Rerun handles POST /api/v1/rerun/{id}: re-reads the submission's
// stored originals, re-runs the pipeline, and bumps created_at
// (§4.8's "smart rerun"). Concurrent reruns on the same id are
// serialized by an advisory lock; the loser gets 409 (§5, §8 property
// scenario F).
func Rerun(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
			return
		}

		sub, err := d.Store.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "submission not found"})
			return
		}

		release, ok, err := d.Store.TryLockRerun(c.Request.Context(), id)
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not acquire rerun lock"})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "a rerun is already in progress for this submission"})
			return
		}
		defer release()

		files, err := d.Store.ListFiles(id)
		if err != nil || len(files) == 0 {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "stored originals are missing"})
			return
		}

		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.AbsPath
		}
		images, err := loadImagesFromDisk(paths)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not reread stored originals"})
			return
		}

		outcome, err := pipeline.Run(c.Request.Context(), d.LLM, images, d.pipelineConfig(), d.Metrics, pipelineLogger{d.Log})
		if err != nil {
			// Same cancellation-vs-transport-failure split as Ingest (§7
			// UpstreamUnavailable, §8 property 9).
			d.Log.Warn("rerun pipeline failed", "error", err, "submission_id", id)
			respondUpstreamUnavailable(c, err)
			return
		}

		createdAt, err := d.Store.UpdateAfterRerun(c.Request.Context(), id, outcome.Bundle, outcome.RawExtraction, string(outcome.Status))
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not persist rerun"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"submission_id": sub.ID.String(),
			"status":        string(outcome.Status),
			"created_at":    createdAt.Format("2006-01-02T15:04:05Z07:00"),
			"fhir_bundle":   outcome.Bundle,
		})
	}
}

func loadImagesFromDisk(paths []string) ([]llm.Image, error) {
	images := make([]llm.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		ext := filepath.Ext(p)
		mimeType := mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		images = append(images, llm.Image{MIME: mimeType, Data: data})
	}
	return images, nil
}
