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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veriscribe/ingestor/internal/ingestorerr"
	"github.com/veriscribe/ingestor/internal/llm"
	"github.com/veriscribe/ingestor/internal/prompts"
)

// GenerateSummary handles POST /api/v1/submissions/{id}/ai_summary: a
// single C3.7 synthesis call over the stored bundle and doctor notes
// (§4.8 generate_summary).
func GenerateSummary(d Deps) gin.HandlerFunc {
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

		messages := prompts.Synthesis(string(sub.FHIRBundle), sub.DoctorNotes)
		summary, _, err := d.LLM.Chat(c.Request.Context(), messages, llm.Params{Temperature: 0})
		if err != nil {
			d.Log.Warn("synthesis call failed", "submission_id", id, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "synthesis endpoint unavailable"})
			return
		}

		if err := d.Store.SaveSummary(c.Request.Context(), id, summary); err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not save summary"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"summary": summary})
	}
}
