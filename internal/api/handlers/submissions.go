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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veriscribe/ingestor/internal/fhir"
	"github.com/veriscribe/ingestor/internal/ingestorerr"
	"github.com/veriscribe/ingestor/internal/store"
)

type submissionView struct {
	ID            string      `json:"id"`
	PatientID     string      `json:"patient_id"`
	Filename      string      `json:"filename"`
	ImageURL      string      `json:"image_url"`
	Status        string      `json:"status"`
	FHIRBundle    fhir.Bundle `json:"fhir_bundle"`
	RawExtraction string      `json:"raw_extraction"`
	DoctorNotes   string      `json:"doctor_notes"`
	AISummary     string      `json:"ai_summary"`
	CreatedAt     string      `json:"created_at"`
}

func toView(sub store.Submission) submissionView {
	var bundle fhir.Bundle
	_ = json.Unmarshal(sub.FHIRBundle, &bundle)
	return submissionView{
		ID:            sub.ID.String(),
		PatientID:     sub.PatientID,
		Filename:      sub.Filename,
		ImageURL:      sub.ImageURL,
		Status:        sub.Status,
		FHIRBundle:    bundle,
		RawExtraction: sub.RawExtraction,
		DoctorNotes:   sub.DoctorNotes,
		AISummary:     sub.AISummary,
		CreatedAt:     sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ListSubmissions handles GET /api/v1/submissions?limit=N.
func ListSubmissions(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		subs, err := d.Store.ListRecent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not list submissions"})
			return
		}
		views := make([]submissionView, 0, len(subs))
		for _, s := range subs {
			views = append(views, toView(s))
		}
		c.JSON(http.StatusOK, views)
	}
}

// ListPatients handles GET /api/v1/patients.
func ListPatients(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		patients, err := d.Store.ListPatients(c.Request.Context())
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not list patients"})
			return
		}
		c.JSON(http.StatusOK, patients)
	}
}

// PatientHistory handles GET /api/v1/patients/{pid}/history.
func PatientHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid := c.Param("pid")
		subs, err := d.Store.PatientHistory(c.Request.Context(), pid)
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not fetch patient history"})
			return
		}
		views := make([]submissionView, 0, len(subs))
		for _, s := range subs {
			views = append(views, toView(s))
		}
		c.JSON(http.StatusOK, views)
	}
}

type notesRequest struct {
	Notes string `json:"notes" binding:"required"`
}

// SaveNotes handles POST /api/v1/submissions/{id}/notes.
func SaveNotes(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
			return
		}
		var req notesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "notes is required"})
			return
		}
		if err := d.Store.SaveNotes(c.Request.Context(), id, req.Notes); err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not save notes"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "saved"})
	}
}
