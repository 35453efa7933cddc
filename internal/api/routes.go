// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api wires gin routes to the handler factories in
// internal/api/handlers, the way the orchestrator service's
// routes.SetupRoutes does.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/veriscribe/ingestor/internal/api/handlers"
	"github.com/veriscribe/ingestor/internal/api/middleware"
)

// NewRouter builds the full gin.Engine for ingestord: OTel
// instrumentation, health check, and the authenticated v1 API group.
func NewRouter(d handlers.Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("ingestord"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.POST("/auth/register", handlers.Register(d))

	authed := v1.Group("")
	authed.Use(middleware.Auth(d.Auth))
	{
		authed.POST("/ingest", handlers.Ingest(d))
		authed.GET("/submissions", handlers.ListSubmissions(d))
		authed.GET("/patients", handlers.ListPatients(d))
		authed.GET("/patients/:pid/history", handlers.PatientHistory(d))
		authed.POST("/rerun/:id", handlers.Rerun(d))
		authed.POST("/submissions/:id/notes", handlers.SaveNotes(d))
		authed.POST("/submissions/:id/ai_summary", handlers.GenerateSummary(d))
		authed.GET("/files/*relpath", handlers.ServeFile(d))
	}

	return router
}
