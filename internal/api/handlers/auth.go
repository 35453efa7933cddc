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

	"github.com/veriscribe/ingestor/internal/ingestorerr"
)

type registerRequest struct {
	Name string `json:"name" binding:"required"`
}

type registerResponse struct {
	APIKey string `json:"api_key"`
	Role   string `json:"role"`
}

// Register handles POST /api/v1/auth/register, the one unauthenticated
// endpoint in the surface (§6).
func Register(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			req.Name = "unnamed client"
		}

		key, err := d.Auth.Register(c.Request.Context(), req.Name)
		if err != nil {
			d.Log.Error("failed to register API key", "error", err)
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "could not register API key"})
			return
		}

		c.JSON(http.StatusOK, registerResponse{APIKey: key.Key, Role: string(key.Role)})
	}
}
