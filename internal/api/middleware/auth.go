// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the ingest HTTP
// surface: bearer-token extraction and C9 verification.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veriscribe/ingestor/internal/auth"
)

const authInfoKey = "ingestord_api_key"

// AuthKey retrieves the verified API key set by Auth, for handlers
// that need the caller's role.
func AuthKey(c *gin.Context) (auth.APIKey, bool) {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return auth.APIKey{}, false
	}
	key, ok := v.(auth.APIKey)
	return key, ok
}

// Auth extracts "Authorization: Bearer <token>", verifies it against
// svc, and either stores the resulting APIKey in the gin context or
// aborts the request with 403 (§4.10).
func Auth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		key, err := svc.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Set(authInfoKey, key)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
