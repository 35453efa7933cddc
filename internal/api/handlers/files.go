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
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veriscribe/ingestor/internal/ingestorerr"
)

// ServeFile handles GET /api/v1/files/{relpath}. ResolveFile rejects
// any path that escapes the files directory before os.Stat ever runs
// against an attacker-controlled path (§6: "path traversal blocked").
func ServeFile(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		relPath := strings.TrimPrefix(c.Param("relpath"), "/")
		abs, err := d.Store.ResolveFile(relPath)
		if err != nil {
			c.JSON(ingestorerr.HTTPStatus(err), gin.H{"error": "file not found"})
			return
		}
		c.File(abs)
	}
}
