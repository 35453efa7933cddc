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
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMultipartUpload(t *testing.T, fields map[string]string, fileField, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreatePart(map[string][]string{
			"Content-Disposition": {`form-data; name="` + fileField + `"; filename="` + filename + `"`},
			"Content-Type":        {contentType},
		})
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func parseUploadFiles(t *testing.T, req *http.Request) []*multipart.FileHeader {
	t.Helper()
	require.NoError(t, req.ParseMultipartForm(32<<20))
	return req.MultipartForm.File["files"]
}

func TestReadUploadsAcceptsAllowedMIME(t *testing.T) {
	req := newMultipartUpload(t, map[string]string{"patient_id": "p1"}, "files", "scan.png", "image/png", []byte("fake-png-bytes"))
	files := parseUploadFiles(t, req)
	require.Len(t, files, 1)

	names, contents, images, err := readUploads(files)
	require.NoError(t, err)
	require.Equal(t, []string{"scan.png"}, names)
	require.Equal(t, [][]byte{[]byte("fake-png-bytes")}, contents)
	require.Len(t, images, 1)
	require.Equal(t, "image/png", images[0].MIME)
}

func TestReadUploadsRejectsDisallowedMIME(t *testing.T) {
	req := newMultipartUpload(t, nil, "files", "notes.txt", "text/plain", []byte("hello"))
	files := parseUploadFiles(t, req)
	require.Len(t, files, 1)

	_, _, _, err := readUploads(files)
	require.Error(t, err)
}
