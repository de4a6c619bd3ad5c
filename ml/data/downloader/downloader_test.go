// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadIfMissing(t *testing.T) {
	content := []byte("fake weights")
	sum := md5.Sum(content)
	checkHash := hex.EncodeToString(sum[:])
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/weights.h5" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	filePath := filepath.Join(dir, "sub", "weights.h5")
	require.NoError(t, DownloadIfMissing(server.URL+"/weights.h5", filePath, checkHash, false))
	got, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Already there: no new request.
	require.NoError(t, DownloadIfMissing(server.URL+"/weights.h5", filePath, checkHash, false))
	assert.Equal(t, 1, requests)

	// Wrong checksum removes the file.
	err = DownloadIfMissing(server.URL+"/weights.h5", filePath, "00000000000000000000000000000000", false)
	require.Error(t, err)
	exists, err := FileExists(filePath)
	require.NoError(t, err)
	assert.False(t, exists)

	// Not found.
	err = DownloadIfMissing(server.URL+"/other.h5", filepath.Join(dir, "other.h5"), "", false)
	require.Error(t, err)
	exists, err = FileExists(filepath.Join(dir, "other.h5"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileHash(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(filePath, []byte("abc"), 0644))
	hash, err := FileHash(filePath, "900150983cd24fb0d6963f7d28e17f72")
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", hash)
	hash, err = FileHash(filePath, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
	_, err = FileHash(filePath, "abc")
	require.Error(t, err)
}
