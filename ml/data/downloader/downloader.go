// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader downloads files (pretrained weights) over HTTP, with an optional progress bar,
// and verifies their checksums.
package downloader

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"os"
	"os/user"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// FileExists returns true if file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", filePath)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
func ReplaceTildeInDir(dir string) string {
	if len(dir) == 0 || dir[0] != '~' {
		return dir
	}
	usr, err := user.Current()
	if err != nil {
		klog.Warningf("cannot find current user to replace \"~\" in %q: %v", dir, err)
		return dir
	}
	return path.Join(usr.HomeDir, dir[1:])
}

// hasherFor returns the hash function for the given hex checksum: md5 for 32 characters (the hashes
// of the Keras checkpoints), sha256 for 64.
func hasherFor(checkHash string) (hash.Hash, error) {
	switch len(checkHash) {
	case 2 * md5.Size:
		return md5.New(), nil
	case 2 * sha256.Size:
		return sha256.New(), nil
	}
	return nil, errors.Errorf("checksum %q is neither a md5 nor a sha256 hex digest", checkHash)
}

// FileHash returns the hex digest of the file, using the hash function matching the length of
// checkHash (see ValidateChecksum).
func FileHash(filePath, checkHash string) (string, error) {
	hasher, err := hasherFor(checkHash)
	if err != nil {
		return "", err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	if _, err = io.Copy(hasher, f); err != nil {
		return "", errors.Wrapf(err, "failed to read %q", filePath)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ValidateChecksum verifies that the checksum of the file in the given path matches checkHash,
// an md5 or sha256 hex digest. If it fails, it will remove the file (!) and return an error.
func ValidateChecksum(filePath, checkHash string) error {
	fileHash, err := FileHash(filePath, checkHash)
	if err != nil {
		return err
	}
	if fileHash != strings.ToLower(checkHash) {
		err = errors.Errorf("file %q hash is %q, but expected %q, deleting file", filePath, fileHash, checkHash)
		if e2 := os.Remove(filePath); e2 != nil {
			klog.Errorf("Failed to remove %q, which failed checksum test. Please remove it. %+v", filePath, e2)
		}
		return err
	}
	return nil
}

// newProgressBar for a download of contentLength bytes, which may be -1 if unknown.
func newProgressBar(contentLength int64, description string) *progressbar.ProgressBar {
	if contentLength > 0 {
		description += " (" + humanize.IBytes(uint64(contentLength)) + ")"
	}
	return progressbar.NewOptions64(contentLength,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Client used for the downloads.
var Client = &http.Client{
	CheckRedirect: func(r *http.Request, via []*http.Request) error {
		r.URL.Opaque = r.URL.Path
		return nil
	},
}

// Download file from url and save at given path. Attempts to create directory
// if it doesn't yet exist.
//
// Optionally, use showProgressBar.
func Download(url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath = ReplaceTildeInDir(filePath)
	err = os.MkdirAll(path.Dir(filePath), 0777)
	if err != nil && !os.IsExist(err) {
		return 0, errors.Wrapf(err, "failed to create the directory for the path: %q", path.Dir(filePath))
	}
	resp, err := Client.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: bad status code %d (%s)", url, resp.StatusCode, resp.Status)
	}

	// Download to a temporary file first, so an interrupted download doesn't leave a partial file behind.
	tmpPath := filePath + ".downloading"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	var w io.Writer = file
	var bar *progressbar.ProgressBar
	if showProgressBar {
		bar = newProgressBar(resp.ContentLength, path.Base(filePath))
		w = io.MultiWriter(file, bar)
	}
	size, err = io.Copy(w, resp.Body)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed moving %q to %q", tmpPath, filePath)
	}
	klog.Infof("downloaded %q to %q: %s", url, filePath, humanize.IBytes(uint64(size)))
	return size, nil
}

// DownloadIfMissing will check if the path exists already, and if not it will download the file
// from the given URL.
//
// If checkHash (md5 or sha256 hex digest) is provided, it checks that the file has the hash or fail.
func DownloadIfMissing(url, filePath, checkHash string, showProgressBar bool) error {
	filePath = ReplaceTildeInDir(filePath)
	exists, err := FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		klog.Infof("downloading %s", url)
		if _, err = Download(url, filePath, showProgressBar); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return ValidateChecksum(filePath, checkHash)
}
