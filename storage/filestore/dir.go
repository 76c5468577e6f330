// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package filestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"os"
	"path/filepath"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewVersionID issues a random 26-character version key.
func NewVersionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", Error.Wrap(err)
	}
	return idEncoding.EncodeToString(buf[:]), nil
}

// NewUploadHandle issues a random scratch file handle.
func NewUploadHandle() (string, error) {
	id, err := NewVersionID()
	if err != nil {
		return "", err
	}
	return "job-" + id, nil
}

// Dir lays out the backend root: published blobs under blobs/, in-flight
// temporary files under tmp/, and chunked upload scratch files under
// uploads/. Blob paths hash the object name so arbitrary hierarchical
// names map onto a flat two-level fanout.
type Dir struct {
	root string
}

// NewDir initializes the directory layout under root.
func NewDir(root string) (*Dir, error) {
	for _, sub := range []string{"blobs", "tmp", "uploads"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return &Dir{root: root}, nil
}

// BlobPath returns the published location of a stored version.
func (dir *Dir) BlobPath(name, version string) string {
	digest := sha256.Sum256([]byte(name))
	hexed := hex.EncodeToString(digest[:])
	return filepath.Join(dir.root, "blobs", hexed[:2], hexed[2:]+":"+version)
}

// UploadPath returns the scratch location of an open upload.
func (dir *Dir) UploadPath(handle string) string {
	return filepath.Join(dir.root, "uploads", handle)
}

// CreateTemporaryFile opens a fresh file under tmp/ for streaming writes.
func (dir *Dir) CreateTemporaryFile() (*os.File, error) {
	return os.CreateTemp(filepath.Join(dir.root, "tmp"), "blob-*.partial")
}

// Commit durably publishes a written file at the blob location for
// (name, version): sync, close, then an atomic rename into place.
func (dir *Dir) Commit(file *os.File, name, version string) error {
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return Error.Wrap(err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return Error.Wrap(err)
	}
	target := dir.BlobPath(name, version)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return Error.Wrap(err)
	}
	if err := os.Rename(file.Name(), target); err != nil {
		_ = os.Remove(file.Name())
		return Error.Wrap(err)
	}
	return nil
}
