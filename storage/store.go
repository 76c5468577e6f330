// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package storage defines the bulk-byte backend abstraction. The metadata
// directory is authoritative for structure; backends only persist and
// serve payload bytes addressed by (name, version) keys.
package storage

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/zeebo/errs"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// ErrNotExist wraps fs.ErrNotExist so composed backends can recognize a
// missing object version and fall through to the next layer.
var ErrNotExist = fs.ErrNotExist

// Error is the generic storage error class.
var Error = errs.Class("storage")

// Ref addresses one stored object version. BackendVersion carries a
// backend-level version id (an S3 versioned-bucket version) taken from the
// aux record; most backends ignore it.
type Ref struct {
	Name           string
	Version        string
	BackendVersion string
}

// ChunkAux is the per-chunk state a backend needs preserved between chunk
// upload and finalize. The S3 backend records part ETags here.
type ChunkAux struct {
	Position int64  `json:"position"`
	Size     int64  `json:"size"`
	ETag     string `json:"etag,omitempty"`
}

// Range selects a byte range of stored content. Length < 0 means to the
// end of content.
type Range struct {
	Offset int64
	Length int64
}

// Everything selects the full content.
var Everything = Range{Offset: 0, Length: -1}

// Backend persists and serves object version payloads.
//
// Streams handed to write operations carry a known total size and must be
// consumed without full buffering. Backends are addressed by name+version
// keys that avoid write contention; implementations must be safe for
// concurrent use.
type Backend interface {
	// CreateFromStream stores size bytes from r as a new version of name,
	// verifying declared content hashes where supported. It returns the
	// issued version id and an optional aux record override.
	CreateFromStream(ctx context.Context, name string, r io.Reader, size int64, meta hatrac.Metadata) (version string, aux *hatrac.Aux, err error)

	// GetStream opens the selected byte range of a stored version.
	// It returns the stream, the total content size, and an error wrapping
	// ErrNotExist when the version is absent from this backend.
	GetStream(ctx context.Context, ref Ref, rng Range) (rc io.ReadCloser, size int64, err error)

	// Delete removes a stored version. Missing content is reported via
	// ErrNotExist.
	Delete(ctx context.Context, ref Ref) error

	// DeleteNamespace reclaims any backend bookkeeping for an empty,
	// deleted namespace.
	DeleteNamespace(ctx context.Context, name string) error

	// CreateUpload reserves backend state for a chunked upload of the
	// declared total size and returns an opaque handle.
	CreateUpload(ctx context.Context, name string, size int64, meta hatrac.Metadata) (handle string, err error)

	// UploadChunk stores size bytes from r at the given chunk position.
	// Retransmission of a position replaces the earlier content.
	UploadChunk(ctx context.Context, name, handle string, position, chunkLength, size int64, r io.Reader) (ChunkAux, error)

	// FinalizeUpload assembles the recorded chunks into a stored version,
	// verifying declared content hashes where supported.
	FinalizeUpload(ctx context.Context, name, handle string, chunks []ChunkAux, meta hatrac.Metadata) (version string, aux *hatrac.Aux, err error)

	// CancelUpload releases the backend reservation for an open upload.
	CancelUpload(ctx context.Context, name, handle string) error

	// Address reports the backend-level key a version is stored under.
	Address(name, version string) string

	// PresignedGetURL returns a time-limited URL for direct retrieval, or
	// "" when the backend (or this particular version) does not support
	// presigned redirection.
	PresignedGetURL(ctx context.Context, ref Ref, size int64, ttl time.Duration) (string, error)
}
