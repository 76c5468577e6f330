// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package filestore implements the filesystem storage backend. Content is
// streamed into temporary files and published with an atomic rename;
// chunked uploads preallocate a sparse file of the declared size and
// write each chunk at its computed offset.
package filestore

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

var (
	// Error is the filestore error class.
	Error = errs.Class("filestore")

	mon = monkit.Package()
)

var _ storage.Backend = (*Store)(nil)

// Store implements storage.Backend on a local filesystem.
type Store struct {
	log *zap.Logger
	dir *Dir
}

// New creates a filesystem backend rooted at path.
func New(log *zap.Logger, path string) (*Store, error) {
	dir, err := NewDir(path)
	if err != nil {
		return nil, err
	}
	return &Store{log: log, dir: dir}, nil
}

// CreateFromStream stores size bytes as a new version, verifying declared
// hashes while streaming. A digest mismatch on a direct PUT is a client
// validation failure.
func (store *Store) CreateFromStream(ctx context.Context, name string, r io.Reader, size int64, meta hatrac.Metadata) (_ string, _ *hatrac.Aux, err error) {
	defer mon.Task()(&ctx)(&err)

	file, err := store.dir.CreateTemporaryFile()
	if err != nil {
		return "", nil, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(file.Name())
		}
	}()

	md5sum, sha256sum := md5.New(), sha256.New()
	written, err := io.Copy(io.MultiWriter(file, md5sum, sha256sum), io.LimitReader(r, size))
	if err != nil {
		return "", nil, Error.Wrap(err)
	}
	if written != size {
		return "", nil, hatrac.NewBadRequest("request body ended after %d of %d declared bytes", written, size)
	}
	if err := verifyDigests(meta, md5sum, sha256sum, hatrac.NewBadRequest); err != nil {
		return "", nil, err
	}

	version, err := NewVersionID()
	if err != nil {
		return "", nil, err
	}
	if err := store.dir.Commit(file, name, version); err != nil {
		return "", nil, err
	}
	store.log.Debug("stored version",
		zap.String("name", name), zap.String("version", version), zap.Int64("size", size))
	return version, nil, nil
}

// GetStream opens the selected byte range of a stored version.
func (store *Store) GetStream(ctx context.Context, ref storage.Ref, rng storage.Range) (_ io.ReadCloser, _ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	file, err := os.Open(store.dir.BlobPath(ref.Name, ref.Version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, Error.Wrap(fmt.Errorf("%s:%s: %w", ref.Name, ref.Version, storage.ErrNotExist))
		}
		return nil, 0, Error.Wrap(err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, Error.Wrap(err)
	}
	size := stat.Size()

	length := rng.Length
	if length < 0 {
		length = size - rng.Offset
	}
	return &sectionReadCloser{
		Reader: io.NewSectionReader(file, rng.Offset, length),
		file:   file,
	}, size, nil
}

type sectionReadCloser struct {
	io.Reader
	file *os.File
}

func (rc *sectionReadCloser) Close() error { return rc.file.Close() }

// Delete removes a stored version.
func (store *Store) Delete(ctx context.Context, ref storage.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = os.Remove(store.dir.BlobPath(ref.Name, ref.Version))
	if os.IsNotExist(err) {
		return Error.Wrap(fmt.Errorf("%s:%s: %w", ref.Name, ref.Version, storage.ErrNotExist))
	}
	return Error.Wrap(err)
}

// DeleteNamespace is a no-op: the hashed blob layout keeps no per-namespace
// directories to tidy.
func (store *Store) DeleteNamespace(ctx context.Context, name string) error {
	return nil
}

// CreateUpload preallocates a sparse scratch file of the declared size.
func (store *Store) CreateUpload(ctx context.Context, name string, size int64, meta hatrac.Metadata) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	handle, err := NewUploadHandle()
	if err != nil {
		return "", err
	}
	file, err := os.OpenFile(store.dir.UploadPath(handle), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	if err := file.Truncate(size); err != nil {
		return "", Error.Wrap(err)
	}
	return handle, nil
}

// UploadChunk writes size bytes at position*chunkLength. Retransmitting a
// position overwrites the earlier bytes.
func (store *Store) UploadChunk(ctx context.Context, name, handle string, position, chunkLength, size int64, r io.Reader) (_ storage.ChunkAux, err error) {
	defer mon.Task()(&ctx)(&err)

	file, err := os.OpenFile(store.dir.UploadPath(handle), os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ChunkAux{}, Error.Wrap(fmt.Errorf("upload %s: %w", handle, storage.ErrNotExist))
		}
		return storage.ChunkAux{}, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	written, err := io.Copy(io.NewOffsetWriter(file, position*chunkLength), io.LimitReader(r, size))
	if err != nil {
		return storage.ChunkAux{}, Error.Wrap(err)
	}
	if written != size {
		return storage.ChunkAux{}, hatrac.NewBadRequest("chunk body ended after %d of %d declared bytes", written, size)
	}
	return storage.ChunkAux{Position: position, Size: size}, nil
}

// FinalizeUpload verifies the assembled scratch file against the declared
// hashes and publishes it as a new version. A digest mismatch at finalize
// is a conflict with the declared upload metadata.
func (store *Store) FinalizeUpload(ctx context.Context, name, handle string, chunks []storage.ChunkAux, meta hatrac.Metadata) (_ string, _ *hatrac.Aux, err error) {
	defer mon.Task()(&ctx)(&err)

	path := store.dir.UploadPath(handle)
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, Error.Wrap(fmt.Errorf("upload %s: %w", handle, storage.ErrNotExist))
		}
		return "", nil, Error.Wrap(err)
	}
	defer func() {
		// The scratch file survives a failed finalize so the client can
		// retransmit chunks and retry; cancel reclaims it.
		if err != nil {
			_ = file.Close()
		}
	}()

	md5sum, sha256sum := md5.New(), sha256.New()
	if _, err := io.Copy(io.MultiWriter(md5sum, sha256sum), file); err != nil {
		return "", nil, Error.Wrap(err)
	}
	if err := verifyDigests(meta, md5sum, sha256sum, hatrac.NewConflict); err != nil {
		return "", nil, err
	}

	version, err := NewVersionID()
	if err != nil {
		return "", nil, err
	}
	if err := store.dir.Commit(file, name, version); err != nil {
		return "", nil, err
	}
	store.log.Debug("finalized upload",
		zap.String("name", name), zap.String("handle", handle), zap.String("version", version))
	return version, nil, nil
}

// CancelUpload discards the scratch file.
func (store *Store) CancelUpload(ctx context.Context, name, handle string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = os.Remove(store.dir.UploadPath(handle))
	if os.IsNotExist(err) {
		return nil
	}
	return Error.Wrap(err)
}

// Address reports the filesystem path a version is stored under.
func (store *Store) Address(name, version string) string {
	return store.dir.BlobPath(name, version)
}

// PresignedGetURL is unsupported on the filesystem backend.
func (store *Store) PresignedGetURL(ctx context.Context, ref storage.Ref, size int64, ttl time.Duration) (string, error) {
	return "", nil
}

func verifyDigests(meta hatrac.Metadata, md5sum, sha256sum hash.Hash, mismatch func(string, ...interface{}) *hatrac.Error) error {
	if meta.ContentMD5 != "" {
		computed := base64.StdEncoding.EncodeToString(md5sum.Sum(nil))
		if computed != meta.ContentMD5 {
			return mismatch("content-md5 mismatch: declared %s, computed %s", meta.ContentMD5, computed)
		}
	}
	if meta.ContentSHA256 != "" {
		computed := base64.StdEncoding.EncodeToString(sha256sum.Sum(nil))
		if computed != meta.ContentSHA256 {
			return mismatch("content-sha256 mismatch: declared %s, computed %s", meta.ContentSHA256, computed)
		}
	}
	return nil
}
