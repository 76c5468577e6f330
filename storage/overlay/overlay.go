// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package overlay composes a primary storage backend over one or more
// secondary read-only layers. All writes go to the primary; reads fall
// through the layers in order until one has the content. Intended for
// gradual migration between backends.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

var (
	// Error is the overlay error class.
	Error = errs.Class("overlay")

	mon = monkit.Package()
)

var _ storage.Backend = (*Store)(nil)

// Store is the layered backend. The first layer is the primary.
type Store struct {
	layers []storage.Backend
}

// New composes layers into an overlay; at least one layer is required.
func New(layers ...storage.Backend) (*Store, error) {
	if len(layers) == 0 {
		return nil, Error.New("at least one backend layer is required")
	}
	return &Store{layers: layers}, nil
}

func (store *Store) primary() storage.Backend { return store.layers[0] }

// CreateFromStream writes to the primary layer.
func (store *Store) CreateFromStream(ctx context.Context, name string, r io.Reader, size int64, meta hatrac.Metadata) (string, *hatrac.Aux, error) {
	return store.primary().CreateFromStream(ctx, name, r, size, meta)
}

// GetStream reads from the first layer holding the version.
func (store *Store) GetStream(ctx context.Context, ref storage.Ref, rng storage.Range) (_ io.ReadCloser, _ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, layer := range store.layers {
		rc, size, err := layer.GetStream(ctx, ref, rng)
		if err == nil {
			return rc, size, nil
		}
		if !errors.Is(err, storage.ErrNotExist) {
			return nil, 0, err
		}
	}
	return nil, 0, Error.Wrap(fmt.Errorf("%s:%s: %w", ref.Name, ref.Version, storage.ErrNotExist))
}

// Delete removes from the primary only; content absent there belongs to a
// shared secondary and stays untouched.
func (store *Store) Delete(ctx context.Context, ref storage.Ref) error {
	err := store.primary().Delete(ctx, ref)
	if errors.Is(err, storage.ErrNotExist) {
		return nil
	}
	return err
}

// DeleteNamespace tidies the primary layer.
func (store *Store) DeleteNamespace(ctx context.Context, name string) error {
	return store.primary().DeleteNamespace(ctx, name)
}

// CreateUpload reserves on the primary layer.
func (store *Store) CreateUpload(ctx context.Context, name string, size int64, meta hatrac.Metadata) (string, error) {
	return store.primary().CreateUpload(ctx, name, size, meta)
}

// UploadChunk writes to the primary layer.
func (store *Store) UploadChunk(ctx context.Context, name, handle string, position, chunkLength, size int64, r io.Reader) (storage.ChunkAux, error) {
	return store.primary().UploadChunk(ctx, name, handle, position, chunkLength, size, r)
}

// FinalizeUpload assembles on the primary layer.
func (store *Store) FinalizeUpload(ctx context.Context, name, handle string, chunks []storage.ChunkAux, meta hatrac.Metadata) (string, *hatrac.Aux, error) {
	return store.primary().FinalizeUpload(ctx, name, handle, chunks, meta)
}

// CancelUpload releases the primary reservation.
func (store *Store) CancelUpload(ctx context.Context, name, handle string) error {
	return store.primary().CancelUpload(ctx, name, handle)
}

// Address reports the primary layer address.
func (store *Store) Address(name, version string) string {
	return store.primary().Address(name, version)
}

// PresignedGetURL asks each layer in order; layers without the feature
// return "".
func (store *Store) PresignedGetURL(ctx context.Context, ref storage.Ref, size int64, ttl time.Duration) (string, error) {
	for _, layer := range store.layers {
		url, err := layer.PresignedGetURL(ctx, ref, size, ttl)
		if err != nil || url != "" {
			return url, err
		}
	}
	return "", nil
}
