// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package backends constructs the configured storage backend graph.
package backends

import (
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
	"github.com/hatrac/hatrac/storage/filestore"
	"github.com/hatrac/hatrac/storage/overlay"
	"github.com/hatrac/hatrac/storage/s3store"
)

// Error is the backends error class.
var Error = errs.Class("backends")

// Open builds the storage backend selected by config.
func Open(log *zap.Logger, config hatrac.Config) (storage.Backend, error) {
	switch config.StorageBackend {
	case "filesystem":
		return filestore.New(log.Named("filestore"), config.StoragePath)
	case "amazons3":
		return s3store.New(log.Named("s3store"), config.S3Config)
	case "overlay":
		if len(config.OverlayBackends) == 0 {
			return nil, Error.New("overlay_backends must list at least one backend")
		}
		var layers []storage.Backend
		for _, layer := range config.OverlayBackends {
			backend, err := Open(log, hatrac.Config{
				StorageBackend: layer.StorageBackend,
				StoragePath:    layer.StoragePath,
				S3Config:       layer.S3Config,
			})
			if err != nil {
				return nil, err
			}
			layers = append(layers, backend)
		}
		return overlay.New(layers...)
	default:
		return nil, Error.New("unknown storage_backend %q", config.StorageBackend)
	}
}
