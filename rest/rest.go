// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package rest exposes the service over HTTP. The URL grammar is decoded
// by hpath, structure lives in the metadata directory, payload bytes in a
// storage backend, and every decision goes through the authz engine.
package rest

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/authz"
	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
	"github.com/hatrac/hatrac/storage"
)

var (
	// Error is the rest error class.
	Error = errs.Class("rest")

	mon = monkit.Package()
)

// Directory is the metadata repository surface the handlers need.
type Directory interface {
	Resolve(ctx context.Context, segments []string) (*directory.Resolved, error)
	ResolvePrefix(ctx context.Context, segments []string) (*directory.Resolved, []string, error)

	CreateNamespace(ctx context.Context, segments []string, owner hatrac.ACL, makeParents bool) (*directory.Node, error)
	CreateObject(ctx context.Context, segments []string, owner hatrac.ACL) (*directory.Node, bool, error)
	DeleteNamespace(ctx context.Context, id int64) error
	DeleteObject(ctx context.Context, node *directory.Node) ([]storage.Ref, []string, error)
	EnumerateChildren(ctx context.Context, node *directory.Node) ([]*directory.Node, error)

	ReserveVersion(ctx context.Context, node *directory.Node, owner hatrac.ACL) (int64, error)
	CompleteVersion(ctx context.Context, node *directory.Node, id int64, key string, size int64, meta hatrac.Metadata, aux *hatrac.Aux) (*directory.Version, error)
	AbortVersion(ctx context.Context, id int64) error
	GetVersion(ctx context.Context, node *directory.Node, key string) (*directory.Version, error)
	CurrentVersion(ctx context.Context, node *directory.Node) (*directory.Version, error)
	DeleteVersion(ctx context.Context, node *directory.Node, version *directory.Version) (storage.Ref, error)
	ListVersions(ctx context.Context, node *directory.Node) ([]*directory.Version, error)
	UpdateVersionAux(ctx context.Context, id int64, aux *hatrac.Aux) error

	SetACL(ctx context.Context, kind hatrac.Kind, id int64, access string, acl hatrac.ACL) (hatrac.ACLs, error)
	ClearACL(ctx context.Context, kind hatrac.Kind, id int64, access string) error
	AddACLEntry(ctx context.Context, kind hatrac.Kind, id int64, access, entry string) error
	DropACLEntry(ctx context.Context, kind hatrac.Kind, id int64, access, entry string) error

	SetMetadataField(ctx context.Context, version *directory.Version, field, value string) error
	DeleteMetadataField(ctx context.Context, version *directory.Version, field string) error

	CreateUpload(ctx context.Context, node *directory.Node, chunkLength, contentLength int64, meta hatrac.Metadata, owner hatrac.ACL, handle string) (*directory.Upload, error)
	GetUpload(ctx context.Context, node *directory.Node, jobKey string) (*directory.Upload, error)
	ListUploads(ctx context.Context, node *directory.Node) ([]*directory.Upload, error)
	RecordChunk(ctx context.Context, upload *directory.Upload, position int64, chunk storage.ChunkAux) error
	BeginFinalize(ctx context.Context, upload *directory.Upload) (*directory.Upload, error)
	CompleteFinalize(ctx context.Context, upload *directory.Upload) error
	FailFinalize(ctx context.Context, upload *directory.Upload) error
	CancelUpload(ctx context.Context, upload *directory.Upload) error
}

// Handler serves the hatrac URL space under the configured service prefix.
type Handler struct {
	log    *zap.Logger
	config hatrac.Config
	codec  *hpath.Codec
	dir    Directory
	store  storage.Backend
	authz  *authz.Engine
	auth   Authenticator
}

// NewHandler assembles the HTTP surface.
func NewHandler(log *zap.Logger, config hatrac.Config, dir Directory, store storage.Backend, auth Authenticator) (*Handler, error) {
	codec, err := hpath.NewCodec(config.AllowedURLCharClass)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	return &Handler{
		log:    log,
		config: config,
		codec:  codec,
		dir:    dir,
		store:  store,
		authz:  authz.New(config.FirewallACLs),
		auth:   auth,
	}, nil
}
