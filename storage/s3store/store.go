// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package s3store implements the S3 storage backend on top of minio-go.
// Object names route to buckets by longest-prefix match; uploads use S3
// multipart uploads; reads above a configured size threshold can redirect
// through presigned URLs.
package s3store

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

var (
	// Error is the s3store error class.
	Error = errs.Class("s3store")

	mon = monkit.Package()
)

const defaultPresignExpiration = 300 * time.Second

var _ storage.Backend = (*Store)(nil)

// route is one configured bucket with its connected client.
type route struct {
	prefix string
	cfg    *hatrac.BucketConfig
	client *minio.Client
	core   *minio.Core
}

// Store implements storage.Backend against one or more S3 buckets.
type Store struct {
	log    *zap.Logger
	routes []*route // sorted by descending prefix length
}

// New connects clients for every configured bucket route.
func New(log *zap.Logger, cfg *hatrac.S3Config) (*Store, error) {
	if cfg == nil || len(cfg.Buckets) == 0 {
		return nil, Error.New("s3_config with at least one bucket is required")
	}
	store := &Store{log: log}
	for prefix, bucket := range cfg.Buckets {
		session := bucket.SessionConfig
		if session == nil {
			session = cfg.DefaultSession
		}
		if session == nil {
			return nil, Error.New("bucket %q has no session configuration", prefix)
		}
		client, err := minio.New(session.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(session.AccessKeyID, session.SecretAccessKey, ""),
			Secure: session.UseSSL,
			Region: session.Region,
		})
		if err != nil {
			return nil, Error.Wrap(err)
		}
		store.routes = append(store.routes, &route{
			prefix: prefix,
			cfg:    bucket,
			client: client,
			core:   &minio.Core{Client: client},
		})
	}
	// longest prefix first
	for i := range store.routes {
		for j := i + 1; j < len(store.routes); j++ {
			if len(store.routes[j].prefix) > len(store.routes[i].prefix) {
				store.routes[i], store.routes[j] = store.routes[j], store.routes[i]
			}
		}
	}
	return store, nil
}

func (store *Store) route(name string) (*route, error) {
	for _, r := range store.routes {
		if strings.HasPrefix(name, r.prefix) {
			return r, nil
		}
	}
	return nil, Error.New("no bucket route for name %q", name)
}

// key renders the S3 object key for a (name, version) pair under this
// route's naming scheme.
func (r *route) key(name, version string) string {
	relative := strings.TrimPrefix(name, "/")
	if !r.cfg.UnquoteObjectKeys {
		segments := strings.Split(relative, "/")
		for i, seg := range segments {
			segments[i] = url.PathEscape(seg)
		}
		relative = strings.Join(segments, "/")
	}
	key := path.Join(r.cfg.BucketPathPrefix, relative)
	if r.cfg.S3Method == "hname:hver" && version != "" {
		key = fmt.Sprintf("%s:%s", key, version)
	}
	return key
}

// CreateFromStream streams one PutObject. On versioned buckets the S3
// version id is preserved in the aux record so later reads address the
// exact historical object.
func (store *Store) CreateFromStream(ctx context.Context, name string, r io.Reader, size int64, meta hatrac.Metadata) (_ string, _ *hatrac.Aux, err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(name)
	if err != nil {
		return "", nil, err
	}
	version, err := newVersionID()
	if err != nil {
		return "", nil, err
	}
	info, err := rt.client.PutObject(ctx, rt.cfg.BucketName, rt.key(name, version), r, size, minio.PutObjectOptions{
		ContentType:        meta.ContentType,
		ContentDisposition: meta.ContentDisposition,
		SendContentMd5:     meta.ContentMD5 != "",
	})
	if err != nil {
		return "", nil, Error.Wrap(err)
	}
	var aux *hatrac.Aux
	if rt.cfg.VersionedBucket && info.VersionID != "" {
		aux = &hatrac.Aux{Version: info.VersionID}
	}
	store.log.Debug("stored version",
		zap.String("name", name), zap.String("version", version),
		zap.String("s3-version", info.VersionID))
	return version, aux, nil
}

// GetStream opens the selected byte range via GetObject.
func (store *Store) GetStream(ctx context.Context, ref storage.Ref, rng storage.Range) (_ io.ReadCloser, _ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(ref.Name)
	if err != nil {
		return nil, 0, err
	}
	opts := minio.GetObjectOptions{VersionID: ref.BackendVersion}
	key := rt.key(ref.Name, ref.Version)

	stat, err := rt.client.StatObject(ctx, rt.cfg.BucketName, key, minio.StatObjectOptions(opts))
	if err != nil {
		return nil, 0, wrapNotFound(err, ref)
	}
	if rng.Offset > 0 || rng.Length >= 0 {
		end := stat.Size - 1
		if rng.Length >= 0 {
			end = rng.Offset + rng.Length - 1
		}
		if err := opts.SetRange(rng.Offset, end); err != nil {
			return nil, 0, Error.Wrap(err)
		}
	}
	obj, err := rt.client.GetObject(ctx, rt.cfg.BucketName, key, opts)
	if err != nil {
		return nil, 0, wrapNotFound(err, ref)
	}
	return obj, stat.Size, nil
}

// Delete removes the stored object, addressing the exact S3 version on
// versioned buckets.
func (store *Store) Delete(ctx context.Context, ref storage.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(ref.Name)
	if err != nil {
		return err
	}
	err = rt.client.RemoveObject(ctx, rt.cfg.BucketName, rt.key(ref.Name, ref.Version), minio.RemoveObjectOptions{
		VersionID: ref.BackendVersion,
	})
	return Error.Wrap(err)
}

// DeleteNamespace is a no-op: namespaces are not explicit S3 resources.
func (store *Store) DeleteNamespace(ctx context.Context, name string) error {
	return nil
}

// CreateUpload starts an S3 multipart upload. The returned handle packs
// the pre-issued version id together with the multipart upload id, since
// the object key must be fixed before the first part is sent.
func (store *Store) CreateUpload(ctx context.Context, name string, size int64, meta hatrac.Metadata) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(name)
	if err != nil {
		return "", err
	}
	version, err := newVersionID()
	if err != nil {
		return "", err
	}
	uploadID, err := rt.core.NewMultipartUpload(ctx, rt.cfg.BucketName, rt.key(name, version), minio.PutObjectOptions{
		ContentType:        meta.ContentType,
		ContentDisposition: meta.ContentDisposition,
	})
	if err != nil {
		return "", Error.Wrap(err)
	}
	return version + "|" + uploadID, nil
}

// UploadChunk sends one part. S3 part numbers are 1-based; the chunk-aux
// records the part ETag needed at completion.
func (store *Store) UploadChunk(ctx context.Context, name, handle string, position, chunkLength, size int64, r io.Reader) (_ storage.ChunkAux, err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(name)
	if err != nil {
		return storage.ChunkAux{}, err
	}
	version, uploadID, err := splitHandle(handle)
	if err != nil {
		return storage.ChunkAux{}, err
	}
	part, err := rt.core.PutObjectPart(ctx, rt.cfg.BucketName, rt.key(name, version), uploadID, int(position)+1, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return storage.ChunkAux{}, Error.Wrap(err)
	}
	return storage.ChunkAux{Position: position, Size: size, ETag: part.ETag}, nil
}

// FinalizeUpload completes the multipart upload from the recorded part
// ETags. Declared content hashes are not re-verified here: S3 multipart
// ETags compose per-part digests rather than hashing the assembled bytes.
func (store *Store) FinalizeUpload(ctx context.Context, name, handle string, chunks []storage.ChunkAux, meta hatrac.Metadata) (_ string, _ *hatrac.Aux, err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(name)
	if err != nil {
		return "", nil, err
	}
	version, uploadID, err := splitHandle(handle)
	if err != nil {
		return "", nil, err
	}
	parts := make([]minio.CompletePart, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, minio.CompletePart{
			PartNumber: int(chunk.Position) + 1,
			ETag:       chunk.ETag,
		})
	}
	info, err := rt.core.CompleteMultipartUpload(ctx, rt.cfg.BucketName, rt.key(name, version), uploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return "", nil, Error.Wrap(err)
	}
	var aux *hatrac.Aux
	if rt.cfg.VersionedBucket && info.VersionID != "" {
		aux = &hatrac.Aux{Version: info.VersionID}
	}
	return version, aux, nil
}

// CancelUpload aborts the multipart upload.
func (store *Store) CancelUpload(ctx context.Context, name, handle string) (err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(name)
	if err != nil {
		return err
	}
	version, uploadID, err := splitHandle(handle)
	if err != nil {
		return err
	}
	return Error.Wrap(rt.core.AbortMultipartUpload(ctx, rt.cfg.BucketName, rt.key(name, version), uploadID))
}

// Address reports the bucket and key a version is stored under.
func (store *Store) Address(name, version string) string {
	rt, err := store.route(name)
	if err != nil {
		return ""
	}
	return rt.cfg.BucketName + "/" + rt.key(name, version)
}

// PresignedGetURL returns a presigned redirect URL when the route enables
// presigning and the content size reaches the configured threshold.
func (store *Store) PresignedGetURL(ctx context.Context, ref storage.Ref, size int64, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	rt, err := store.route(ref.Name)
	if err != nil {
		return "", err
	}
	threshold := rt.cfg.PresignedURLThreshold
	if threshold <= 0 || size < threshold {
		return "", nil
	}
	if ttl <= 0 {
		ttl = defaultPresignExpiration
		if rt.cfg.PresignedURLExpiration > 0 {
			ttl = time.Duration(rt.cfg.PresignedURLExpiration) * time.Second
		}
	}
	params := url.Values{}
	if ref.BackendVersion != "" {
		params.Set("versionId", ref.BackendVersion)
	}
	signed, err := rt.client.PresignedGetObject(ctx, rt.cfg.BucketName, rt.key(ref.Name, ref.Version), ttl, params)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return signed.String(), nil
}

func splitHandle(handle string) (version, uploadID string, err error) {
	idx := strings.IndexByte(handle, '|')
	if idx < 0 {
		return "", "", Error.New("malformed upload handle")
	}
	return handle[:idx], handle[idx+1:], nil
}

func wrapNotFound(err error, ref storage.Ref) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchVersion" {
		return Error.Wrap(fmt.Errorf("%s:%s: %w", ref.Name, ref.Version, storage.ErrNotExist))
	}
	return Error.Wrap(err)
}
