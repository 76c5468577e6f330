// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/authz"
	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
	"github.com/hatrac/hatrac/storage"
)

// maxRenameHops bounds rename_to chain traversal before the chain is
// declared cyclic.
const maxRenameHops = 8

func versionETag(version *directory.Version) string {
	return makeETag(version.Name, version.Key)
}

// metadataFromHeaders collects declared content metadata from the request.
func metadataFromHeaders(r *http.Request) (hatrac.Metadata, error) {
	meta := hatrac.Metadata{}
	set := func(field, value string) error {
		if value == "" {
			return nil
		}
		return meta.Set(field, value)
	}
	if err := set(hatrac.FieldContentType, r.Header.Get("Content-Type")); err != nil {
		return meta, err
	}
	if err := set(hatrac.FieldContentMD5, r.Header.Get("Content-MD5")); err != nil {
		return meta, err
	}
	if err := set(hatrac.FieldContentSHA256, r.Header.Get("Content-SHA256")); err != nil {
		return meta, err
	}
	if err := set(hatrac.FieldContentDisposition, r.Header.Get("Content-Disposition")); err != nil {
		return meta, err
	}
	return meta, nil
}

func (h *Handler) putObjectVersion(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	if err := hpath.ValidateNewName(ref.Segments); err != nil {
		return err
	}
	size, err := h.requireLength(r)
	if err != nil {
		return err
	}
	meta, err := metadataFromHeaders(r)
	if err != nil {
		return err
	}

	res, err := h.dir.Resolve(ctx, ref.Segments)
	switch {
	case err == nil:
		if res.Node.Kind != hatrac.KindObject {
			return hatrac.NewConflict("name %s is already in use by a namespace", res.Node.Name())
		}
		if err := h.authz.Authorize(client, authz.ActionUpdate, res.Node.Name(), chainACLs(res)); err != nil {
			return err
		}
		if version, verr := h.dir.CurrentVersion(ctx, res.Node); verr == nil {
			if _, err := checkPreconditions(r, versionETag(version)); err != nil {
				return err
			}
		} else if r.Header.Get("If-Match") != "" {
			return hatrac.NewPreconditionFailed("object has no current version to match")
		}
	case isStatus(err, http.StatusNotFound):
		if r.Header.Get("If-Match") != "" {
			return hatrac.NewPreconditionFailed("object does not exist")
		}
		prefix, _, perr := h.dir.ResolvePrefix(ctx, ref.Segments)
		if perr != nil {
			return perr
		}
		if err := h.authz.Authorize(client, authz.ActionCreate, ref.Name(), chainACLs(prefix)); err != nil {
			return err
		}
	default:
		return err
	}

	node, created, err := h.dir.CreateObject(ctx, ref.Segments, ownerACL(client))
	if err != nil {
		return err
	}
	reservation, err := h.dir.ReserveVersion(ctx, node, ownerACL(client))
	if err != nil {
		return err
	}
	key, aux, err := h.store.CreateFromStream(ctx, node.Name(), r.Body, size, meta)
	if err != nil {
		if aerr := h.dir.AbortVersion(ctx, reservation); aerr != nil {
			h.log.Warn("reservation cleanup failed", zap.Error(aerr))
		}
		return err
	}
	version, err := h.dir.CompleteVersion(ctx, node, reservation, key, size, meta, aux)
	if err != nil {
		return err
	}

	h.log.Info("object version created",
		zap.String("name", node.Name()),
		zap.String("version", version.Key),
		zap.Bool("new-object", created),
		zap.String("client", client.ID))

	location := h.versionURL(ref.Segments, version.Key)
	w.Header().Set("Location", location)
	w.Header().Set("ETag", versionETag(version))
	writeText(w, http.StatusCreated, "text/uri-list", location+"\r\n")
	return nil
}

func (h *Handler) serveVersion(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	version, err := h.requestVersion(ctx, res, ref)
	if err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return h.serveVersionContent(ctx, w, r, client, res, version)
	case http.MethodDelete:
		if err := h.authz.Authorize(client, authz.ActionDelete, res.Node.Name(), chainACLs(res, version.ACLs)); err != nil {
			return err
		}
		if _, err := checkPreconditions(r, versionETag(version)); err != nil {
			return err
		}
		sref, err := h.dir.DeleteVersion(ctx, res.Node, version)
		if err != nil {
			return err
		}
		if version.Aux == nil || version.Aux.URL == "" {
			if err := h.store.Delete(ctx, sref); err != nil && !errors.Is(err, storage.ErrNotExist) {
				h.log.Warn("payload reclamation failed",
					zap.String("name", sref.Name),
					zap.String("version", sref.Version),
					zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	case http.MethodPut:
		return hatrac.NewMethodNotAllowed("object versions are immutable")
	}
	return hatrac.NewMethodNotAllowed("method %s not supported on object versions", r.Method)
}

func (h *Handler) serveVersionList(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return hatrac.NewMethodNotAllowed("method %s not supported on version listings", r.Method)
	}
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	if res.Node.Kind != hatrac.KindObject {
		return hatrac.NewConflict("%s is not an object", res.Node.Name())
	}
	if err := h.authz.Authorize(client, authz.ActionRead, res.Node.Name(), chainACLs(res)); err != nil {
		return err
	}
	versions, err := h.dir.ListVersions(ctx, res.Node)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(versions))
	for _, version := range versions {
		urls = append(urls, h.versionURL(ref.Segments, version.Key))
	}

	switch negotiate(r.Header.Get("Accept"), []string{"application/json", "text/uri-list"}) {
	case "text/uri-list":
		var b strings.Builder
		for _, u := range urls {
			b.WriteString(u)
			b.WriteString("\r\n")
		}
		writeText(w, http.StatusOK, "text/uri-list", b.String())
	default:
		writeJSON(w, http.StatusOK, urls)
	}
	return nil
}

// serveVersionContent authorizes and streams one version's payload,
// honoring aux redirection, preconditions and single byte ranges.
func (h *Handler) serveVersionContent(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, res *directory.Resolved, version *directory.Version) error {
	if err := h.authz.Authorize(client, authz.ActionRead, res.Node.Name(), chainACLs(res, version.ACLs)); err != nil {
		return err
	}

	// A rename_to record forwards to a preferred successor version.
	for hops := 0; version.Aux != nil && version.Aux.RenameTo != nil; hops++ {
		if hops >= maxRenameHops {
			return hatrac.NewInternal("rename chain for %s exceeds %d hops", version.Name, maxRenameHops)
		}
		target := version.Aux.RenameTo
		segments := hpath.SplitName(target.Name)
		targetRes, err := h.dir.Resolve(ctx, segments)
		if err != nil {
			return hatrac.NewInternal("rename target %s unavailable", target.Name)
		}
		targetVersion, err := h.dir.GetVersion(ctx, targetRes.Node, target.Version)
		if err != nil {
			return hatrac.NewInternal("rename target %s:%s unavailable", target.Name, target.Version)
		}
		if err := h.authz.Authorize(client, authz.ActionRead, targetRes.Node.Name(), chainACLs(targetRes, targetVersion.ACLs)); err != nil {
			return err
		}
		w.Header().Set("Content-Location", h.versionURL(segments, targetVersion.Key))
		res, version = targetRes, targetVersion
	}

	if version.Aux != nil && version.Aux.URL != "" {
		w.Header().Set("Location", version.Aux.URL)
		w.WriteHeader(http.StatusSeeOther)
		return nil
	}

	etag := versionETag(version)
	notModified, err := checkPreconditions(r, etag)
	if err != nil {
		return err
	}
	if notModified {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	sref := version.StorageRef()

	rng, partial, err := parseRange(r.Header.Get("Range"), version.Size)
	if err != nil {
		if isStatus(err, http.StatusRequestedRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", version.Size))
		}
		return err
	}

	if !partial {
		if url, err := h.store.PresignedGetURL(ctx, sref, version.Size, time.Duration(0)); err == nil && url != "" {
			w.Header().Set("Location", url)
			w.WriteHeader(http.StatusSeeOther)
			return nil
		}
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Accept-Ranges", "bytes")
	contentType := version.Meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if version.Meta.ContentMD5 != "" {
		w.Header().Set("Content-MD5", version.Meta.ContentMD5)
	}
	if version.Meta.ContentSHA256 != "" {
		w.Header().Set("Content-SHA256", version.Meta.ContentSHA256)
	}
	if version.Meta.ContentDisposition != "" {
		w.Header().Set("Content-Disposition", version.Meta.ContentDisposition)
	}

	status := http.StatusOK
	length := version.Size
	if partial {
		status = http.StatusPartialContent
		length = rng.Length
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", rng.Offset, rng.Offset+rng.Length-1, version.Size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return nil
	}

	rc, _, err := h.store.GetStream(ctx, sref, rng)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return hatrac.NewNotFound("content for %s:%s not available", version.Name, version.Key)
		}
		return err
	}
	defer func() { _ = rc.Close() }()

	w.WriteHeader(status)
	if _, err := io.CopyN(w, rc, length); err != nil {
		h.log.Debug("content stream interrupted",
			zap.String("name", version.Name), zap.Error(err))
	}
	return nil
}

// parseRange interprets a Range header against the content size. A
// syntactically unusable header is ignored, multipart ranges are not
// implemented, and a range beyond the content bounds is unsatisfiable.
func parseRange(header string, size int64) (rng storage.Range, partial bool, err error) {
	full := storage.Range{Offset: 0, Length: size}
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return full, false, nil
	}
	specs := strings.Split(strings.TrimPrefix(header, "bytes="), ",")
	if len(specs) > 1 {
		return full, false, hatrac.NewNotImplemented("multipart ranges are not supported")
	}

	spec := strings.TrimSpace(specs[0])
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return full, false, nil
	}
	switch {
	case first == "" && last != "":
		// suffix range: final N bytes
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n <= 0 {
			return full, false, nil
		}
		if n >= size {
			// a suffix longer than the content selects all of it,
			// still as a partial response
			if size == 0 {
				return full, false, nil
			}
			return storage.Range{Offset: 0, Length: size}, true, nil
		}
		return storage.Range{Offset: size - n, Length: n}, true, nil
	case first != "":
		offset, perr := strconv.ParseInt(first, 10, 64)
		if perr != nil || offset < 0 {
			return full, false, nil
		}
		if offset >= size {
			return full, false, hatrac.NewRangeNotSatisfiable(
				"range start %d beyond content size %d", offset, size)
		}
		length := size - offset
		if last != "" {
			end, perr := strconv.ParseInt(last, 10, 64)
			if perr != nil || end < offset {
				return full, false, nil
			}
			if end < size-1 {
				length = end - offset + 1
			}
		}
		return storage.Range{Offset: offset, Length: length}, true, nil
	}
	return full, false, nil
}

// isStatus reports whether err is a service error with the given status.
func isStatus(err error, status int) bool {
	herr, ok := hatrac.AsError(err)
	return ok && herr.Status == status
}
