// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/authz"
	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
	"github.com/hatrac/hatrac/storage"
)

// NamespaceContentType marks a PUT request as namespace creation rather
// than object version creation.
const NamespaceContentType = "application/x-hatrac-namespace"

func (h *Handler) serveName(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return h.getName(ctx, w, r, client, ref)
	case http.MethodPut:
		// The namespace content type only disambiguates unbound names. A
		// name already bound as an object takes the body as a new version,
		// whatever the declared type.
		contentType := strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0])
		if contentType == NamespaceContentType {
			if res, err := h.dir.Resolve(ctx, ref.Segments); err == nil && res.Node.Kind == hatrac.KindObject {
				return h.putObjectVersion(ctx, w, r, client, ref)
			}
			return h.putNamespace(ctx, w, r, client, ref)
		}
		return h.putObjectVersion(ctx, w, r, client, ref)
	case http.MethodDelete:
		return h.deleteName(ctx, w, r, client, ref)
	}
	return hatrac.NewMethodNotAllowed("method %s not supported on %s", r.Method, ref.Name())
}

func (h *Handler) getName(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	if err := h.authz.Authorize(client, authz.ActionRead, res.Node.Name(), chainACLs(res)); err != nil {
		return err
	}
	if res.Node.Kind == hatrac.KindObject {
		version, err := h.dir.CurrentVersion(ctx, res.Node)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Location", h.versionURL(ref.Segments, version.Key))
		return h.serveVersionContent(ctx, w, r, client, res, version)
	}
	return h.listNamespace(ctx, w, r, res)
}

// listNamespace renders the child bindings of a namespace as a JSON array
// of service URLs or as text/uri-list, per Accept.
func (h *Handler) listNamespace(ctx context.Context, w http.ResponseWriter, r *http.Request, res *directory.Resolved) error {
	children, err := h.dir.EnumerateChildren(ctx, res.Node)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(children))
	for _, child := range children {
		urls = append(urls, h.resourceURL(child.Path, ""))
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

func (h *Handler) putNamespace(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	if err := hpath.ValidateNewName(ref.Segments); err != nil {
		return err
	}
	makeParents := strings.EqualFold(r.URL.Query().Get("parents"), "true")

	prefix, remaining, err := h.dir.ResolvePrefix(ctx, ref.Segments)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return hatrac.NewConflict("name %s already exists", prefix.Node.Name())
	}
	if err := h.authz.Authorize(client, authz.ActionCreate, ref.Name(), chainACLs(prefix)); err != nil {
		return err
	}

	node, err := h.dir.CreateNamespace(ctx, ref.Segments, ownerACL(client), makeParents)
	if err != nil {
		return err
	}
	h.log.Info("namespace created",
		zap.String("name", node.Name()), zap.String("client", client.ID))

	location := h.resourceURL(ref.Segments, "")
	w.Header().Set("Location", location)
	writeText(w, http.StatusCreated, "text/uri-list", location+"\r\n")
	return nil
}

func (h *Handler) deleteName(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	if ref.IsRoot() {
		return hatrac.NewConflict("root namespace cannot be deleted")
	}
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	if err := h.authz.Authorize(client, authz.ActionDelete, res.Node.Name(), chainACLs(res)); err != nil {
		return err
	}

	if res.Node.Kind == hatrac.KindObject {
		if version, err := h.dir.CurrentVersion(ctx, res.Node); err == nil {
			if notModified, err := checkPreconditions(r, versionETag(version)); err != nil || notModified {
				return err
			}
		}
		refs, handles, err := h.dir.DeleteObject(ctx, res.Node)
		if err != nil {
			return err
		}
		h.reclaimObject(ctx, res.Node.Name(), refs, handles)
	} else {
		if err := h.dir.DeleteNamespace(ctx, res.Node.ID); err != nil {
			return err
		}
		if err := h.store.DeleteNamespace(ctx, res.Node.Name()); err != nil {
			h.log.Warn("namespace storage cleanup failed",
				zap.String("name", res.Node.Name()), zap.Error(err))
		}
	}
	h.log.Info("name deleted",
		zap.String("name", res.Node.Name()), zap.String("client", client.ID))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// reclaimObject releases backend payloads and upload reservations after an
// object delete commits. Reclamation failures are logged, not surfaced:
// the name is already gone from the directory.
func (h *Handler) reclaimObject(ctx context.Context, name string, refs []storage.Ref, handles []string) {
	for _, ref := range refs {
		if err := h.store.Delete(ctx, ref); err != nil && !errors.Is(err, storage.ErrNotExist) {
			h.log.Warn("payload reclamation failed",
				zap.String("name", ref.Name), zap.String("version", ref.Version), zap.Error(err))
		}
	}
	for _, handle := range handles {
		if err := h.store.CancelUpload(ctx, name, handle); err != nil {
			h.log.Warn("upload reclamation failed",
				zap.String("name", name), zap.Error(err))
		}
	}
}

// ownerACL grants initial ownership to the creating client. Anonymous
// creation, when the firewall permits it, yields a resource owned only
// through ancestors.
func ownerACL(client hatrac.Client) hatrac.ACL {
	if client.ID == "" {
		return hatrac.ACL{}
	}
	return hatrac.ACL{client.ID}
}
