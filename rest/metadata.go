// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hatrac/hatrac/pkg/authz"
	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
)

func metadataETag(version *directory.Version) string {
	data, _ := json.Marshal(version.Meta.Map())
	return makeETag(version.Name, version.Key, "metadata", string(data))
}

func (h *Handler) serveMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	version, err := h.requestVersion(ctx, res, ref)
	if err != nil {
		return err
	}

	action := authz.ActionRead
	if r.Method == http.MethodPut || r.Method == http.MethodDelete {
		action = authz.ActionManageMetadata
	}
	if err := h.authz.Authorize(client, action, res.Node.Name(), chainACLs(res, version.ACLs)); err != nil {
		return err
	}

	etag := metadataETag(version)
	notModified, err := checkPreconditions(r, etag)
	if err != nil {
		return err
	}
	if notModified {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		w.Header().Set("ETag", etag)
		if ref.Field == "" {
			writeJSON(w, http.StatusOK, version.Meta.Map())
			return nil
		}
		value, known := version.Meta.Get(ref.Field)
		if !known {
			return hatrac.NewNotFound("unknown metadata field %q", ref.Field)
		}
		if value == "" {
			return hatrac.NewNotFound("metadata field %q not set on %s:%s", ref.Field, version.Name, version.Key)
		}
		writeText(w, http.StatusOK, "text/plain", value+"\n")
		return nil

	case http.MethodPut:
		if ref.Field == "" {
			return hatrac.NewMethodNotAllowed("the metadata collection is not writable as a whole")
		}
		data, err := readControlBody(r)
		if err != nil {
			return err
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return hatrac.NewBadRequest("metadata field value must not be empty")
		}
		if err := h.dir.SetMetadataField(ctx, version, ref.Field, value); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil

	case http.MethodDelete:
		if ref.Field == "" {
			return hatrac.NewMethodNotAllowed("the metadata collection cannot be deleted")
		}
		if err := h.dir.DeleteMetadataField(ctx, version, ref.Field); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return hatrac.NewMethodNotAllowed("method %s not supported on metadata resources", r.Method)
}
