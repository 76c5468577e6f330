// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/hatrac/hatrac/pkg/authz"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
)

// aclTarget is the resource whose access lists a request addresses: a
// namespace, an object, or one object version.
type aclTarget struct {
	kind  hatrac.Kind
	id    int64
	name  string
	acls  hatrac.ACLs
	chain []hatrac.ACLs
}

func (h *Handler) aclTargetFor(ctx context.Context, ref *hpath.Ref) (*aclTarget, error) {
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return nil, err
	}
	if ref.Version != "" {
		version, err := h.requestVersion(ctx, res, ref)
		if err != nil {
			return nil, err
		}
		return &aclTarget{
			kind:  hatrac.KindVersion,
			id:    version.ID,
			name:  version.Name + ":" + version.Key,
			acls:  version.ACLs,
			chain: chainACLs(res, version.ACLs),
		}, nil
	}
	return &aclTarget{
		kind:  res.Node.Kind,
		id:    res.Node.ID,
		name:  res.Node.Name(),
		acls:  res.Node.ACLs,
		chain: chainACLs(res),
	}, nil
}

// visibleACLs projects the stored lists onto the access names valid for
// the target kind, materializing absent lists as empty.
func (t *aclTarget) visibleACLs() map[string][]string {
	out := map[string][]string{}
	for _, access := range hatrac.AccessNames(t.kind) {
		out[access] = t.acls.Get(access).Sorted()
	}
	return out
}

func (t *aclTarget) etag() string {
	data, _ := json.Marshal(t.visibleACLs())
	return makeETag(t.name, "acl", string(data))
}

func (h *Handler) serveACL(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	target, err := h.aclTargetFor(ctx, ref)
	if err != nil {
		return err
	}
	if err := h.authz.Authorize(client, authz.ActionManageACLs, target.name, target.chain); err != nil {
		return err
	}
	if ref.Access != "" && !hatrac.ValidAccess(target.kind, ref.Access) {
		return hatrac.NewNotFound("access mode %q not defined for %s resources", ref.Access, target.kind)
	}

	notModified, err := checkPreconditions(r, target.etag())
	if err != nil {
		return err
	}
	if notModified {
		w.Header().Set("ETag", target.etag())
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return h.getACL(w, r, target, ref)
	case http.MethodPut:
		return h.putACL(ctx, w, r, target, ref)
	case http.MethodDelete:
		return h.deleteACL(ctx, w, target, ref)
	}
	return hatrac.NewMethodNotAllowed("method %s not supported on ACL resources", r.Method)
}

func (h *Handler) getACL(w http.ResponseWriter, r *http.Request, target *aclTarget, ref *hpath.Ref) error {
	w.Header().Set("ETag", target.etag())
	switch {
	case ref.Access == "":
		writeJSON(w, http.StatusOK, target.visibleACLs())
	case ref.Entry == "":
		writeJSON(w, http.StatusOK, target.acls.Get(ref.Access).Sorted())
	default:
		if !target.acls.Get(ref.Access).Contains(ref.Entry) {
			return hatrac.NewNotFound("entry %q not present in %s ACL", ref.Entry, ref.Access)
		}
		writeText(w, http.StatusOK, "text/plain", ref.Entry+"\n")
	}
	return nil
}

func (h *Handler) putACL(ctx context.Context, w http.ResponseWriter, r *http.Request, target *aclTarget, ref *hpath.Ref) error {
	switch {
	case ref.Access == "":
		return hatrac.NewMethodNotAllowed("the ACL collection is not writable as a whole")
	case ref.Entry == "":
		data, err := readControlBody(r)
		if err != nil {
			return err
		}
		var entries []string
		if err := json.Unmarshal(data, &entries); err != nil {
			return hatrac.NewBadRequest("ACL body must be a JSON array of role names")
		}
		sort.Strings(entries)
		if ref.Access == hatrac.AccessOwner && len(entries) == 0 {
			return hatrac.NewBadRequest("the owner ACL cannot be emptied")
		}
		if _, err := h.dir.SetACL(ctx, target.kind, target.id, ref.Access, entries); err != nil {
			return err
		}
	default:
		if err := h.dir.AddACLEntry(ctx, target.kind, target.id, ref.Access, ref.Entry); err != nil {
			return err
		}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) deleteACL(ctx context.Context, w http.ResponseWriter, target *aclTarget, ref *hpath.Ref) error {
	switch {
	case ref.Access == "":
		return hatrac.NewMethodNotAllowed("the ACL collection cannot be deleted")
	case ref.Entry == "":
		if ref.Access == hatrac.AccessOwner {
			return hatrac.NewBadRequest("the owner ACL cannot be emptied")
		}
		if err := h.dir.ClearACL(ctx, target.kind, target.id, ref.Access); err != nil {
			return err
		}
	default:
		if ref.Access == hatrac.AccessOwner {
			current := target.acls.Get(hatrac.AccessOwner)
			if len(current) == 1 && current.Contains(ref.Entry) {
				return hatrac.NewBadRequest("the last owner entry cannot be removed")
			}
		}
		if err := h.dir.DropACLEntry(ctx, target.kind, target.id, ref.Access, ref.Entry); err != nil {
			return err
		}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
