// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
)

// ServeHTTP decodes the URL, authenticates the client, and dispatches on
// the addressed sub-resource.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.EscapedPath()
	if !strings.HasPrefix(raw, h.config.ServicePrefix) {
		h.writeError(w, r, hatrac.NewNotFound("no such resource"))
		return
	}
	raw = strings.TrimPrefix(raw, h.config.ServicePrefix)
	if raw == "" {
		raw = "/"
	}

	ref, err := h.codec.Parse(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	client, err := h.auth.Authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Debug("request",
		zap.String("method", r.Method),
		zap.String("name", ref.Name()),
		zap.String("client", client.ID))

	if err := h.route(ctx, w, r, client, ref); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handler) route(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	switch ref.Sub {
	case hpath.SubNone:
		if ref.Version != "" {
			return h.serveVersion(ctx, w, r, client, ref)
		}
		return h.serveName(ctx, w, r, client, ref)
	case hpath.SubVersions:
		return h.serveVersionList(ctx, w, r, client, ref)
	case hpath.SubMetadata:
		return h.serveMetadata(ctx, w, r, client, ref)
	case hpath.SubACL:
		return h.serveACL(ctx, w, r, client, ref)
	case hpath.SubUpload:
		return h.serveUpload(ctx, w, r, client, ref)
	}
	return hatrac.NewNotFound("no such resource")
}

// resourceURL renders the escaped service URL of a name with an optional
// raw suffix such as ":version" or ";upload/job".
func (h *Handler) resourceURL(segments []string, suffix string) string {
	return h.config.ServicePrefix + h.codec.EncodeName(segments) + suffix
}

func (h *Handler) versionURL(segments []string, version string) string {
	return h.resourceURL(segments, ":"+h.codec.EncodeSegment(version))
}

// chainACLs flattens a resolution into the ACL chain authz consumes.
func chainACLs(res *directory.Resolved, extra ...hatrac.ACLs) []hatrac.ACLs {
	chain := make([]hatrac.ACLs, 0, len(res.Ancestors)+1+len(extra))
	for _, node := range res.Ancestors {
		chain = append(chain, node.ACLs)
	}
	chain = append(chain, res.Node.ACLs)
	return append(chain, extra...)
}

// requestVersion resolves the version a reference addresses: the named
// version when qualified, the object's current version otherwise.
func (h *Handler) requestVersion(ctx context.Context, res *directory.Resolved, ref *hpath.Ref) (*directory.Version, error) {
	if res.Node.Kind != hatrac.KindObject {
		return nil, hatrac.NewConflict("%s is not an object", res.Node.Name())
	}
	if ref.Version != "" {
		return h.dir.GetVersion(ctx, res.Node, ref.Version)
	}
	return h.dir.CurrentVersion(ctx, res.Node)
}

// requireLength enforces a declared Content-Length within the configured
// payload bound.
func (h *Handler) requireLength(r *http.Request) (int64, error) {
	if r.ContentLength < 0 {
		return 0, hatrac.NewLengthRequired("request must declare Content-Length")
	}
	if r.ContentLength > h.config.MaxRequestPayloadSize {
		return 0, hatrac.NewPayloadTooLarge("request payload %d exceeds limit %d",
			r.ContentLength, h.config.MaxRequestPayloadSize)
	}
	return r.ContentLength, nil
}

// maxControlBody bounds JSON and text control payloads.
const maxControlBody = 1 << 20

func readControlBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody+1))
	if err != nil {
		return nil, hatrac.NewBadRequest("reading request body: %v", err)
	}
	if len(data) > maxControlBody {
		return nil, hatrac.NewPayloadTooLarge("request body exceeds %d bytes", maxControlBody)
	}
	return data, nil
}
