// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage/filestore"
)

type testEnv struct {
	handler *Handler
	dir     *memDir
}

func newTestEnv(t *testing.T, mutate func(*hatrac.Config)) *testEnv {
	config := hatrac.Config{ServicePrefix: "/hatrac"}
	if mutate != nil {
		mutate(&config)
	}
	config = config.WithDefaults()

	store, err := filestore.New(zaptest.NewLogger(t), t.TempDir())
	require.NoError(t, err)

	dir := newMemDir("admin")
	handler, err := NewHandler(zaptest.NewLogger(t), config, dir, store, nil)
	require.NoError(t, err)
	return &testEnv{handler: handler, dir: dir}
}

func headers(pairs ...string) map[string]string {
	h := map[string]string{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h[pairs[i]] = pairs[i+1]
	}
	return h
}

func asAdmin(pairs ...string) map[string]string {
	return headers(append([]string{ClientIDHeader, "admin"}, pairs...)...)
}

func (e *testEnv) do(t *testing.T, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for key, value := range hdr {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) mkdir(t *testing.T, target string) {
	t.Helper()
	w := e.do(t, http.MethodPut, target+"?parents=true", "",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusCreated, w.Code)
}

// mkobj uploads one object version and returns its version URL.
func (e *testEnv) mkobj(t *testing.T, target, body string) string {
	t.Helper()
	w := e.do(t, http.MethodPut, target, body, asAdmin("Content-Type", "text/plain"))
	require.Equal(t, http.StatusCreated, w.Code)
	location := w.Header().Get("Location")
	require.NotEmpty(t, location)
	return location
}

func TestNamespaceLifecycleHTTP(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodPut, "/hatrac/ns", "",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "/hatrac/ns", w.Header().Get("Location"))
	require.Equal(t, "text/uri-list", w.Header().Get("Content-Type"))
	require.Equal(t, "/hatrac/ns\r\n", w.Body.String())

	// duplicate creation conflicts
	w = e.do(t, http.MethodPut, "/hatrac/ns", "",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusConflict, w.Code)

	// nested creation needs parents=true
	w = e.do(t, http.MethodPut, "/hatrac/ns/a/b", "",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusConflict, w.Code)
	w = e.do(t, http.MethodPut, "/hatrac/ns/a/b?parents=true", "",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusCreated, w.Code)

	// root listing, JSON and uri-list
	w = e.do(t, http.MethodGet, "/hatrac/", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var listing []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Equal(t, []string{"/hatrac/ns"}, listing)

	w = e.do(t, http.MethodGet, "/hatrac/ns", "", asAdmin("Accept", "text/uri-list"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "/hatrac/ns/a\r\n", w.Body.String())

	// non-empty namespaces cannot be deleted
	w = e.do(t, http.MethodDelete, "/hatrac/ns/a", "", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)
	w = e.do(t, http.MethodDelete, "/hatrac/ns/a/b", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodDelete, "/hatrac/ns/a", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/hatrac/ns/a", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// the root is permanent
	w = e.do(t, http.MethodDelete, "/hatrac/", "", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestObjectRoundTrip(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	versionURL := e.mkobj(t, "/hatrac/ns/obj", "hello world")
	require.True(t, strings.HasPrefix(versionURL, "/hatrac/ns/obj:"))

	w := e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	require.Equal(t, versionURL, w.Header().Get("Content-Location"))
	require.NotEmpty(t, w.Header().Get("ETag"))

	// the version URL is stable
	w = e.do(t, http.MethodGet, versionURL, "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())

	w = e.do(t, http.MethodHead, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "11", w.Header().Get("Content-Length"))
	require.Empty(t, w.Body.String())

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj:NOSUCHVERSION", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// versions are immutable
	w = e.do(t, http.MethodPut, versionURL, "other", asAdmin())
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestObjectRangeRequests(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")
	e.mkobj(t, "/hatrac/ns/obj", "hello world")

	w := e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=0-4"))
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "hello", w.Body.String())
	require.Equal(t, "bytes 0-4/11", w.Header().Get("Content-Range"))

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=6-"))
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "world", w.Body.String())

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=-5"))
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "world", w.Body.String())

	// a suffix longer than the content selects all of it, still partial
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=-99"))
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "hello world", w.Body.String())
	require.Equal(t, "bytes 0-10/11", w.Header().Get("Content-Range"))

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=42-"))
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	require.Equal(t, "bytes */11", w.Header().Get("Content-Range"))

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=0-2,4-5"))
	require.Equal(t, http.StatusNotImplemented, w.Code)

	// an unusable range header degrades to the full content
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("Range", "bytes=junk"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
}

func TestObjectConditionalRequests(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")
	e.mkobj(t, "/hatrac/ns/obj", "first")

	w := e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin("If-None-Match", etag))
	require.Equal(t, http.StatusNotModified, w.Code)

	w = e.do(t, http.MethodPut, "/hatrac/ns/obj", "second",
		asAdmin("Content-Type", "text/plain", "If-Match", `"stale"`))
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = e.do(t, http.MethodPut, "/hatrac/ns/obj", "second",
		asAdmin("Content-Type", "text/plain", "If-Match", etag))
	require.Equal(t, http.StatusCreated, w.Code)

	// creation of a missing object cannot be conditional on a match
	w = e.do(t, http.MethodPut, "/hatrac/ns/other", "data",
		asAdmin("Content-Type", "text/plain", "If-Match", "*"))
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj;versions", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var versions []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	require.Len(t, versions, 2)

	// deleting the newest version exposes the previous one again
	w = e.do(t, http.MethodDelete, versions[0], "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, versions[0], "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "first", w.Body.String())
}

func TestObjectDelete(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")
	e.mkobj(t, "/hatrac/ns/obj", "payload")

	w := e.do(t, http.MethodDelete, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// a tombstoned object name cannot become a namespace
	w = e.do(t, http.MethodPut, "/hatrac/ns/obj", "",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusConflict, w.Code)

	// but it restores as an object
	e.mkobj(t, "/hatrac/ns/obj", "again")
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "again", w.Body.String())
}

func TestKindConflicts(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	// object creation over a namespace
	w := e.do(t, http.MethodPut, "/hatrac/ns", "data", asAdmin("Content-Type", "text/plain"))
	require.Equal(t, http.StatusConflict, w.Code)

	// an existing object path always takes content, even when the request
	// declares the namespace content type
	e.mkobj(t, "/hatrac/ns/obj", "data")
	w = e.do(t, http.MethodPut, "/hatrac/ns/obj", "new data",
		asAdmin("Content-Type", NamespaceContentType))
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), "/hatrac/ns/obj:"))
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "new data", w.Body.String())

	// an object has no children to list
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj/child", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorization(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/private")
	e.mkobj(t, "/hatrac/private/obj", "secret")

	// anonymous denial reports 401, a known client 403
	w := e.do(t, http.MethodGet, "/hatrac/private/obj", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/private/obj", "", headers(ClientIDHeader, "bob"))
	require.Equal(t, http.StatusForbidden, w.Code)

	// subtree-read on the enclosing namespace grants content reads
	w = e.do(t, http.MethodPut, "/hatrac/private;acl/subtree-read", `["bob"]`, asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/private/obj", "", headers(ClientIDHeader, "bob"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "secret", w.Body.String())

	// reading does not confer writing
	w = e.do(t, http.MethodPut, "/hatrac/private/obj", "new",
		headers(ClientIDHeader, "bob", "Content-Type", "text/plain"))
	require.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/private/obj;acl", "", headers(ClientIDHeader, "bob"))
	require.Equal(t, http.StatusForbidden, w.Code)

	// roles participate in matching
	w = e.do(t, http.MethodGet, "/hatrac/private/obj", "",
		headers(ClientIDHeader, "carol", ClientRolesHeader, "bob"))
	require.Equal(t, http.StatusOK, w.Code)

	// the wildcard admits anonymous readers
	w = e.do(t, http.MethodPut, "/hatrac/private;acl/subtree-read", `["*"]`, asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/private/obj", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFirewallDenies(t *testing.T) {
	e := newTestEnv(t, func(c *hatrac.Config) {
		c.FirewallACLs.Delete = hatrac.ACL{}
	})
	e.mkdir(t, "/hatrac/ns")
	e.mkobj(t, "/hatrac/ns/obj", "data")

	// even the owner cannot pass a closed firewall list
	w := e.do(t, http.MethodDelete, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusForbidden, w.Code)

	// reads are never firewalled
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
}

func TestACLResource(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	w := e.do(t, http.MethodGet, "/hatrac/ns;acl", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var collection map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &collection))
	require.Equal(t, []string{"admin"}, collection["owner"])
	require.Contains(t, collection, "subtree-read")

	// "read" is not a namespace access mode
	w = e.do(t, http.MethodGet, "/hatrac/ns;acl/read", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// the collection itself is not writable
	w = e.do(t, http.MethodPut, "/hatrac/ns;acl", `{}`, asAdmin())
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = e.do(t, http.MethodPut, "/hatrac/ns;acl/owner", `[]`, asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodDelete, "/hatrac/ns;acl/owner", "", asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodDelete, "/hatrac/ns;acl/owner/admin", "", asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/hatrac/ns;acl/subtree-read/carol", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/ns;acl/subtree-read", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var list []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, []string{"carol"}, list)

	w = e.do(t, http.MethodGet, "/hatrac/ns;acl/subtree-read/carol", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "carol\n", w.Body.String())

	w = e.do(t, http.MethodDelete, "/hatrac/ns;acl/subtree-read/carol", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodDelete, "/hatrac/ns;acl/subtree-read/carol", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/hatrac/ns;acl/subtree-read", `not json`, asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVersionACLResource(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")
	versionURL := e.mkobj(t, "/hatrac/ns/obj", "data")

	w := e.do(t, http.MethodPut, versionURL+";acl/read", `["dave"]`, asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)

	// a version read grant covers that version's content
	w = e.do(t, http.MethodGet, versionURL, "", headers(ClientIDHeader, "dave"))
	require.Equal(t, http.StatusOK, w.Code)

	// subtree modes do not exist on versions
	w = e.do(t, http.MethodPut, versionURL+";acl/subtree-read", `["dave"]`, asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetadataResource(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")
	e.mkobj(t, "/hatrac/ns/obj", "data")

	w := e.do(t, http.MethodGet, "/hatrac/ns/obj;metadata", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
	require.Equal(t, "text/plain", fields["content-type"])

	w = e.do(t, http.MethodPut, "/hatrac/ns/obj;metadata/content-disposition",
		"filename*=UTF-8''report.txt", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj;metadata/content-disposition", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "filename*=UTF-8''report.txt\n", w.Body.String())

	// the stored field shows up on content responses
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, "filename*=UTF-8''report.txt", w.Header().Get("Content-Disposition"))

	w = e.do(t, http.MethodPut, "/hatrac/ns/obj;metadata/content-disposition",
		"attachment; filename=report.txt", asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)

	// unknown and unset fields
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj;metadata/flavor", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/ns/obj;metadata/content-md5", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// hashes set once, never change
	md5 := "1B2M2Y8AsgTpgAmY7PhCfg=="
	w = e.do(t, http.MethodPut, "/hatrac/ns/obj;metadata/content-md5", md5, asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodPut, "/hatrac/ns/obj;metadata/content-md5", md5, asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodPut, "/hatrac/ns/obj;metadata/content-md5",
		"XrY7u+Ae7tCTyyK7j1rNww==", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)
	w = e.do(t, http.MethodDelete, "/hatrac/ns/obj;metadata/content-md5", "", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodDelete, "/hatrac/ns/obj;metadata/content-disposition", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)

	// the collection is read-only as a whole
	w = e.do(t, http.MethodPut, "/hatrac/ns/obj;metadata", `{}`, asAdmin())
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUploadLifecycleHTTP(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	w := e.do(t, http.MethodPost, "/hatrac/ns/obj;upload",
		`{"chunk-length":5,"content-length":11,"content-type":"text/plain"}`,
		asAdmin("Content-Type", "application/json"))
	require.Equal(t, http.StatusCreated, w.Code)
	jobURL := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(jobURL, "/hatrac/ns/obj;upload/"))

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj;upload", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Equal(t, []string{jobURL}, jobs)

	w = e.do(t, http.MethodGet, jobURL, "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "/ns/obj", status["target"])
	require.Equal(t, float64(5), status["chunk-length"])

	// chunks must match the declared geometry
	w = e.do(t, http.MethodPut, jobURL+"/0", "he", asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodPut, jobURL+"/5", "xxxxx", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPut, jobURL+"/0", "hello", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)

	// premature finalize reports the gap and leaves the job open
	w = e.do(t, http.MethodPost, jobURL, "", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPut, jobURL+"/1", " worl", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodPut, jobURL+"/2", "d", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodPost, jobURL, "", asAdmin())
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), "/hatrac/ns/obj:"))

	w = e.do(t, http.MethodGet, "/hatrac/ns/obj", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))

	// finalized jobs are gone
	w = e.do(t, http.MethodGet, jobURL, "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadCancelAndAliases(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	// legacy underscore field names still parse
	w := e.do(t, http.MethodPost, "/hatrac/ns/obj;upload",
		`{"chunk_bytes":4,"total_bytes":8}`, asAdmin("Content-Type", "application/json"))
	require.Equal(t, http.StatusCreated, w.Code)
	jobURL := w.Header().Get("Location")

	w = e.do(t, http.MethodDelete, jobURL, "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, jobURL, "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/hatrac/ns/obj;upload", `not json`,
		asAdmin("Content-Type", "application/json"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodPost, "/hatrac/ns/obj;upload",
		`{"chunk-length":0,"content-length":8}`, asAdmin("Content-Type", "application/json"))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadZeroLengthJob(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	w := e.do(t, http.MethodPost, "/hatrac/ns/empty;upload",
		`{"chunk-length":5,"content-length":0,"content-type":"text/plain"}`,
		asAdmin("Content-Type", "application/json"))
	require.Equal(t, http.StatusCreated, w.Code)
	jobURL := w.Header().Get("Location")

	// a zero-length job has no chunk positions
	w = e.do(t, http.MethodPut, jobURL+"/0", "x", asAdmin())
	require.Equal(t, http.StatusConflict, w.Code)

	// it finalizes straight to an empty version
	w = e.do(t, http.MethodPost, jobURL, "", asAdmin())
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodGet, "/hatrac/ns/empty", "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0", w.Header().Get("Content-Length"))
	require.Empty(t, w.Body.String())

	// the total is optional to be zero, not optional to declare
	w = e.do(t, http.MethodPost, "/hatrac/ns/empty;upload",
		`{"chunk-length":5}`, asAdmin("Content-Type", "application/json"))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuxRenameAndRedirect(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")
	oldURL := e.mkobj(t, "/hatrac/ns/old", "superseded")
	newURL := e.mkobj(t, "/hatrac/ns/new", "current bytes")
	_, newKey, _ := strings.Cut(newURL, ":")
	_, oldKey, _ := strings.Cut(oldURL, ":")

	res, err := e.dir.Resolve(ctx, []string{"ns", "old"})
	require.NoError(t, err)
	oldVersion, err := e.dir.CurrentVersion(ctx, res.Node)
	require.NoError(t, err)
	require.NoError(t, e.dir.UpdateVersionAux(ctx, oldVersion.ID, &hatrac.Aux{
		RenameTo: &hatrac.RenameRef{Name: "/ns/new", Version: newKey},
	}))

	// reads of the renamed version serve the successor
	w := e.do(t, http.MethodGet, oldURL, "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "current bytes", w.Body.String())
	require.Equal(t, newURL, w.Header().Get("Content-Location"))

	// a rename cycle is a server-side defect
	res, err = e.dir.Resolve(ctx, []string{"ns", "new"})
	require.NoError(t, err)
	newVersion, err := e.dir.CurrentVersion(ctx, res.Node)
	require.NoError(t, err)
	require.NoError(t, e.dir.UpdateVersionAux(ctx, newVersion.ID, &hatrac.Aux{
		RenameTo: &hatrac.RenameRef{Name: "/ns/old", Version: oldKey},
	}))
	w = e.do(t, http.MethodGet, oldURL, "", asAdmin())
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// a url record redirects instead of streaming
	relocated := e.mkobj(t, "/hatrac/ns/remote", "elsewhere")
	res, err = e.dir.Resolve(ctx, []string{"ns", "remote"})
	require.NoError(t, err)
	version, err := e.dir.CurrentVersion(ctx, res.Node)
	require.NoError(t, err)
	require.NoError(t, e.dir.UpdateVersionAux(ctx, version.ID, &hatrac.Aux{
		URL: "https://mirror.example.org/remote",
	}))
	w = e.do(t, http.MethodGet, relocated, "", asAdmin())
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "https://mirror.example.org/remote", w.Header().Get("Location"))
}

// setPayloadOverride points an object's current version at the payload
// stored for another (name, version) pair, the way a completed transfer
// records the backend key it stored under.
func (e *testEnv) setPayloadOverride(t *testing.T, segments []string, hname, hversion string) {
	t.Helper()
	ctx := context.Background()
	res, err := e.dir.Resolve(ctx, segments)
	require.NoError(t, err)
	version, err := e.dir.CurrentVersion(ctx, res.Node)
	require.NoError(t, err)
	require.NoError(t, e.dir.UpdateVersionAux(ctx, version.ID, &hatrac.Aux{
		HName: hname, HVersion: hversion,
	}))
}

func TestDeleteReclaimsRelocatedPayload(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	srcURL := e.mkobj(t, "/hatrac/ns/src", "relocated bytes")
	_, srcKey, _ := strings.Cut(srcURL, ":")
	aliasURL := e.mkobj(t, "/hatrac/ns/alias", "to be replaced!")
	e.setPayloadOverride(t, []string{"ns", "alias"}, "/ns/src", srcKey)

	// reads follow the override
	w := e.do(t, http.MethodGet, aliasURL, "", asAdmin())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "relocated bytes", w.Body.String())

	// so does payload reclamation when the version is deleted
	w = e.do(t, http.MethodDelete, aliasURL, "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, srcURL, "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// and when the whole object is deleted
	src2URL := e.mkobj(t, "/hatrac/ns/src2", "relocated again")
	_, src2Key, _ := strings.Cut(src2URL, ":")
	e.mkobj(t, "/hatrac/ns/alias2", "to be replaced!")
	e.setPayloadOverride(t, []string{"ns", "alias2"}, "/ns/src2", src2Key)

	w = e.do(t, http.MethodDelete, "/hatrac/ns/alias2", "", asAdmin())
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, src2URL, "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorNegotiation(t *testing.T) {
	e := newTestEnv(t, func(c *hatrac.Config) {
		c.ErrorTemplates = hatrac.ErrorTemplates{
			"404": {"text/html": "<b>%(code)s %(title)s</b>"},
		}
	})

	// JSON is the default error rendition
	w := e.do(t, http.MethodGet, "/hatrac/missing", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(404), body["code"])

	w = e.do(t, http.MethodGet, "/hatrac/missing", "", asAdmin("Accept", "text/plain"))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "404")

	// configured templates win over built-ins
	w = e.do(t, http.MethodGet, "/hatrac/missing", "", asAdmin("Accept", "text/html"))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "<b>404")

	// HEAD errors carry headers only
	w = e.do(t, http.MethodHead, "/hatrac/missing", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Empty(t, w.Body.String())
}

func TestRequestValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mkdir(t, "/hatrac/ns")

	// outside the service prefix
	w := e.do(t, http.MethodGet, "/elsewhere/x", "", asAdmin())
	require.Equal(t, http.StatusNotFound, w.Code)

	// path grammar violations
	w = e.do(t, http.MethodGet, "/hatrac/a!b", "", asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodGet, "/hatrac/ns;bogus", "", asAdmin())
	require.Equal(t, http.StatusBadRequest, w.Code)

	// object creation at the root name
	w = e.do(t, http.MethodPut, "/hatrac/", "data", asAdmin("Content-Type", "text/plain"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	// a PUT without a declared length
	req := httptest.NewRequest(http.MethodPut, "/hatrac/ns/obj",
		struct{ io.Reader }{strings.NewReader("data")})
	req.Header.Set(ClientIDHeader, "admin")
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusLengthRequired, w.Code)
}

func TestPayloadLimit(t *testing.T) {
	e := newTestEnv(t, func(c *hatrac.Config) {
		c.MaxRequestPayloadSize = 8
	})
	e.mkdir(t, "/hatrac/ns")

	w := e.do(t, http.MethodPut, "/hatrac/ns/obj", "tiny", asAdmin("Content-Type", "text/plain"))
	require.Equal(t, http.StatusCreated, w.Code)
	w = e.do(t, http.MethodPut, "/hatrac/ns/big", "way past the limit",
		asAdmin("Content-Type", "text/plain"))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
