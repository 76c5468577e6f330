// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/authz"
	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
)

// uploadRequest is the decoded upload job description.
type uploadRequest struct {
	ChunkLength   int64
	ContentLength int64
	Meta          hatrac.Metadata
}

// uploadFieldAliases canonicalizes the legacy underscore field names still
// produced by older clients.
var uploadFieldAliases = map[string]string{
	"chunk_bytes":         "chunk-length",
	"total_bytes":         "content-length",
	"content_type":        "content-type",
	"content_md5":         "content-md5",
	"content_sha256":      "content-sha256",
	"content_disposition": "content-disposition",
}

func parseUploadRequest(data []byte) (*uploadRequest, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw map[string]interface{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, hatrac.NewBadRequest("upload request must be a JSON object")
	}

	req := &uploadRequest{}
	haveContentLength := false
	for key, value := range raw {
		if canonical, ok := uploadFieldAliases[key]; ok {
			key = canonical
		}
		switch key {
		case "chunk-length", "content-length":
			number, ok := value.(json.Number)
			if !ok {
				return nil, hatrac.NewBadRequest("upload field %q must be an integer", key)
			}
			parsed, err := number.Int64()
			if err != nil || parsed < 0 {
				return nil, hatrac.NewBadRequest("upload field %q must be a non-negative integer", key)
			}
			if key == "chunk-length" {
				req.ChunkLength = parsed
			} else {
				req.ContentLength = parsed
				haveContentLength = true
			}
		case hatrac.FieldContentType, hatrac.FieldContentMD5,
			hatrac.FieldContentSHA256, hatrac.FieldContentDisposition:
			text, ok := value.(string)
			if !ok {
				return nil, hatrac.NewBadRequest("upload field %q must be a string", key)
			}
			if err := req.Meta.Set(key, text); err != nil {
				return nil, err
			}
		}
	}
	if req.ChunkLength <= 0 {
		return nil, hatrac.NewBadRequest("upload request must declare a positive chunk-length")
	}
	// Zero is a valid total: the job has no chunks and finalizes to an
	// empty version.
	if !haveContentLength {
		return nil, hatrac.NewBadRequest("upload request must declare content-length")
	}
	return req, nil
}

func (h *Handler) jobURL(segments []string, jobKey string) string {
	return h.resourceURL(segments, ";upload/"+h.codec.EncodeSegment(jobKey))
}

func (h *Handler) serveUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	if ref.JobID == "" {
		switch r.Method {
		case http.MethodPost:
			return h.createUploadJob(ctx, w, r, client, ref)
		case http.MethodGet, http.MethodHead:
			return h.listUploadJobs(ctx, w, r, client, ref)
		}
		return hatrac.NewMethodNotAllowed("method %s not supported on the upload collection", r.Method)
	}

	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	if res.Node.Kind != hatrac.KindObject {
		return hatrac.NewConflict("%s is not an object", res.Node.Name())
	}
	job, err := h.dir.GetUpload(ctx, res.Node, ref.JobID)
	if err != nil {
		return err
	}
	jobChain := chainACLs(res, hatrac.ACLs{hatrac.AccessOwner: job.Owner})

	if ref.HasChunk {
		if r.Method != http.MethodPut {
			return hatrac.NewMethodNotAllowed("method %s not supported on upload chunks", r.Method)
		}
		if err := h.authz.Authorize(client, authz.ActionUpdate, res.Node.Name(), jobChain); err != nil {
			return err
		}
		return h.putChunk(ctx, w, r, job, ref)
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if err := h.authz.Authorize(client, authz.ActionUpdate, res.Node.Name(), jobChain); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"url":            h.jobURL(ref.Segments, job.JobKey),
			"target":         job.Name,
			"owner":          job.Owner.Sorted(),
			"chunk-length":   job.ChunkLength,
			"content-length": job.ContentLength,
		})
		return nil
	case http.MethodPost:
		if err := h.authz.Authorize(client, authz.ActionUpdate, res.Node.Name(), jobChain); err != nil {
			return err
		}
		return h.finalizeUploadJob(ctx, w, client, res, job, ref)
	case http.MethodDelete:
		if err := h.authz.Authorize(client, authz.ActionDelete, res.Node.Name(), jobChain); err != nil {
			return err
		}
		if err := h.dir.CancelUpload(ctx, job); err != nil {
			return err
		}
		if err := h.store.CancelUpload(ctx, job.Name, job.Handle); err != nil {
			h.log.Warn("upload reclamation failed",
				zap.String("name", job.Name), zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return hatrac.NewMethodNotAllowed("method %s not supported on upload jobs", r.Method)
}

func (h *Handler) createUploadJob(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	if err := hpath.ValidateNewName(ref.Segments); err != nil {
		return err
	}
	data, err := readControlBody(r)
	if err != nil {
		return err
	}
	req, err := parseUploadRequest(data)
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
	case isStatus(err, http.StatusNotFound):
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

	node, _, err := h.dir.CreateObject(ctx, ref.Segments, ownerACL(client))
	if err != nil {
		return err
	}
	handle, err := h.store.CreateUpload(ctx, node.Name(), req.ContentLength, req.Meta)
	if err != nil {
		return err
	}
	job, err := h.dir.CreateUpload(ctx, node, req.ChunkLength, req.ContentLength, req.Meta, ownerACL(client), handle)
	if err != nil {
		if cerr := h.store.CancelUpload(ctx, node.Name(), handle); cerr != nil {
			h.log.Warn("upload reclamation failed", zap.Error(cerr))
		}
		return err
	}

	h.log.Info("upload job created",
		zap.String("name", node.Name()),
		zap.String("job", job.JobKey),
		zap.String("client", client.ID))

	location := h.jobURL(ref.Segments, job.JobKey)
	w.Header().Set("Location", location)
	writeText(w, http.StatusCreated, "text/uri-list", location+"\r\n")
	return nil
}

func (h *Handler) listUploadJobs(ctx context.Context, w http.ResponseWriter, r *http.Request, client hatrac.Client, ref *hpath.Ref) error {
	res, err := h.dir.Resolve(ctx, ref.Segments)
	if err != nil {
		return err
	}
	if res.Node.Kind != hatrac.KindObject {
		return hatrac.NewConflict("%s is not an object", res.Node.Name())
	}
	if err := h.authz.Authorize(client, authz.ActionUpdate, res.Node.Name(), chainACLs(res)); err != nil {
		return err
	}
	jobs, err := h.dir.ListUploads(ctx, res.Node)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(jobs))
	for _, job := range jobs {
		urls = append(urls, h.jobURL(ref.Segments, job.JobKey))
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

func (h *Handler) putChunk(ctx context.Context, w http.ResponseWriter, r *http.Request, job *directory.Upload, ref *hpath.Ref) error {
	if ref.Chunk >= job.NumChunks() {
		return hatrac.NewConflict("chunk %d beyond the %d chunks of the job", ref.Chunk, job.NumChunks())
	}
	size, err := h.requireLength(r)
	if err != nil {
		return err
	}
	if expected := job.ChunkSize(ref.Chunk); size != expected {
		return hatrac.NewBadRequest("chunk %d must be %d bytes, got %d", ref.Chunk, expected, size)
	}

	chunk, err := h.store.UploadChunk(ctx, job.Name, job.Handle, ref.Chunk, job.ChunkLength, size, r.Body)
	if err != nil {
		return err
	}
	if err := h.dir.RecordChunk(ctx, job, ref.Chunk, chunk); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// finalizeUploadJob assembles the transferred chunks into a published
// version. The job state transition admits one winner; a failed assembly
// reopens the job for retry.
func (h *Handler) finalizeUploadJob(ctx context.Context, w http.ResponseWriter, client hatrac.Client, res *directory.Resolved, job *directory.Upload, ref *hpath.Ref) error {
	job, err := h.dir.BeginFinalize(ctx, job)
	if err != nil {
		return err
	}

	reservation, err := h.dir.ReserveVersion(ctx, res.Node, ownerACL(client))
	if err != nil {
		if ferr := h.dir.FailFinalize(ctx, job); ferr != nil {
			h.log.Warn("upload reopen failed", zap.Error(ferr))
		}
		return err
	}
	key, aux, err := h.store.FinalizeUpload(ctx, job.Name, job.Handle, job.SortedChunks(), job.Meta)
	if err != nil {
		if aerr := h.dir.AbortVersion(ctx, reservation); aerr != nil {
			h.log.Warn("reservation cleanup failed", zap.Error(aerr))
		}
		if ferr := h.dir.FailFinalize(ctx, job); ferr != nil {
			h.log.Warn("upload reopen failed", zap.Error(ferr))
		}
		return err
	}
	version, err := h.dir.CompleteVersion(ctx, res.Node, reservation, key, job.ContentLength, job.Meta, aux)
	if err != nil {
		return err
	}
	if err := h.dir.CompleteFinalize(ctx, job); err != nil {
		h.log.Warn("upload retirement failed",
			zap.String("job", job.JobKey), zap.Error(err))
	}

	h.log.Info("upload job finalized",
		zap.String("name", job.Name),
		zap.String("version", version.Key),
		zap.String("client", client.ID))

	location := h.versionURL(ref.Segments, version.Key)
	w.Header().Set("Location", location)
	w.Header().Set("ETag", versionETag(version))
	writeText(w, http.StatusCreated, "text/uri-list", location+"\r\n")
	return nil
}
