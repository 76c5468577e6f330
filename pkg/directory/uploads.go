// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

var jobEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func newJobKey() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return jobEncoding.EncodeToString(buf[:])
}

func marshalChunks(chunks map[int64]storage.ChunkAux) []byte {
	keyed := make(map[string]storage.ChunkAux, len(chunks))
	for position, chunk := range chunks {
		keyed[strconv.FormatInt(position, 10)] = chunk
	}
	data, _ := json.Marshal(keyed)
	return data
}

func unmarshalChunks(data []byte) map[int64]storage.ChunkAux {
	chunks := map[int64]storage.ChunkAux{}
	keyed := map[string]storage.ChunkAux{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &keyed)
	}
	for key, chunk := range keyed {
		position, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		chunks[position] = chunk
	}
	return chunks
}

const uploadColumns = `
	id, object_id, job_key, chunk_length, content_length,
	metadata, owner, backend_handle, chunk_aux, state, created_on`

func scanUpload(row interface{ Scan(...interface{}) error }, name string) (*Upload, error) {
	var (
		upload Upload
		meta   []byte
		owner  []byte
		chunks []byte
	)
	err := row.Scan(
		&upload.ID, &upload.ObjectID, &upload.JobKey,
		&upload.ChunkLength, &upload.ContentLength,
		&meta, &owner, &upload.Handle, &chunks, &upload.State, &upload.CreatedOn,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hatrac.NewNotFound("upload job not found")
		}
		return nil, Error.Wrap(err)
	}
	upload.Name = name
	_ = json.Unmarshal(meta, &upload.Meta)
	_ = json.Unmarshal(owner, &upload.Owner)
	upload.Chunks = unmarshalChunks(chunks)
	return &upload, nil
}

// CreateUpload records a new chunked upload job against an object. The
// backend handle is the storage-side transfer state already opened by the
// caller.
func (dir *Directory) CreateUpload(ctx context.Context, node *Node, chunkLength, contentLength int64, meta hatrac.Metadata, owner hatrac.ACL, handle string) (upload *Upload, err error) {
	defer mon.Task()(&ctx)(&err)

	metaData, _ := json.Marshal(meta)
	ownerData, _ := json.Marshal(owner.Sorted())

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		upload, err = scanUpload(tx.QueryRow(`
			INSERT INTO upload (object_id, job_key, chunk_length, content_length, metadata, owner, backend_handle)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+uploadColumns,
			node.ID, newJobKey(), chunkLength, contentLength,
			metaData, ownerData, handle), node.Name())
		return err
	})
	return upload, err
}

// GetUpload returns an open upload job by its key. Finalized and
// cancelled jobs report not-found.
func (dir *Directory) GetUpload(ctx context.Context, node *Node, jobKey string) (upload *Upload, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		upload, err = scanUpload(tx.QueryRow(`
			SELECT `+uploadColumns+` FROM upload
			WHERE object_id = $1 AND job_key = $2 AND state = $3`,
			node.ID, jobKey, UploadOpen), node.Name())
		return err
	})
	return upload, err
}

// ListUploads returns the open upload jobs of an object, oldest first.
func (dir *Directory) ListUploads(ctx context.Context, node *Node) (uploads []*Upload, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		uploads = nil
		rows, err := tx.Query(`
			SELECT `+uploadColumns+` FROM upload
			WHERE object_id = $1 AND state = $2
			ORDER BY id`,
			node.ID, UploadOpen)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			upload, err := scanUpload(rows, node.Name())
			if err != nil {
				return err
			}
			uploads = append(uploads, upload)
		}
		return Error.Wrap(rows.Err())
	})
	return uploads, err
}

// RecordChunk notes a successfully transferred chunk. Retransmission of a
// position overwrites the previous record.
func (dir *Directory) RecordChunk(ctx context.Context, upload *Upload, position int64, chunk storage.ChunkAux) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, _ := json.Marshal(chunk)
	return dir.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE upload SET chunk_aux = jsonb_set(chunk_aux, ARRAY[$1::text], $2::jsonb)
			WHERE id = $3 AND state = $4`,
			strconv.FormatInt(position, 10), data, upload.ID, UploadOpen)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewNotFound("upload job not found")
		}
		return nil
	})
}

// BeginFinalize moves an open job to the finalizing state and returns its
// refreshed record. The state transition admits a single winner, so at
// most one finalize can publish a version for the job.
func (dir *Directory) BeginFinalize(ctx context.Context, upload *Upload) (refreshed *Upload, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		refreshed, err = scanUpload(tx.QueryRow(`
			UPDATE upload SET state = $1
			WHERE id = $2 AND state = $3
			RETURNING `+uploadColumns,
			UploadFinalizing, upload.ID, UploadOpen), upload.Name)
		if err != nil {
			if _, ok := hatrac.AsError(err); ok {
				return hatrac.NewConflict("upload job is already being finalized")
			}
			return err
		}
		missing := refreshed.NumChunks() - int64(len(refreshed.Chunks))
		if missing > 0 {
			// The rollback leaves the job open for further chunks.
			return hatrac.NewConflict("upload job is missing %d of %d chunks",
				missing, refreshed.NumChunks())
		}
		return nil
	})
	return refreshed, err
}

// CompleteFinalize retires a finalizing job after its version has been
// published.
func (dir *Directory) CompleteFinalize(ctx context.Context, upload *Upload) (err error) {
	defer mon.Task()(&ctx)(&err)
	return dir.setUploadState(ctx, upload.ID, UploadFinalizing, UploadFinalized)
}

// FailFinalize reopens a finalizing job after a failed publish so the
// client can retry.
func (dir *Directory) FailFinalize(ctx context.Context, upload *Upload) (err error) {
	defer mon.Task()(&ctx)(&err)
	return dir.setUploadState(ctx, upload.ID, UploadFinalizing, UploadOpen)
}

// CancelUpload retires an open job without publishing a version.
func (dir *Directory) CancelUpload(ctx context.Context, upload *Upload) (err error) {
	defer mon.Task()(&ctx)(&err)
	return dir.setUploadState(ctx, upload.ID, UploadOpen, UploadCancelled)
}

func (dir *Directory) setUploadState(ctx context.Context, id int64, from, to string) error {
	return dir.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE upload SET state = $1 WHERE id = $2 AND state = $3`,
			to, id, from)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewNotFound("upload job not found")
		}
		return nil
	})
}
