// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

const versionColumns = `
	id, object_id, COALESCE(version_key, ''), size,
	COALESCE(content_type, ''), COALESCE(content_md5, ''),
	COALESCE(content_sha256, ''), COALESCE(content_disposition, ''),
	created_at, deleted_at IS NOT NULL, acls, aux`

func scanVersion(row interface{ Scan(...interface{}) error }, name string) (*Version, error) {
	var (
		version Version
		acls    []byte
		aux     []byte
	)
	err := row.Scan(
		&version.ID, &version.ObjectID, &version.Key, &version.Size,
		&version.Meta.ContentType, &version.Meta.ContentMD5,
		&version.Meta.ContentSHA256, &version.Meta.ContentDisposition,
		&version.CreatedAt, &version.Deleted, &acls, &aux,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hatrac.NewNotFound("object version not found")
		}
		return nil, Error.Wrap(err)
	}
	version.Name = name
	version.ACLs = unmarshalACLs(acls)
	version.Aux = unmarshalAux(aux)
	return &version, nil
}

// ReserveVersion allocates a version row for an object in the invisible
// reserved state. The row becomes a live version only through
// CompleteVersion after the payload has reached the storage backend.
func (dir *Directory) ReserveVersion(ctx context.Context, node *Node, owner hatrac.ACL) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	acls := hatrac.ACLs{hatrac.AccessOwner: owner.Sorted()}
	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		return Error.Wrap(tx.QueryRow(`
			INSERT INTO version (object_id, version_key, deleted_at, acls)
			VALUES ($1, NULL, now(), $2) RETURNING id`,
			node.ID, marshalACLs(acls),
		).Scan(&id))
	})
	return id, err
}

// CompleteVersion publishes a reserved version: it records the version
// key issued by the storage backend together with size, metadata and aux,
// and advances the object's current version pointer.
func (dir *Directory) CompleteVersion(ctx context.Context, node *Node, id int64, key string, size int64, meta hatrac.Metadata, aux *hatrac.Aux) (version *Version, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE version SET
				version_key = $1, size = $2, deleted_at = NULL,
				content_type = NULLIF($3, ''), content_md5 = NULLIF($4, ''),
				content_sha256 = NULLIF($5, ''), content_disposition = NULLIF($6, ''),
				aux = $7
			WHERE id = $8 AND object_id = $9 AND version_key IS NULL`,
			key, size,
			meta.ContentType, meta.ContentMD5, meta.ContentSHA256, meta.ContentDisposition,
			marshalAux(aux), id, node.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewConflict("version reservation is no longer pending")
		}
		if _, err := tx.Exec(`
			UPDATE object SET current_version_id = $1 WHERE id = $2`,
			id, node.ID); err != nil {
			return Error.Wrap(err)
		}
		version, err = scanVersion(tx.QueryRow(
			`SELECT `+versionColumns+` FROM version WHERE id = $1`, id), node.Name())
		return err
	})
	return version, err
}

// AbortVersion discards a reserved version row after a failed payload
// transfer. Published versions are unaffected.
func (dir *Directory) AbortVersion(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dir.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM version WHERE id = $1 AND version_key IS NULL`, id)
		return Error.Wrap(err)
	})
}

// GetVersion returns one live version of an object by its version key.
func (dir *Directory) GetVersion(ctx context.Context, node *Node, key string) (version *Version, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		version, err = scanVersion(tx.QueryRow(`
			SELECT `+versionColumns+` FROM version
			WHERE object_id = $1 AND version_key = $2 AND deleted_at IS NULL`,
			node.ID, key), node.Name())
		return err
	})
	return version, err
}

// CurrentVersion returns the object's current version, or Conflict when
// the object has no content yet.
func (dir *Directory) CurrentVersion(ctx context.Context, node *Node) (version *Version, err error) {
	defer mon.Task()(&ctx)(&err)

	if !node.CurrentVersionID.Valid {
		return nil, hatrac.NewConflict("object %s currently has no content", node.Name())
	}
	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		version, err = scanVersion(tx.QueryRow(`
			SELECT `+versionColumns+` FROM version
			WHERE id = $1 AND deleted_at IS NULL`,
			node.CurrentVersionID.Int64), node.Name())
		return err
	})
	if err != nil {
		if _, ok := hatrac.AsError(err); ok {
			return nil, hatrac.NewConflict("object %s currently has no content", node.Name())
		}
		return nil, err
	}
	return version, nil
}

// DeleteVersion tombstones one version. When it was the current version,
// the pointer falls back to the newest remaining live version, or to none.
// The returned ref addresses the payload for backend reclamation.
func (dir *Directory) DeleteVersion(ctx context.Context, node *Node, version *Version) (ref storage.Ref, err error) {
	defer mon.Task()(&ctx)(&err)

	ref = version.StorageRef()

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE version SET deleted_at = $1
			WHERE id = $2 AND deleted_at IS NULL`,
			touchedAt(), version.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewNotFound("object version not found")
		}
		_, err = tx.Exec(`
			UPDATE object SET current_version_id = (
				SELECT max(id) FROM version
				WHERE object_id = $1 AND deleted_at IS NULL
			)
			WHERE id = $1 AND current_version_id = $2`,
			node.ID, version.ID)
		return Error.Wrap(err)
	})
	return ref, err
}

// ListVersions returns the live versions of an object, newest first.
func (dir *Directory) ListVersions(ctx context.Context, node *Node) (versions []*Version, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		versions = nil
		rows, err := tx.Query(`
			SELECT `+versionColumns+` FROM version
			WHERE object_id = $1 AND deleted_at IS NULL AND version_key IS NOT NULL
			ORDER BY id DESC`,
			node.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			version, err := scanVersion(rows, node.Name())
			if err != nil {
				return err
			}
			versions = append(versions, version)
		}
		return Error.Wrap(rows.Err())
	})
	return versions, err
}

// UpdateVersionAux rewrites a version's aux record. Relocation uses this
// to set and clear remote links.
func (dir *Directory) UpdateVersionAux(ctx context.Context, id int64, aux *hatrac.Aux) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dir.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE version SET aux = $1 WHERE id = $2 AND deleted_at IS NULL`,
			marshalAux(aux), id)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewNotFound("object version not found")
		}
		return nil
	})
}
