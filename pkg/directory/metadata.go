// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"database/sql"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

func writeVersionMeta(tx *sql.Tx, id int64, meta hatrac.Metadata) error {
	_, err := tx.Exec(`
		UPDATE version SET
			content_type = NULLIF($1, ''), content_md5 = NULLIF($2, ''),
			content_sha256 = NULLIF($3, ''), content_disposition = NULLIF($4, '')
		WHERE id = $5`,
		meta.ContentType, meta.ContentMD5, meta.ContentSHA256, meta.ContentDisposition, id)
	return Error.Wrap(err)
}

// SetMetadataField updates one metadata field of a version, enforcing the
// field's validation and immutability rules.
func (dir *Directory) SetMetadataField(ctx context.Context, version *Version, field, value string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dir.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanVersion(tx.QueryRow(`
			SELECT `+versionColumns+` FROM version
			WHERE id = $1 AND deleted_at IS NULL`,
			version.ID), version.Name)
		if err != nil {
			return err
		}
		if err := current.Meta.Set(field, value); err != nil {
			return err
		}
		return writeVersionMeta(tx, version.ID, current.Meta)
	})
}

// DeleteMetadataField clears one metadata field of a version. Content
// hashes cannot be cleared once set.
func (dir *Directory) DeleteMetadataField(ctx context.Context, version *Version, field string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dir.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanVersion(tx.QueryRow(`
			SELECT `+versionColumns+` FROM version
			WHERE id = $1 AND deleted_at IS NULL`,
			version.ID), version.Name)
		if err != nil {
			return err
		}
		if err := current.Meta.Delete(field); err != nil {
			return err
		}
		return writeVersionMeta(tx, version.ID, current.Meta)
	})
}
