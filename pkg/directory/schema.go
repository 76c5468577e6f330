// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/hatrac/hatrac/internal/migrate"
	"github.com/hatrac/hatrac/pkg/hatrac"
)

func (dir *Directory) migration() *migrate.Migration {
	return &migrate.Migration{
		Table: "schema_versions",
		Steps: []*migrate.Step{
			{
				Version:     1,
				Description: "initial namespace, object, version and upload tables",
				Action: migrate.SQL{
					`CREATE TABLE namespace (
						id bigserial PRIMARY KEY,
						parent_id bigint REFERENCES namespace(id),
						name text NOT NULL,
						created_at timestamptz NOT NULL DEFAULT now(),
						deleted_at timestamptz,
						acls jsonb NOT NULL DEFAULT '{}',
						aux jsonb
					)`,
					`CREATE UNIQUE INDEX namespace_parent_name_idx
						ON namespace (COALESCE(parent_id, 0), name)`,
					`CREATE TABLE object (
						id bigserial PRIMARY KEY,
						namespace_id bigint NOT NULL REFERENCES namespace(id),
						name text NOT NULL,
						current_version_id bigint,
						created_at timestamptz NOT NULL DEFAULT now(),
						deleted_at timestamptz,
						acls jsonb NOT NULL DEFAULT '{}',
						aux jsonb,
						UNIQUE (namespace_id, name)
					)`,
					`CREATE TABLE version (
						id bigserial PRIMARY KEY,
						object_id bigint NOT NULL REFERENCES object(id),
						version_key text,
						size bigint NOT NULL DEFAULT 0,
						content_type text,
						content_md5 text,
						content_sha256 text,
						content_disposition text,
						created_at timestamptz NOT NULL DEFAULT now(),
						deleted_at timestamptz,
						acls jsonb NOT NULL DEFAULT '{}',
						aux jsonb,
						UNIQUE (object_id, version_key),
						CHECK (version_key IS NOT NULL OR deleted_at IS NOT NULL)
					)`,
					`CREATE INDEX version_object_id_idx ON version (object_id, id)`,
					`CREATE TABLE upload (
						id bigserial PRIMARY KEY,
						object_id bigint NOT NULL REFERENCES object(id),
						job_key text NOT NULL UNIQUE,
						chunk_length bigint NOT NULL,
						content_length bigint NOT NULL,
						metadata jsonb NOT NULL DEFAULT '{}',
						created_on timestamptz NOT NULL DEFAULT now(),
						owner jsonb NOT NULL DEFAULT '[]',
						backend_handle text NOT NULL DEFAULT '',
						chunk_aux jsonb NOT NULL DEFAULT '{}',
						state text NOT NULL DEFAULT 'open'
					)`,
					`CREATE INDEX upload_object_state_idx ON upload (object_id, state)`,
					`INSERT INTO namespace (parent_id, name) VALUES (NULL, '')`,
				},
			},
		},
	}
}

// Migrate brings the schema up to date.
func (dir *Directory) Migrate(ctx context.Context) error {
	return dir.migration().Run(dir.log.Named("migrate"), dir.db)
}

// Deploy initializes the schema and grants root-namespace ownership to
// the given administrative roles.
func (dir *Directory) Deploy(ctx context.Context, adminRoles []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := dir.Migrate(ctx); err != nil {
		return err
	}
	return dir.withTx(ctx, func(tx *sql.Tx) error {
		root, err := lookupChild(tx, 0, "")
		if err != nil {
			return err
		}
		acls := root.ACLs.Clone()
		owners := acls.Get(hatrac.AccessOwner)
		for _, role := range adminRoles {
			owners = owners.Add(role)
		}
		acls[hatrac.AccessOwner] = owners
		dir.log.Info("granting root ownership", zap.Strings("roles", adminRoles))
		return updateACLs(tx, "namespace", root.ID, acls)
	})
}
