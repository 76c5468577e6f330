// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// kindTable maps a resource kind to its backing table.
func kindTable(kind hatrac.Kind) string {
	switch kind {
	case hatrac.KindNamespace:
		return "namespace"
	case hatrac.KindObject:
		return "object"
	default:
		return "version"
	}
}

func loadACLs(tx *sql.Tx, table string, id int64) (hatrac.ACLs, error) {
	var data []byte
	err := tx.QueryRow(`SELECT acls FROM `+table+` WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hatrac.NewNotFound("resource no longer available")
		}
		return nil, Error.Wrap(err)
	}
	return unmarshalACLs(data), nil
}

func updateACLs(tx *sql.Tx, table string, id int64, acls hatrac.ACLs) error {
	_, err := tx.Exec(`UPDATE `+table+` SET acls = $1 WHERE id = $2`,
		marshalACLs(acls), id)
	return Error.Wrap(err)
}

// SetACL replaces one named access list of a resource.
func (dir *Directory) SetACL(ctx context.Context, kind hatrac.Kind, id int64, access string, acl hatrac.ACL) (result hatrac.ACLs, err error) {
	defer mon.Task()(&ctx)(&err)

	table := kindTable(kind)
	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		acls, err := loadACLs(tx, table, id)
		if err != nil {
			return err
		}
		acls[access] = acl.Sorted()
		result = acls
		return updateACLs(tx, table, id, acls)
	})
	return result, err
}

// ClearACL empties one named access list of a resource.
func (dir *Directory) ClearACL(ctx context.Context, kind hatrac.Kind, id int64, access string) (err error) {
	defer mon.Task()(&ctx)(&err)

	table := kindTable(kind)
	return dir.withTx(ctx, func(tx *sql.Tx) error {
		acls, err := loadACLs(tx, table, id)
		if err != nil {
			return err
		}
		acls[access] = hatrac.ACL{}
		return updateACLs(tx, table, id, acls)
	})
}

// AddACLEntry adds one entry to a named access list. Adding an entry that
// is already present is idempotent.
func (dir *Directory) AddACLEntry(ctx context.Context, kind hatrac.Kind, id int64, access, entry string) (err error) {
	defer mon.Task()(&ctx)(&err)

	table := kindTable(kind)
	return dir.withTx(ctx, func(tx *sql.Tx) error {
		acls, err := loadACLs(tx, table, id)
		if err != nil {
			return err
		}
		acls[access] = acls.Get(access).Add(entry)
		return updateACLs(tx, table, id, acls)
	})
}

// DropACLEntry removes one entry from a named access list, failing with
// NotFound when the entry is not present.
func (dir *Directory) DropACLEntry(ctx context.Context, kind hatrac.Kind, id int64, access, entry string) (err error) {
	defer mon.Task()(&ctx)(&err)

	table := kindTable(kind)
	return dir.withTx(ctx, func(tx *sql.Tx) error {
		acls, err := loadACLs(tx, table, id)
		if err != nil {
			return err
		}
		if !acls.Get(access).Contains(entry) {
			return hatrac.NewNotFound("entry %q not present in %s ACL", entry, access)
		}
		acls[access] = acls.Get(access).Remove(entry)
		return updateACLs(tx, table, id, acls)
	})
}
