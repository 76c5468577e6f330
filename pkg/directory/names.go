// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"database/sql"
	"sort"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

func insertNamespace(tx *sql.Tx, parentID int64, segment string, acls hatrac.ACLs) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO namespace (parent_id, name, acls)
		VALUES ($1, $2, $3) RETURNING id`,
		parentID, segment, marshalACLs(acls),
	).Scan(&id)
	return id, Error.Wrap(err)
}

// restoreName revives a tombstoned binding under fresh ownership. Old ACLs
// do not carry over across the delete.
func restoreName(tx *sql.Tx, table string, id int64, acls hatrac.ACLs) error {
	_, err := tx.Exec(`
		UPDATE `+table+` SET deleted_at = NULL, created_at = now(), acls = $1, aux = NULL
		WHERE id = $2`,
		marshalACLs(acls), id)
	return Error.Wrap(err)
}

// CreateNamespace binds a new namespace at segments. With makeParents,
// missing intermediate namespaces are created with the same owner ACL.
// A live binding at the final name is a conflict, as is a tombstone of a
// different kind. A namespace tombstone is restored.
func (dir *Directory) CreateNamespace(ctx context.Context, segments []string, owner hatrac.ACL, makeParents bool) (node *Node, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(segments) == 0 {
		return nil, hatrac.NewConflict("root namespace already exists")
	}
	acls := hatrac.ACLs{hatrac.AccessOwner: owner.Sorted()}

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		parent, err := lookupChild(tx, 0, "")
		if err != nil {
			return err
		}
		for i, segment := range segments {
			final := i == len(segments)-1
			child, err := lookupChild(tx, parent.ID, segment)
			if err != nil {
				return err
			}
			switch {
			case child == nil:
				if !final && !makeParents {
					return hatrac.NewConflict("parent namespace /%s does not exist", joinSegments(segments[:i+1]))
				}
				id, err := insertNamespace(tx, parent.ID, segment, acls)
				if err != nil {
					return err
				}
				child = &Node{ID: id, Kind: hatrac.KindNamespace, ParentID: parent.ID, ACLs: acls}
			case child.Kind != hatrac.KindNamespace:
				if final && !child.Deleted {
					return hatrac.NewConflict("name /%s is already in use by an object", joinSegments(segments[:i+1]))
				}
				return hatrac.NewConflict("name /%s was previously used by an object and cannot be reused", joinSegments(segments[:i+1]))
			case child.Deleted:
				if !final {
					return hatrac.NewConflict("parent namespace /%s has been deleted", joinSegments(segments[:i+1]))
				}
				if err := restoreName(tx, "namespace", child.ID, acls); err != nil {
					return err
				}
				child.Deleted = false
				child.ACLs = acls
			case final:
				return hatrac.NewConflict("namespace /%s already exists", joinSegments(segments))
			}
			child.Path = append([]string{}, segments[:i+1]...)
			parent = child
		}
		node = parent
		return nil
	})
	return node, err
}

// CreateObject binds an object name under an existing namespace, or
// returns the existing live object so a new version can be added to it.
// The reported flag is true when a binding was created or restored.
func (dir *Directory) CreateObject(ctx context.Context, segments []string, owner hatrac.ACL) (node *Node, created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(segments) == 0 {
		return nil, false, hatrac.NewConflict("root namespace cannot be an object")
	}
	acls := hatrac.ACLs{hatrac.AccessOwner: owner.Sorted()}

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		created = false
		parent, err := resolveTx(tx, segments[:len(segments)-1])
		if err != nil {
			return err
		}
		if parent.Node.Kind != hatrac.KindNamespace {
			return hatrac.NewConflict("parent %s is not a namespace", parent.Node.Name())
		}

		segment := segments[len(segments)-1]
		child, err := lookupChild(tx, parent.Node.ID, segment)
		if err != nil {
			return err
		}
		switch {
		case child == nil:
			var id int64
			err := tx.QueryRow(`
				INSERT INTO object (namespace_id, name, acls)
				VALUES ($1, $2, $3) RETURNING id`,
				parent.Node.ID, segment, marshalACLs(acls),
			).Scan(&id)
			if err != nil {
				return Error.Wrap(err)
			}
			child = &Node{ID: id, Kind: hatrac.KindObject, ParentID: parent.Node.ID, ACLs: acls}
			created = true
		case child.Kind != hatrac.KindObject:
			if child.Deleted {
				return hatrac.NewConflict("name /%s was previously used by a namespace and cannot be reused", joinSegments(segments))
			}
			return hatrac.NewConflict("name /%s is already in use by a namespace", joinSegments(segments))
		case child.Deleted:
			if err := restoreName(tx, "object", child.ID, acls); err != nil {
				return err
			}
			child.Deleted = false
			child.ACLs = acls
			created = true
		}
		child.Path = append([]string{}, segments...)
		node = child
		return nil
	})
	return node, created, err
}

// DeleteNamespace tombstones an empty namespace. Namespaces with live
// children cannot be deleted.
func (dir *Directory) DeleteNamespace(ctx context.Context, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dir.withTx(ctx, func(tx *sql.Tx) error {
		var children int
		err := tx.QueryRow(`
			SELECT
				(SELECT count(*) FROM namespace WHERE parent_id = $1 AND deleted_at IS NULL) +
				(SELECT count(*) FROM object WHERE namespace_id = $1 AND deleted_at IS NULL)`,
			id,
		).Scan(&children)
		if err != nil {
			return Error.Wrap(err)
		}
		if children > 0 {
			return hatrac.NewConflict("namespace is not empty")
		}
		result, err := tx.Exec(`
			UPDATE namespace SET deleted_at = $1
			WHERE id = $2 AND parent_id IS NOT NULL AND deleted_at IS NULL`,
			touchedAt(), id)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewNotFound("namespace no longer available")
		}
		return nil
	})
}

// DeleteObject tombstones an object, all of its live versions, and
// cancels its open upload jobs. It returns the storage refs of the
// tombstoned versions and the backend handles of the cancelled uploads so
// the caller can reclaim backend state.
func (dir *Directory) DeleteObject(ctx context.Context, node *Node) (versions []storage.Ref, handles []string, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		versions, handles = nil, nil

		rows, err := tx.Query(`
			SELECT version_key, aux
			FROM version
			WHERE object_id = $1 AND deleted_at IS NULL AND version_key IS NOT NULL`,
			node.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		for rows.Next() {
			var (
				key string
				aux []byte
			)
			if err := rows.Scan(&key, &aux); err != nil {
				_ = rows.Close()
				return Error.Wrap(err)
			}
			version := Version{Name: node.Name(), Key: key, Aux: unmarshalAux(aux)}
			versions = append(versions, version.StorageRef())
		}
		if err := rows.Close(); err != nil {
			return Error.Wrap(err)
		}

		rows, err = tx.Query(`
			SELECT backend_handle FROM upload
			WHERE object_id = $1 AND state = $2`,
			node.ID, UploadOpen)
		if err != nil {
			return Error.Wrap(err)
		}
		for rows.Next() {
			var handle string
			if err := rows.Scan(&handle); err != nil {
				_ = rows.Close()
				return Error.Wrap(err)
			}
			handles = append(handles, handle)
		}
		if err := rows.Close(); err != nil {
			return Error.Wrap(err)
		}

		now := touchedAt()
		if _, err := tx.Exec(`
			UPDATE version SET deleted_at = $1
			WHERE object_id = $2 AND deleted_at IS NULL`,
			now, node.ID); err != nil {
			return Error.Wrap(err)
		}
		if _, err := tx.Exec(`
			UPDATE upload SET state = $1 WHERE object_id = $2 AND state = $3`,
			UploadCancelled, node.ID, UploadOpen); err != nil {
			return Error.Wrap(err)
		}
		result, err := tx.Exec(`
			UPDATE object SET deleted_at = $1, current_version_id = NULL
			WHERE id = $2 AND deleted_at IS NULL`,
			now, node.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return hatrac.NewNotFound("object no longer available")
		}
		return nil
	})
	return versions, handles, err
}

// EnumerateChildren lists the live child bindings of a namespace ordered
// by name.
func (dir *Directory) EnumerateChildren(ctx context.Context, node *Node) (children []*Node, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		children = nil
		rows, err := tx.Query(`
			SELECT id, name, 'namespace', NULL::bigint FROM namespace
			WHERE parent_id = $1 AND deleted_at IS NULL
			UNION ALL
			SELECT id, name, 'object', current_version_id FROM object
			WHERE namespace_id = $1 AND deleted_at IS NULL`,
			node.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				child   Node
				segment string
				kind    string
			)
			if err := rows.Scan(&child.ID, &segment, &kind, &child.CurrentVersionID); err != nil {
				return Error.Wrap(err)
			}
			child.Path = append(append([]string{}, node.Path...), segment)
			if kind == "namespace" {
				child.Kind = hatrac.KindNamespace
			} else {
				child.Kind = hatrac.KindObject
			}
			child.ParentID = node.ID
			children = append(children, &child)
		}
		return Error.Wrap(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Segment() < children[j].Segment()
	})
	return children, nil
}
