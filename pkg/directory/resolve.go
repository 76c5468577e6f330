// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// lookupChild finds the binding for one segment under a parent namespace.
// parentID 0 with segment "" addresses the root namespace row. Deleted
// bindings are returned with Deleted set so callers can distinguish
// tombstones from undefined names.
func lookupChild(tx *sql.Tx, parentID int64, segment string) (*Node, error) {
	var (
		node      Node
		deletedAt sql.NullTime
		acls      []byte
		aux       []byte
	)
	err := tx.QueryRow(`
		SELECT id, COALESCE(parent_id, 0), deleted_at, acls, aux, created_at
		FROM namespace
		WHERE COALESCE(parent_id, 0) = $1 AND name = $2`,
		parentID, segment,
	).Scan(&node.ID, &node.ParentID, &deletedAt, &acls, &aux, &node.CreatedAt)
	if err == nil {
		node.Kind = hatrac.KindNamespace
		node.Deleted = deletedAt.Valid
		node.ACLs = unmarshalACLs(acls)
		node.Aux = unmarshalAux(aux)
		return &node, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, Error.Wrap(err)
	}
	if parentID == 0 {
		return nil, nil
	}

	err = tx.QueryRow(`
		SELECT id, namespace_id, current_version_id, deleted_at, acls, aux, created_at
		FROM object
		WHERE namespace_id = $1 AND name = $2`,
		parentID, segment,
	).Scan(&node.ID, &node.ParentID, &node.CurrentVersionID, &deletedAt, &acls, &aux, &node.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	node.Kind = hatrac.KindObject
	node.Deleted = deletedAt.Valid
	node.ACLs = unmarshalACLs(acls)
	node.Aux = unmarshalAux(aux)
	return &node, nil
}

// resolveTx walks segments from the root. Tombstoned names resolve as
// not-found; creation paths that restore tombstones use lookupChild on the
// final segment directly.
func resolveTx(tx *sql.Tx, segments []string) (*Resolved, error) {
	root, err := lookupChild(tx, 0, "")
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, Error.New("root namespace row is missing; run deploy")
	}

	current := root
	var ancestors []*Node
	for i, segment := range segments {
		if current.Kind != hatrac.KindNamespace {
			return nil, hatrac.NewNotFound("resource /%s not found", joinSegments(segments[:i+1]))
		}
		ancestors = append(ancestors, current)

		node, err := lookupChild(tx, current.ID, segment)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, hatrac.NewNotFound("resource /%s not found", joinSegments(segments[:i+1]))
		}
		node.Path = append([]string{}, segments[:i+1]...)
		if node.Deleted {
			// Deleted names report not-found; tombstones stay behind to
			// enforce kind non-reuse.
			return nil, hatrac.NewNotFound("resource %s not available", node.Name())
		}
		current = node
	}
	return &Resolved{Ancestors: ancestors, Node: current}, nil
}

// Resolve returns the live binding for a name together with its ancestor
// chain, or NotFound for undefined and deleted names.
func (dir *Directory) Resolve(ctx context.Context, segments []string) (resolved *Resolved, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		resolved, err = resolveTx(tx, segments)
		return err
	})
	return resolved, err
}

// ResolvePrefix resolves the deepest existing live prefix of segments and
// returns the remaining unresolved suffix. Used for authorization of
// creation with missing ancestors.
func (dir *Directory) ResolvePrefix(ctx context.Context, segments []string) (resolved *Resolved, remaining []string, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dir.withTx(ctx, func(tx *sql.Tx) error {
		for i := len(segments); i >= 0; i-- {
			resolved, err = resolveTx(tx, segments[:i])
			if err == nil {
				remaining = segments[i:]
				return nil
			}
			if _, ok := hatrac.AsError(err); !ok {
				return err
			}
		}
		return err
	})
	return resolved, remaining, err
}

func joinSegments(segments []string) string {
	out := ""
	for i, seg := range segments {
		if i > 0 {
			out += "/"
		}
		out += seg
	}
	return out
}

// touchedAt is a helper for tombstoning rows.
func touchedAt() time.Time { return time.Now().UTC() }
