// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package directory is the transactional PostgreSQL repository of
// namespaces, objects, versions, ACLs, metadata and upload jobs. It is
// authoritative for structure; storage backends only hold payload bytes.
//
// The directory is policy-free: authorization happens in the caller
// against the ACL chains it returns. All write operations run inside
// SERIALIZABLE transactions and are retried on serialization conflicts.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

var (
	// Error is the directory error class.
	Error = errs.Class("directory")

	mon = monkit.Package()
)

// Directory provides transactional access to the metadata schema.
type Directory struct {
	log        *zap.Logger
	db         *sql.DB
	maxRetries int
}

// Open connects to the metadata database.
func Open(log *zap.Logger, dsn string, maxRetries int) (*Directory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if maxRetries <= 0 {
		maxRetries = hatrac.DefaultDatabaseMaxRetries
	}
	return &Directory{log: log, db: db, maxRetries: maxRetries}, nil
}

// Close releases the database handle.
func (dir *Directory) Close() error {
	return Error.Wrap(dir.db.Close())
}

// withTx runs fn inside a SERIALIZABLE transaction, replaying it on
// serialization conflicts with exponential backoff up to the configured
// retry budget. Side effects into storage backends must happen outside
// fn or tolerate replay.
func (dir *Directory) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	backoff := 10 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err = dir.runTx(ctx, fn)
		if err == nil || !retryable(err) || attempt >= dir.maxRetries {
			return err
		}
		dir.log.Debug("retrying serialization conflict",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return Error.Wrap(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (dir *Directory) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := dir.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Error.Wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return Error.Wrap(tx.Commit())
}

// retryable recognizes PostgreSQL serialization_failure and deadlock
// SQLSTATE codes.
func retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
