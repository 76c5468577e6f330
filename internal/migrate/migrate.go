// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package migrate applies versioned schema migrations recorded in a
// versions table.
package migrate

import (
	"database/sql"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the migrate error class.
var Error = errs.Class("migrate")

// DB is the minimal database surface the runner needs.
type DB interface {
	Begin() (*sql.Tx, error)
}

// Action is one migration step payload.
type Action interface {
	Run(log *zap.Logger, db DB, tx *sql.Tx) error
}

// SQL runs a list of statements.
type SQL []string

// Run executes the statements in order.
func (sql SQL) Run(log *zap.Logger, db DB, tx *sql.Tx) error {
	for _, query := range sql {
		if _, err := tx.Exec(query); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// Func wraps a Go function as a migration action.
type Func func(log *zap.Logger, db DB, tx *sql.Tx) error

// Run executes the function.
func (fn Func) Run(log *zap.Logger, db DB, tx *sql.Tx) error {
	return fn(log, db, tx)
}

// Step is one versioned migration.
type Step struct {
	Version     int
	Description string
	Action      Action
}

// Migration is an ordered list of steps tracked in Table.
type Migration struct {
	Table string
	Steps []*Step
}

// Run applies all steps above the current recorded version, each inside
// its own transaction together with the version bump.
func (migration *Migration) Run(log *zap.Logger, db DB) error {
	if migration.Table == "" {
		migration.Table = "versions"
	}
	current, err := migration.currentVersion(db)
	if err != nil {
		return err
	}
	for _, step := range migration.Steps {
		if step.Version <= current {
			continue
		}
		log.Info("running migration step",
			zap.Int("version", step.Version),
			zap.String("description", step.Description))

		tx, err := db.Begin()
		if err != nil {
			return Error.Wrap(err)
		}
		if err := step.Action.Run(log, db, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO `+migration.Table+` (version, description) VALUES ($1, $2)`,
			step.Version, step.Description,
		); err != nil {
			_ = tx.Rollback()
			return Error.Wrap(err)
		}
		if err := tx.Commit(); err != nil {
			return Error.Wrap(err)
		}
		current = step.Version
	}
	return nil
}

func (migration *Migration) currentVersion(db DB) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, Error.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ` + migration.Table + ` (
		version integer NOT NULL,
		description text NOT NULL
	)`); err != nil {
		return 0, Error.Wrap(err)
	}

	var version sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(version) FROM ` + migration.Table).Scan(&version); err != nil {
		return 0, Error.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, Error.Wrap(err)
	}
	return int(version.Int64), nil
}
