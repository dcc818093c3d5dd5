// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite3/*.sql
var migrationFiles embed.FS

const migrationsRoot = "migrations/sqlite3"

var migrationNamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.up\.sql$`)

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	migration_id INTEGER PRIMARY KEY AUTOINCREMENT,
	version      TEXT UNIQUE NOT NULL,
	description  TEXT NOT NULL,
	dirty        INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);`

// migrationDesc is one entry parsed from migrations/sqlite3/NNNN_desc.up.sql;
// the version is the 4-character zero-padded ordinal extracted from the
// filename.
type migrationDesc struct {
	version     string
	description string
}

func listMigrations() ([]migrationDesc, error) {
	entries, err := fs.ReadDir(migrationFiles, migrationsRoot)
	if err != nil {
		return nil, fmt.Errorf("repository: read embedded migrations: %w", err)
	}

	seen := make(map[string]bool)
	out := make([]migrationDesc, 0, len(entries))
	for _, e := range entries {
		m := migrationNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, migrationDesc{version: m[1], description: strings.ReplaceAll(m[2], "_", " ")})
	}
	return out, nil
}

// runMigrations applies every pending embedded schema script to db and
// keeps the descriptive `migrations` bookkeeping table (with
// description/created_at, distinct from golang-migrate's own internal
// version table) in sync with what golang-migrate actually
// applied. It refuses to proceed if a previous run left a dirty row,
// matching the "refuse to start if head is dirty" startup discipline.
func runMigrations(db *sqlx.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("repository: create migrations table: %w", err)
	}

	var dirtyCount int
	if err := db.Get(&dirtyCount, `SELECT COUNT(*) FROM migrations WHERE dirty = 1`); err != nil {
		return fmt.Errorf("repository: query dirty migrations: %w", err)
	}
	if dirtyCount > 0 {
		return fmt.Errorf("repository: %w: database has a dirty migration, manual recovery required", tagmodel.CodedError{Code: tagmodel.ErrInternal})
	}

	descs, err := listMigrations()
	if err != nil {
		return err
	}

	// Record every not-yet-known version as dirty before attempting to
	// apply it; a script that panics or errors leaves its row dirty=1 so
	// the next startup's guard above catches it.
	now := time.Now()
	for _, d := range descs {
		var exists int
		if err := db.Get(&exists, `SELECT COUNT(*) FROM migrations WHERE version = ?`, d.version); err != nil {
			return fmt.Errorf("repository: check migration %s: %w", d.version, err)
		}
		if exists > 0 {
			continue
		}
		if _, err := db.Exec(`INSERT INTO migrations (version, description, dirty, created_at) VALUES (?, ?, 1, ?)`,
			d.version, d.description, now); err != nil {
			return fmt.Errorf("repository: record migration %s: %w", d.version, err)
		}
	}

	src, err := iofs.New(migrationFiles, migrationsRoot)
	if err != nil {
		return fmt.Errorf("repository: open embedded migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("repository: sqlite3 migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("repository: build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		version, dirty, verr := m.Version()
		if verr == nil && dirty {
			markDirty(db, version)
		}
		return fmt.Errorf("repository: %w: apply migrations: %v", tagmodel.CodedError{Code: tagmodel.ErrInternal}, err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("repository: read migrator version: %w", err)
	}
	if dirty {
		markDirty(db, version)
		return fmt.Errorf("repository: %w: migration left dirty at version %d", tagmodel.CodedError{Code: tagmodel.ErrInternal}, version)
	}

	if _, err := db.Exec(`UPDATE migrations SET dirty = 0 WHERE dirty = 1`); err != nil {
		return fmt.Errorf("repository: clear dirty flags: %w", err)
	}

	log.Infof("repository: migrations up to date (version=%d)", version)
	return nil
}

func markDirty(db *sqlx.DB, version uint) {
	vs := strconv.FormatUint(uint64(version), 10)
	for len(vs) < 4 {
		vs = "0" + vs
	}
	if _, err := db.Exec(`UPDATE migrations SET dirty = 1 WHERE version = ?`, vs); err != nil {
		log.Warnf("repository: mark version %s dirty: %v", vs, err)
	}
}

// pragmaSetup enables foreign keys and write-ahead journaling before
// migrations run.
func pragmaSetup(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("repository: enable foreign_keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("repository: enable WAL journal: %w", err)
	}
	return nil
}
