// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository is the persister: a schema-migrated SQLite store
// for nodes, groups, tags, subscriptions and users, reached through
// parameterized queries (built with Masterminds/squirrel, plus a few
// hand-written statements with ? placeholders) over a jmoiron/sqlx
// connection, one entity repository per file.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	connOnce     sync.Once
	connInstance *DBConnection
	connErr      error
)

// DBConnection wraps the shared *sqlx.DB every entity repository queries
// through.
type DBConnection struct {
	DB *sqlx.DB
}

// hooks implements sqlhooks.Hooks, logging every query and its elapsed
// time at debug level.
type hooks struct{}

type beginKey struct{}

func (hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("repository: query %s %q", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

func (hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey{}).(time.Time); ok {
		log.Debugf("repository: took %s", time.Since(begin))
	}
	return ctx, nil
}

var hooksRegistered sync.Once

// Open opens and migrates a standalone database at path, without touching
// the process-wide singleton. Tests use this directly so each test gets
// its own isolated database; Connect is the production entry point that
// wraps this in a singleton.
func Open(path string) (*DBConnection, error) {
	hooksRegistered.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &hooks{}))
	})

	dbHandle, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}

	// SQLite does not support concurrent writers; one connection avoids
	// busy-waiting on internal locks.
	dbHandle.SetMaxOpenConns(1)
	dbHandle.DB.SetConnMaxLifetime(0)

	if err := pragmaSetup(dbHandle.DB); err != nil {
		return nil, err
	}

	if err := runMigrations(dbHandle); err != nil {
		return nil, err
	}

	return &DBConnection{DB: dbHandle}, nil
}

// Connect opens the singleton database connection at path. It is safe to
// call more than once; only the first call takes effect.
func Connect(path string) error {
	connOnce.Do(func() {
		conn, err := Open(path)
		if err != nil {
			connErr = err
			return
		}
		connInstance = conn
		log.Infof("repository: connected to %s", path)
	})
	return connErr
}

// GetConnection returns the singleton connection. Connect must have
// succeeded first.
func GetConnection() *DBConnection {
	if connInstance == nil {
		log.Fatal("repository: database connection not initialized")
	}
	return connInstance
}

// Close releases the underlying database handle, for tests and clean
// shutdown.
func Close() error {
	if connInstance == nil {
		return nil
	}
	return connInstance.DB.Close()
}
