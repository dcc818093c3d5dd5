// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// IntervalLimit is the minimum allowed group polling period in
// milliseconds. Updates that would set an interval below this are
// silently ignored.
const IntervalLimit = 100

// Group is a persisted group record.
type Group struct {
	DriverName string `db:"driver_name"`
	Name       string `db:"name"`
	IntervalMs int    `db:"interval"`
	Context    string `db:"context"`
}

var (
	groupRepoOnce     sync.Once
	groupRepoInstance *GroupRepository
)

type GroupRepository struct {
	DB *sqlx.DB
}

func GetGroupRepository() *GroupRepository {
	groupRepoOnce.Do(func() {
		groupRepoInstance = &GroupRepository{DB: GetConnection().DB}
	})
	return groupRepoInstance
}

func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{DB: db}
}

// AddGroup inserts a group. ErrGroupExist-shaped callers should pre-check
// with GetGroup; the unique constraint on (driver_name, name) is the
// ultimate source of truth, detected here via the SQLite constraint error.
func (r *GroupRepository) AddGroup(g *Group) error {
	if g.IntervalMs < IntervalLimit {
		return fmt.Errorf("repository: group interval %dms below limit %dms", g.IntervalMs, IntervalLimit)
	}
	_, err := sq.Insert("groups").
		Columns("driver_name", "name", "interval", "context").
		Values(g.DriverName, g.Name, g.IntervalMs, g.Context).
		RunWith(r.DB).Exec()
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("repository: group %s/%s already exists: %w", g.DriverName, g.Name, err)
		}
		return fmt.Errorf("repository: add group %s/%s: %w", g.DriverName, g.Name, err)
	}
	return nil
}

func (r *GroupRepository) GetGroup(driverName, name string) (*Group, error) {
	g := &Group{}
	err := sq.Select("driver_name", "name", "interval", "context").From("groups").
		Where(sq.Eq{"driver_name": driverName, "name": name}).RunWith(r.DB).QueryRow().
		Scan(&g.DriverName, &g.Name, &g.IntervalMs, &g.Context)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get group %s/%s: %w", driverName, name, err)
	}
	return g, nil
}

func (r *GroupRepository) ListGroups(driverName string) ([]*Group, error) {
	rows, err := sq.Select("driver_name", "name", "interval", "context").From("groups").
		Where(sq.Eq{"driver_name": driverName}).OrderBy("name ASC").RunWith(r.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("repository: list groups for %q: %w", driverName, err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.DriverName, &g.Name, &g.IntervalMs, &g.Context); err != nil {
			return nil, fmt.Errorf("repository: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateInterval changes a group's polling period. A value below
// IntervalLimit is ignored, not treated as an error.
func (r *GroupRepository) UpdateInterval(driverName, name string, intervalMs int) error {
	if intervalMs < IntervalLimit {
		return nil
	}
	_, err := sq.Update("groups").Set("interval", intervalMs).
		Where(sq.Eq{"driver_name": driverName, "name": name}).RunWith(r.DB).Exec()
	if err != nil {
		return fmt.Errorf("repository: update interval for %s/%s: %w", driverName, name, err)
	}
	return nil
}

// Rename renames a group with a single UPDATE; a name collision surfaces
// as the unique-constraint error on (driver_name, name).
func (r *GroupRepository) Rename(driverName, oldName, newName string) error {
	_, err := sq.Update("groups").Set("name", newName).
		Where(sq.Eq{"driver_name": driverName, "name": oldName}).RunWith(r.DB).Exec()
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("repository: group %s/%s already exists: %w", driverName, newName, err)
		}
		return fmt.Errorf("repository: rename group %s/%s -> %s: %w", driverName, oldName, newName, err)
	}
	return nil
}

// DeleteGroup removes a group; ON DELETE CASCADE removes its tags and
// subscriptions.
func (r *GroupRepository) DeleteGroup(driverName, name string) error {
	if _, err := r.DB.Exec(`DELETE FROM groups WHERE driver_name = ? AND name = ?`, driverName, name); err != nil {
		return fmt.Errorf("repository: delete group %s/%s: %w", driverName, name, err)
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
