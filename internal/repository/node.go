// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/jmoiron/sqlx"
)

// Node is a persisted driver or app, identified by its unique name.
type Node struct {
	Name       string `db:"name"`
	Type       string `db:"type"` // "driver" | "app"
	State      string `db:"state"`
	PluginName string `db:"plugin_name"`
}

var (
	nodeRepoOnce     sync.Once
	nodeRepoInstance *NodeRepository
)

// NodeRepository is the CRUD surface over the `nodes` and `settings`
// tables.
type NodeRepository struct {
	DB *sqlx.DB
}

// GetNodeRepository returns the singleton NodeRepository bound to the
// process-wide connection (see Connect).
func GetNodeRepository() *NodeRepository {
	nodeRepoOnce.Do(func() {
		nodeRepoInstance = &NodeRepository{DB: GetConnection().DB}
	})
	return nodeRepoInstance
}

// NewNodeRepository builds a repository over an arbitrary connection, for
// tests that do not want the process-wide singleton.
func NewNodeRepository(db *sqlx.DB) *NodeRepository {
	return &NodeRepository{DB: db}
}

func (r *NodeRepository) AddNode(n *Node) error {
	_, err := sq.Insert("nodes").
		Columns("name", "type", "state", "plugin_name").
		Values(n.Name, n.Type, n.State, n.PluginName).
		RunWith(r.DB).Exec()
	if err != nil {
		log.Errorf("repository: add node %q: %v", n.Name, err)
		return fmt.Errorf("repository: add node %q: %w", n.Name, err)
	}
	return nil
}

func (r *NodeRepository) GetNode(name string) (*Node, error) {
	n := &Node{}
	err := sq.Select("name", "type", "state", "plugin_name").From("nodes").
		Where(sq.Eq{"name": name}).RunWith(r.DB).QueryRow().
		Scan(&n.Name, &n.Type, &n.State, &n.PluginName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get node %q: %w", name, err)
	}
	return n, nil
}

func (r *NodeRepository) ListNodes(nodeType string) ([]*Node, error) {
	q := sq.Select("name", "type", "state", "plugin_name").From("nodes").OrderBy("name ASC")
	if nodeType != "" {
		q = q.Where(sq.Eq{"type": nodeType})
	}

	rows, err := q.RunWith(r.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("repository: list nodes: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n := &Node{}
		if err := rows.Scan(&n.Name, &n.Type, &n.State, &n.PluginName); err != nil {
			return nil, fmt.Errorf("repository: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NodeRepository) UpdateState(name, state string) error {
	_, err := sq.Update("nodes").Set("state", state).Where(sq.Eq{"name": name}).RunWith(r.DB).Exec()
	if err != nil {
		return fmt.Errorf("repository: update node %q state: %w", name, err)
	}
	return nil
}

// DeleteNode removes a node; ON DELETE CASCADE foreign keys take care of
// its settings, groups (and their tags), and subscriptions.
func (r *NodeRepository) DeleteNode(name string) error {
	if _, err := r.DB.Exec(`DELETE FROM nodes WHERE name = ?`, name); err != nil {
		return fmt.Errorf("repository: delete node %q: %w", name, err)
	}
	log.Infof("repository: deleted node %q", name)
	return nil
}

func (r *NodeRepository) GetSetting(nodeName string) (string, error) {
	var setting string
	err := sq.Select("setting").From("settings").Where(sq.Eq{"node_name": nodeName}).
		RunWith(r.DB).QueryRow().Scan(&setting)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repository: get setting for %q: %w", nodeName, err)
	}
	return setting, nil
}

func (r *NodeRepository) SetSetting(nodeName, setting string) error {
	_, err := r.DB.Exec(`
		INSERT INTO settings (node_name, setting) VALUES (?, ?)
		ON CONFLICT(node_name) DO UPDATE SET setting = excluded.setting`,
		nodeName, setting)
	if err != nil {
		return fmt.Errorf("repository: set setting for %q: %w", nodeName, err)
	}
	return nil
}
