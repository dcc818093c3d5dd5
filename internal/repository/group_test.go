// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDriver(t *testing.T, conn *DBConnection, name string) {
	t.Helper()
	require.NoError(t, NewNodeRepository(conn.DB).AddNode(&Node{Name: name, Type: "driver", State: "idle", PluginName: "x"}))
}

func TestGroupRepository_AddRejectsBelowIntervalLimit(t *testing.T) {
	conn := openTestDB(t)
	seedDriver(t, conn, "drv1")
	repo := NewGroupRepository(conn.DB)

	err := repo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: IntervalLimit - 1})
	assert.Error(t, err)
}

func TestGroupRepository_AddGetListDelete(t *testing.T) {
	conn := openTestDB(t)
	seedDriver(t, conn, "drv1")
	repo := NewGroupRepository(conn.DB)

	require.NoError(t, repo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: 500, Context: "c"}))

	got, err := repo.GetGroup("drv1", "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 500, got.IntervalMs)

	require.NoError(t, repo.AddGroup(&Group{DriverName: "drv1", Name: "g2", IntervalMs: 200}))
	list, err := repo.ListGroups("drv1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, repo.DeleteGroup("drv1", "g1"))
	got, err = repo.GetGroup("drv1", "g1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGroupRepository_AddDuplicateNameFails(t *testing.T) {
	conn := openTestDB(t)
	seedDriver(t, conn, "drv1")
	repo := NewGroupRepository(conn.DB)

	require.NoError(t, repo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: 500}))
	err := repo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: 500})
	assert.Error(t, err)
}

func TestGroupRepository_UpdateIntervalIgnoredBelowLimit(t *testing.T) {
	conn := openTestDB(t)
	seedDriver(t, conn, "drv1")
	repo := NewGroupRepository(conn.DB)
	require.NoError(t, repo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: 500}))

	require.NoError(t, repo.UpdateInterval("drv1", "g1", IntervalLimit-1))

	got, err := repo.GetGroup("drv1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 500, got.IntervalMs)

	require.NoError(t, repo.UpdateInterval("drv1", "g1", 1000))
	got, err = repo.GetGroup("drv1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 1000, got.IntervalMs)
}

func TestGroupRepository_RenameCollisionFails(t *testing.T) {
	conn := openTestDB(t)
	seedDriver(t, conn, "drv1")
	repo := NewGroupRepository(conn.DB)
	require.NoError(t, repo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: 500}))
	require.NoError(t, repo.AddGroup(&Group{DriverName: "drv1", Name: "g2", IntervalMs: 500}))

	err := repo.Rename("drv1", "g1", "g2")
	assert.Error(t, err)

	require.NoError(t, repo.Rename("drv1", "g1", "g3"))
	got, err := repo.GetGroup("drv1", "g3")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestGroupRepository_DeleteGroupCascadesTags(t *testing.T) {
	conn := openTestDB(t)
	seedDriver(t, conn, "drv1")
	groupRepo := NewGroupRepository(conn.DB)
	require.NoError(t, groupRepo.AddGroup(&Group{DriverName: "drv1", Name: "g1", IntervalMs: 500}))

	_, err := conn.DB.Exec(`INSERT INTO tags (driver_name, group_name, name, type) VALUES (?, ?, ?, ?)`,
		"drv1", "g1", "t1", 0)
	require.NoError(t, err)

	require.NoError(t, groupRepo.DeleteGroup("drv1", "g1"))

	var count int
	require.NoError(t, conn.DB.Get(&count, `SELECT COUNT(*) FROM tags WHERE driver_name = ? AND group_name = ?`, "drv1", "g1"))
	assert.Equal(t, 0, count)
}
