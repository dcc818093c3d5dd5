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

func TestNodeRepository_AddGetListUpdateDelete(t *testing.T) {
	conn := openTestDB(t)
	repo := NewNodeRepository(conn.DB)

	n := &Node{Name: "modbus1", Type: "driver", State: "idle", PluginName: "modbus_tcp"}
	require.NoError(t, repo.AddNode(n))

	got, err := repo.GetNode("modbus1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "modbus_tcp", got.PluginName)

	require.NoError(t, repo.UpdateState("modbus1", "running"))
	got, err = repo.GetNode("modbus1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.State)

	require.NoError(t, repo.AddNode(&Node{Name: "app1", Type: "app", State: "idle", PluginName: "dashboard"}))
	drivers, err := repo.ListNodes("driver")
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, "modbus1", drivers[0].Name)

	all, err := repo.ListNodes("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.DeleteNode("modbus1"))
	got, err = repo.GetNode("modbus1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNodeRepository_GetNode_NotFoundReturnsNilNil(t *testing.T) {
	conn := openTestDB(t)
	repo := NewNodeRepository(conn.DB)

	got, err := repo.GetNode("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNodeRepository_SettingRoundTrip(t *testing.T) {
	conn := openTestDB(t)
	repo := NewNodeRepository(conn.DB)
	require.NoError(t, repo.AddNode(&Node{Name: "modbus1", Type: "driver", State: "idle", PluginName: "modbus_tcp"}))

	setting, err := repo.GetSetting("modbus1")
	require.NoError(t, err)
	assert.Empty(t, setting)

	require.NoError(t, repo.SetSetting("modbus1", `{"poll_ms":500}`))
	setting, err = repo.GetSetting("modbus1")
	require.NoError(t, err)
	assert.Equal(t, `{"poll_ms":500}`, setting)

	require.NoError(t, repo.SetSetting("modbus1", `{"poll_ms":1000}`))
	setting, err = repo.GetSetting("modbus1")
	require.NoError(t, err)
	assert.Equal(t, `{"poll_ms":1000}`, setting)
}

func TestNodeRepository_DeleteNodeCascadesSettings(t *testing.T) {
	conn := openTestDB(t)
	repo := NewNodeRepository(conn.DB)
	require.NoError(t, repo.AddNode(&Node{Name: "modbus1", Type: "driver", State: "idle", PluginName: "modbus_tcp"}))
	require.NoError(t, repo.SetSetting("modbus1", `{}`))

	require.NoError(t, repo.DeleteNode("modbus1"))

	var count int
	require.NoError(t, conn.DB.Get(&count, `SELECT COUNT(*) FROM settings WHERE node_name = ?`, "modbus1"))
	assert.Equal(t, 0, count)
}
