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

func TestSubscriptionRepository_SubscribeReplacesPriorParams(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	require.NoError(t, NewNodeRepository(conn.DB).AddNode(&Node{Name: "app1", Type: "app", State: "idle", PluginName: "dashboard"}))
	repo := NewSubscriptionRepository(conn.DB)

	require.NoError(t, repo.Subscribe(&Subscription{AppName: "app1", DriverName: "drv1", GroupName: "g1", Params: "p1"}))
	require.NoError(t, repo.Subscribe(&Subscription{AppName: "app1", DriverName: "drv1", GroupName: "g1", Params: "p2"}))

	got, err := repo.GetSubscription("app1", "drv1", "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p2", got.Params)
}

func TestSubscriptionRepository_ListSubscribersAndByApp(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	nodeRepo := NewNodeRepository(conn.DB)
	require.NoError(t, nodeRepo.AddNode(&Node{Name: "app1", Type: "app", State: "idle", PluginName: "a"}))
	require.NoError(t, nodeRepo.AddNode(&Node{Name: "app2", Type: "app", State: "idle", PluginName: "b"}))
	repo := NewSubscriptionRepository(conn.DB)

	require.NoError(t, repo.Subscribe(&Subscription{AppName: "app1", DriverName: "drv1", GroupName: "g1"}))
	require.NoError(t, repo.Subscribe(&Subscription{AppName: "app2", DriverName: "drv1", GroupName: "g1"}))

	subs, err := repo.ListSubscribers("drv1", "g1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	byApp, err := repo.ListByApp("app1")
	require.NoError(t, err)
	require.Len(t, byApp, 1)
	assert.Equal(t, "g1", byApp[0].GroupName)
}

func TestSubscriptionRepository_UnsubscribeAndCascade(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	nodeRepo := NewNodeRepository(conn.DB)
	require.NoError(t, nodeRepo.AddNode(&Node{Name: "app1", Type: "app", State: "idle", PluginName: "a"}))
	repo := NewSubscriptionRepository(conn.DB)
	require.NoError(t, repo.Subscribe(&Subscription{AppName: "app1", DriverName: "drv1", GroupName: "g1"}))

	require.NoError(t, repo.Unsubscribe("app1", "drv1", "g1"))
	got, err := repo.GetSubscription("app1", "drv1", "g1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Subscribe(&Subscription{AppName: "app1", DriverName: "drv1", GroupName: "g1"}))
	require.NoError(t, nodeRepo.DeleteNode("app1"))
	subs, err := repo.ListSubscribers("drv1", "g1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
