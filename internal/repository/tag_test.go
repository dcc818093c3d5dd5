// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"testing"

	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedGroup(t *testing.T, conn *DBConnection, driver, group string) {
	t.Helper()
	seedDriver(t, conn, driver)
	require.NoError(t, NewGroupRepository(conn.DB).AddGroup(&Group{DriverName: driver, Name: group, IntervalMs: 500}))
}

func TestTagRepository_AddGetRoundTripsAddressOptionAndTokens(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	repo := NewTagRepository(conn.DB)

	tag := tagmodel.Tag{
		Name:      "temp1",
		Address:   "40001",
		Attribute: tagmodel.AttrRead | tagmodel.AttrSubscribe,
		Type:      tagmodel.TypeFloat,
		Precision: 2,
		Decimal:   0.1,
		AddrOpt: tagmodel.AddressOption{
			Order: tagmodel.OrderBigEndian,
		},
	}
	tokens := [8]string{"scale", "c"}

	require.NoError(t, repo.AddTag("drv1", "g1", tag, tokens))

	got, gotTokens, err := repo.GetTag("drv1", "g1", "temp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tag.Address, got.Address)
	assert.Equal(t, tag.Attribute, got.Attribute)
	assert.Equal(t, tag.Type, got.Type)
	assert.Equal(t, tag.Decimal, got.Decimal)
	assert.Equal(t, tagmodel.OrderBigEndian, got.AddrOpt.Order)
	assert.Equal(t, tokens, gotTokens)
}

func TestTagRepository_AddRejectsInvalidTag(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	repo := NewTagRepository(conn.DB)

	err := repo.AddTag("drv1", "g1", tagmodel.Tag{Name: "", Type: tagmodel.TypeBool}, [8]string{})
	assert.Error(t, err)
}

func TestTagRepository_ListAndUpdateAndDelete(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	repo := NewTagRepository(conn.DB)

	require.NoError(t, repo.AddTag("drv1", "g1", tagmodel.Tag{Name: "a", Type: tagmodel.TypeInt32}, [8]string{}))
	require.NoError(t, repo.AddTag("drv1", "g1", tagmodel.Tag{Name: "b", Type: tagmodel.TypeInt32}, [8]string{}))

	list, err := repo.ListTags("drv1", "g1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)

	updated := tagmodel.Tag{Name: "a", Type: tagmodel.TypeInt32, Description: "updated"}
	require.NoError(t, repo.UpdateTag("drv1", "g1", updated, [8]string{}))

	got, _, err := repo.GetTag("drv1", "g1", "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)

	require.NoError(t, repo.DeleteTag("drv1", "g1", "a"))
	got, _, err = repo.GetTag("drv1", "g1", "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTagRepository_DeletedWhenGroupDeleted(t *testing.T) {
	conn := openTestDB(t)
	seedGroup(t, conn, "drv1", "g1")
	repo := NewTagRepository(conn.DB)
	require.NoError(t, repo.AddTag("drv1", "g1", tagmodel.Tag{Name: "a", Type: tagmodel.TypeInt32}, [8]string{}))

	require.NoError(t, NewGroupRepository(conn.DB).DeleteGroup("drv1", "g1"))

	list, err := repo.ListTags("drv1", "g1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
