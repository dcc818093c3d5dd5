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

func TestUserRepository_AddAuthenticateNeverStoresPlaintext(t *testing.T) {
	conn := openTestDB(t)
	repo := NewUserRepository(conn.DB)

	require.NoError(t, repo.AddUser("alice", "s3cret!"))

	u, err := repo.GetUser("alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.NotEqual(t, "s3cret!", u.Password)

	ok, err := repo.Authenticate("alice", "s3cret!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Authenticate("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserRepository_AddDuplicateFails(t *testing.T) {
	conn := openTestDB(t)
	repo := NewUserRepository(conn.DB)
	require.NoError(t, repo.AddUser("alice", "pw"))
	assert.Error(t, repo.AddUser("alice", "pw2"))
}

func TestUserRepository_SetPasswordAndDelete(t *testing.T) {
	conn := openTestDB(t)
	repo := NewUserRepository(conn.DB)
	require.NoError(t, repo.AddUser("alice", "pw1"))

	require.NoError(t, repo.SetPassword("alice", "pw2"))
	ok, err := repo.Authenticate("alice", "pw2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.DeleteUser("alice"))
	u, err := repo.GetUser("alice")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserRepository_AuthenticateUnknownUser(t *testing.T) {
	conn := openTestDB(t)
	repo := NewUserRepository(conn.DB)

	ok, err := repo.Authenticate("ghost", "pw")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserRepository_ListUsers(t *testing.T) {
	conn := openTestDB(t)
	repo := NewUserRepository(conn.DB)
	require.NoError(t, repo.AddUser("alice", "pw"))
	require.NoError(t, repo.AddUser("bob", "pw"))

	users, err := repo.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Name)
}
