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
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// User is a persisted operator account. Password holds a bcrypt hash,
// never the plaintext password.
type User struct {
	Name     string `db:"name"`
	Password string `db:"password"`
}

var (
	userRepoOnce     sync.Once
	userRepoInstance *UserRepository
)

type UserRepository struct {
	DB *sqlx.DB
}

func GetUserRepository() *UserRepository {
	userRepoOnce.Do(func() {
		userRepoInstance = &UserRepository{DB: GetConnection().DB}
	})
	return userRepoInstance
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{DB: db}
}

// AddUser hashes password with bcrypt before storing it.
func (r *UserRepository) AddUser(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("repository: hash password for %q: %w", name, err)
	}
	_, err = sq.Insert("users").Columns("name", "password").
		Values(name, string(hash)).RunWith(r.DB).Exec()
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("repository: user %q already exists: %w", name, err)
		}
		return fmt.Errorf("repository: add user %q: %w", name, err)
	}
	return nil
}

func (r *UserRepository) GetUser(name string) (*User, error) {
	u := &User{}
	err := sq.Select("name", "password").From("users").Where(sq.Eq{"name": name}).
		RunWith(r.DB).QueryRow().Scan(&u.Name, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get user %q: %w", name, err)
	}
	return u, nil
}

// Authenticate reports whether password matches the stored hash for name.
func (r *UserRepository) Authenticate(name, password string) (bool, error) {
	u, err := r.GetUser(name)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *UserRepository) SetPassword(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("repository: hash password for %q: %w", name, err)
	}
	_, err = sq.Update("users").Set("password", string(hash)).
		Where(sq.Eq{"name": name}).RunWith(r.DB).Exec()
	if err != nil {
		return fmt.Errorf("repository: set password for %q: %w", name, err)
	}
	return nil
}

func (r *UserRepository) DeleteUser(name string) error {
	if _, err := r.DB.Exec(`DELETE FROM users WHERE name = ?`, name); err != nil {
		return fmt.Errorf("repository: delete user %q: %w", name, err)
	}
	return nil
}

func (r *UserRepository) ListUsers() ([]*User, error) {
	rows, err := sq.Select("name", "password").From("users").OrderBy("name ASC").RunWith(r.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("repository: list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.Name, &u.Password); err != nil {
			return nil, fmt.Errorf("repository: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
