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
)

// Subscription binds an app to a driver's group, unique per
// (app_name, driver_name, group_name), carrying the app's subscribe-time
// parameters and any static tags it contributed.
type Subscription struct {
	AppName    string `db:"app_name"`
	DriverName string `db:"driver_name"`
	GroupName  string `db:"group_name"`
	Params     string `db:"params"`
	StaticTags string `db:"static_tags"`
}

var (
	subRepoOnce     sync.Once
	subRepoInstance *SubscriptionRepository
)

type SubscriptionRepository struct {
	DB *sqlx.DB
}

func GetSubscriptionRepository() *SubscriptionRepository {
	subRepoOnce.Do(func() {
		subRepoInstance = &SubscriptionRepository{DB: GetConnection().DB}
	})
	return subRepoInstance
}

func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{DB: db}
}

// Subscribe registers or overwrites an app's subscription to a group;
// the subscriber's parameters replace any prior subscription to the same
// group.
func (r *SubscriptionRepository) Subscribe(s *Subscription) error {
	_, err := r.DB.Exec(`
		INSERT INTO subscriptions (app_name, driver_name, group_name, params, static_tags)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(app_name, driver_name, group_name) DO UPDATE SET
			params = excluded.params, static_tags = excluded.static_tags`,
		s.AppName, s.DriverName, s.GroupName, s.Params, s.StaticTags)
	if err != nil {
		return fmt.Errorf("repository: subscribe %s to %s/%s: %w", s.AppName, s.DriverName, s.GroupName, err)
	}
	return nil
}

func (r *SubscriptionRepository) GetSubscription(appName, driverName, groupName string) (*Subscription, error) {
	s := &Subscription{}
	err := sq.Select("app_name", "driver_name", "group_name", "params", "static_tags").
		From("subscriptions").
		Where(sq.Eq{"app_name": appName, "driver_name": driverName, "group_name": groupName}).
		RunWith(r.DB).QueryRow().
		Scan(&s.AppName, &s.DriverName, &s.GroupName, &s.Params, &s.StaticTags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get subscription %s/%s/%s: %w", appName, driverName, groupName, err)
	}
	return s, nil
}

// ListSubscribers returns every app subscribed to a given driver's group,
// the set the C5 Driver Adapter fans reports out to.
func (r *SubscriptionRepository) ListSubscribers(driverName, groupName string) ([]*Subscription, error) {
	rows, err := sq.Select("app_name", "driver_name", "group_name", "params", "static_tags").
		From("subscriptions").
		Where(sq.Eq{"driver_name": driverName, "group_name": groupName}).
		OrderBy("app_name ASC").RunWith(r.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("repository: list subscribers for %s/%s: %w", driverName, groupName, err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		s := &Subscription{}
		if err := rows.Scan(&s.AppName, &s.DriverName, &s.GroupName, &s.Params, &s.StaticTags); err != nil {
			return nil, fmt.Errorf("repository: scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListByApp returns every subscription an app currently holds, used to
// restore subscriber state when an app node restarts.
func (r *SubscriptionRepository) ListByApp(appName string) ([]*Subscription, error) {
	rows, err := sq.Select("app_name", "driver_name", "group_name", "params", "static_tags").
		From("subscriptions").Where(sq.Eq{"app_name": appName}).RunWith(r.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("repository: list subscriptions for %q: %w", appName, err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		s := &Subscription{}
		if err := rows.Scan(&s.AppName, &s.DriverName, &s.GroupName, &s.Params, &s.StaticTags); err != nil {
			return nil, fmt.Errorf("repository: scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SubscriptionRepository) Unsubscribe(appName, driverName, groupName string) error {
	_, err := r.DB.Exec(`DELETE FROM subscriptions WHERE app_name = ? AND driver_name = ? AND group_name = ?`,
		appName, driverName, groupName)
	if err != nil {
		return fmt.Errorf("repository: unsubscribe %s from %s/%s: %w", appName, driverName, groupName, err)
	}
	return nil
}
