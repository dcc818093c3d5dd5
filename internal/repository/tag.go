// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/jmoiron/sqlx"
)

var (
	tagRepoOnce     sync.Once
	tagRepoInstance *TagRepository
)

type TagRepository struct {
	DB *sqlx.DB
}

func GetTagRepository() *TagRepository {
	tagRepoOnce.Do(func() {
		tagRepoInstance = &TagRepository{DB: GetConnection().DB}
	})
	return tagRepoInstance
}

func NewTagRepository(db *sqlx.DB) *TagRepository {
	return &TagRepository{DB: db}
}

// formatPayload is the JSON document stored in the `format` column: the
// tag's AddressOption plus up to 8 opaque format tokens. The schema gives
// tags a single free-form `format` text column, so the option/token union
// that belongs to the tag record is serialized here rather than split across
// columns that would need a migration per new option shape.
type formatPayload struct {
	AddrOpt tagmodel.AddressOption `json:"addr_opt"`
	Tokens  [8]string              `json:"tokens"`
}

// AddTag persists one tag, running pkg/tagmodel.ValidateTag first so an
// invalid definition never reaches the database.
func (r *TagRepository) AddTag(driverName, groupName string, tag tagmodel.Tag, tokens [8]string) error {
	if err := tagmodel.ValidateTag(&tag); err != nil {
		return err
	}

	fp := formatPayload{AddrOpt: tag.AddrOpt, Tokens: tokens}
	formatJSON, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("repository: marshal tag format: %w", err)
	}

	_, err = sq.Insert("tags").
		Columns("driver_name", "group_name", "name", "address", "attribute", "precision",
			"type", "decimal", "bias", "description", "value", "format", "meta").
		Values(driverName, groupName, tag.Name, tag.Address, int(tag.Attribute), tag.Precision,
			int(tag.Type), tag.Decimal, tag.Bias, tag.Description, "", string(formatJSON), tag.Meta).
		RunWith(r.DB).Exec()
	if err != nil {
		return fmt.Errorf("repository: add tag %s/%s/%s: %w", driverName, groupName, tag.Name, err)
	}
	return nil
}

func (r *TagRepository) GetTag(driverName, groupName, name string) (*tagmodel.Tag, [8]string, error) {
	var tokens [8]string
	var t tagmodel.Tag
	var attribute, typ int
	var formatJSON string

	err := sq.Select("name", "address", "attribute", "precision", "type", "decimal", "bias",
		"description", "format", "meta").
		From("tags").Where(sq.Eq{"driver_name": driverName, "group_name": groupName, "name": name}).
		RunWith(r.DB).QueryRow().
		Scan(&t.Name, &t.Address, &attribute, &t.Precision, &typ, &t.Decimal, &t.Bias,
			&t.Description, &formatJSON, &t.Meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tokens, nil
	}
	if err != nil {
		return nil, tokens, fmt.Errorf("repository: get tag %s/%s/%s: %w", driverName, groupName, name, err)
	}

	t.Attribute = tagmodel.Attribute(attribute)
	t.Type = tagmodel.DataType(typ)

	var fp formatPayload
	if formatJSON != "" {
		if err := json.Unmarshal([]byte(formatJSON), &fp); err != nil {
			return nil, tokens, fmt.Errorf("repository: unmarshal tag format: %w", err)
		}
		t.AddrOpt = fp.AddrOpt
		tokens = fp.Tokens
	}

	return &t, tokens, nil
}

func (r *TagRepository) ListTags(driverName, groupName string) ([]tagmodel.Tag, error) {
	rows, err := sq.Select("name", "address", "attribute", "precision", "type", "decimal", "bias",
		"description", "format", "meta").
		From("tags").Where(sq.Eq{"driver_name": driverName, "group_name": groupName}).
		OrderBy("name ASC").RunWith(r.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("repository: list tags for %s/%s: %w", driverName, groupName, err)
	}
	defer rows.Close()

	var out []tagmodel.Tag
	for rows.Next() {
		var t tagmodel.Tag
		var attribute, typ int
		var formatJSON string
		if err := rows.Scan(&t.Name, &t.Address, &attribute, &t.Precision, &typ, &t.Decimal, &t.Bias,
			&t.Description, &formatJSON, &t.Meta); err != nil {
			return nil, fmt.Errorf("repository: scan tag: %w", err)
		}
		t.Attribute = tagmodel.Attribute(attribute)
		t.Type = tagmodel.DataType(typ)
		if formatJSON != "" {
			var fp formatPayload
			if err := json.Unmarshal([]byte(formatJSON), &fp); err == nil {
				t.AddrOpt = fp.AddrOpt
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TagRepository) DeleteTag(driverName, groupName, name string) error {
	_, err := r.DB.Exec(`DELETE FROM tags WHERE driver_name = ? AND group_name = ? AND name = ?`,
		driverName, groupName, name)
	if err != nil {
		return fmt.Errorf("repository: delete tag %s/%s/%s: %w", driverName, groupName, name, err)
	}
	return nil
}

// UpdateTag overwrites a tag's mutable fields in place.
func (r *TagRepository) UpdateTag(driverName, groupName string, tag tagmodel.Tag, tokens [8]string) error {
	if err := tagmodel.ValidateTag(&tag); err != nil {
		return err
	}

	fp := formatPayload{AddrOpt: tag.AddrOpt, Tokens: tokens}
	formatJSON, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("repository: marshal tag format: %w", err)
	}

	_, err = sq.Update("tags").
		Set("address", tag.Address).
		Set("attribute", int(tag.Attribute)).
		Set("precision", tag.Precision).
		Set("type", int(tag.Type)).
		Set("decimal", tag.Decimal).
		Set("bias", tag.Bias).
		Set("description", tag.Description).
		Set("format", string(formatJSON)).
		Set("meta", []byte(tag.Meta)).
		Where(sq.Eq{"driver_name": driverName, "group_name": groupName, "name": tag.Name}).
		RunWith(r.DB).Exec()
	if err != nil {
		return fmt.Errorf("repository: update tag %s/%s/%s: %w", driverName, groupName, tag.Name, err)
	}
	return nil
}
