// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_MissingFileKeepsDefaults(t *testing.T) {
	Keys = ProgramConfig{DBDriver: "sqlite3", DB: "./persistence/sqlite.db", NodeName: "gateway"}
	err := Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, "gateway", Keys.NodeName)
}

func TestInit_LoadsAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	writeFile(t, fp, `{
        "node_name": "edge-01",
        "db_driver": "sqlite3",
        "db": "./var/sqlite.db",
        "sub_filter_err": false,
        "trace_timeout": "5m"
    }`)

	err := Init(fp)
	require.NoError(t, err)
	assert.Equal(t, "edge-01", Keys.NodeName)
	assert.Equal(t, "./var/sqlite.db", Keys.DB)
	assert.False(t, Keys.SubFilterErr)
	assert.Equal(t, "5m", Keys.TraceTimeout)
}

func TestInit_RejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	writeFile(t, fp, `{"node_name": "edge-01"}`)

	err := Init(fp)
	assert.Error(t, err)
}

func TestInit_RejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	writeFile(t, fp, `{"db_driver": "sqlite3", "db": "./var/sqlite.db", "bogus_field": 1}`)

	err := Init(fp)
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
