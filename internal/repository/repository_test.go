// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestDB opens an isolated, migrated SQLite database for a single
// test, via Open rather than the process-wide Connect singleton.
func openTestDB(t *testing.T) *DBConnection {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway-test.db")
	conn, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.DB.Close() })
	return conn
}
