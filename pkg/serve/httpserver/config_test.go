// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerConfigFromFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_BASE_PATH", "")
	t.Setenv("PORT", "")
	file := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(file, []byte(`listen = "0.0.0.0:9000"
read_timeout = "30m"

[database]
dsn = "/tmp/stageflow.db"

[storage]
base_path = "/tmp/blobs"
`), 0644))

	sc, err := NewServerConfig(file, false)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", sc.Listen)
	assert.Equal(t, 30*time.Minute, sc.ReadTimeout.Duration)
	assert.Equal(t, DefaultWriteTimeout, sc.WriteTimeout.Duration)
	assert.Equal(t, "/tmp/stageflow.db", sc.DB.DSN)
	assert.Equal(t, "/tmp/blobs", sc.Storage.BasePath)
	require.NotNil(t, sc.Cache)
	assert.NotZero(t, sc.Cache.MaxCost)
}

func TestNewServerConfigEnvOverlay(t *testing.T) {
	t.Setenv("DATABASE_URL", "/data/env.db")
	t.Setenv("STORAGE_BASE_PATH", "/data/blobs")
	t.Setenv("PORT", "9100")
	t.Setenv("DEBUG", "1")

	sc, err := NewServerConfig("", false)
	require.NoError(t, err)
	assert.Equal(t, "/data/env.db", sc.DB.DSN)
	assert.Equal(t, "/data/blobs", sc.Storage.BasePath)
	assert.Equal(t, ":9100", sc.Listen)
	assert.True(t, sc.Debug)
}

func TestNewServerConfigRequiresBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_BASE_PATH", "")
	t.Setenv("S3_BUCKET", "")
	_, err := NewServerConfig("", false)
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "/data/env.db")
	_, err = NewServerConfig("", false)
	require.Error(t, err)
}

func TestNewServerConfigExpandEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TEST_DB_PATH", "/data/expanded.db")
	file := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(file, []byte(`[database]
dsn = "${TEST_DB_PATH}"

[storage]
base_path = "/tmp/blobs"
`), 0644))

	sc, err := NewServerConfig(file, true)
	require.NoError(t, err)
	assert.Equal(t, "/data/expanded.db", sc.DB.DSN)
}
