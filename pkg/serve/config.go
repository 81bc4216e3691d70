// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package serve carries the configuration shared by the control plane
// components: relational store, blob backend and object cache settings.
package serve

import (
	"io"
	"os"
	"strings"
	"time"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Database names the relational store. The DSN is either a mysql:// URL, a
// go-sql-driver DSN, or a SQLite database path.
type Database struct {
	DSN string `toml:"dsn"`
}

// Storage selects the blob backend. A non-empty bucket selects S3 (AWS
// credentials and region come from the standard SDK chain); otherwise bytes
// land under BasePath on the local filesystem.
type Storage struct {
	S3Bucket string `toml:"s3_bucket,omitempty"`
	BasePath string `toml:"base_path,omitempty"`
}

type Cache struct {
	NumCounters int64 `toml:"num_counters"`
	MaxCost     int64 `toml:"max_cost"`
	BufferItems int64 `toml:"buffer_items"`
}

const (
	MiByte = 1 << 20
)

// NewExpandReader opens a config file, optionally expanding ${ENV} references
// before parsing.
func NewExpandReader(file string, expandEnv bool) (io.ReadCloser, error) {
	if !expandEnv {
		return os.Open(file)
	}
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(os.ExpandEnv(string(buf)))), nil
}
