// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/antgroup/stageflow/pkg/serve"
	"github.com/antgroup/stageflow/pkg/version"
)

const (
	DefaultReadTimeout  = 2 * time.Hour
	DefaultWriteTimeout = 2 * time.Hour
	DefaultIdleTimeout  = 5 * time.Minute
)

type ServerConfig struct {
	Listen        string          `toml:"listen"`
	Debug         bool            `toml:"debug,omitempty"`
	IdleTimeout   serve.Duration  `toml:"idle_timeout,omitempty"`
	ReadTimeout   serve.Duration  `toml:"read_timeout,omitempty"`
	WriteTimeout  serve.Duration  `toml:"write_timeout,omitempty"`
	BannerVersion string          `toml:"banner_version,omitempty"`
	Cache         *serve.Cache    `toml:"cache,omitempty"`
	DB            *serve.Database `toml:"database,omitempty"`
	Storage       *serve.Storage  `toml:"storage,omitempty"`
}

// NewServerConfig loads configuration from an optional TOML file and overlays
// the recognised environment variables: DATABASE_URL, S3_BUCKET,
// STORAGE_BASE_PATH, PORT and DEBUG. Environment values win.
func NewServerConfig(file string, expandEnv bool) (*ServerConfig, error) {
	sc := &ServerConfig{
		Listen: "127.0.0.1:8700",
		IdleTimeout: serve.Duration{
			Duration: DefaultIdleTimeout,
		},
		ReadTimeout: serve.Duration{
			Duration: DefaultReadTimeout,
		},
		WriteTimeout: serve.Duration{
			Duration: DefaultWriteTimeout,
		},
		BannerVersion: version.GetBannerVersion(),
	}
	if len(file) != 0 {
		r, err := serve.NewExpandReader(file, expandEnv)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		if _, err = toml.NewDecoder(r).Decode(sc); err != nil {
			return nil, err
		}
	}
	sc.overlayEnv()
	if sc.DB == nil || len(sc.DB.DSN) == 0 {
		return nil, errors.New("database dsn not configured")
	}
	if sc.Storage == nil {
		sc.Storage = &serve.Storage{}
	}
	if len(sc.Storage.S3Bucket) == 0 && len(sc.Storage.BasePath) == 0 {
		return nil, errors.New("blob storage not configured")
	}
	if sc.Cache == nil {
		sc.Cache = &serve.Cache{
			NumCounters: 100000,
			MaxCost:     64 * serve.MiByte,
			BufferItems: 64,
		}
	}
	return sc, nil
}

func (sc *ServerConfig) overlayEnv() {
	if v := os.Getenv("DATABASE_URL"); len(v) != 0 {
		sc.DB = &serve.Database{DSN: v}
	}
	if sc.Storage == nil {
		sc.Storage = &serve.Storage{}
	}
	if v := os.Getenv("S3_BUCKET"); len(v) != 0 {
		sc.Storage.S3Bucket = v
	}
	if v := os.Getenv("STORAGE_BASE_PATH"); len(v) != 0 {
		sc.Storage.BasePath = v
	}
	if v := os.Getenv("PORT"); len(v) != 0 {
		sc.Listen = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("DEBUG"); len(v) != 0 && v != "0" && !strings.EqualFold(v, "false") {
		sc.Debug = true
	}
}
