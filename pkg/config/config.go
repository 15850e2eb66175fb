// Copyright 2018-2025 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package config loads the daemon configuration from a TOML file, with
// a small set of environment overrides for containerized deployments.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/mdvault/mdvault/pkg/errtypes"
)

// Config is the full daemon configuration.
type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	DB        DB        `mapstructure:"db"`
	Storage   Storage   `mapstructure:"storage"`
	Auth      Auth      `mapstructure:"auth"`
	Sync      Sync      `mapstructure:"sync"`
	Log       Log       `mapstructure:"log"`
	Bootstrap Bootstrap `mapstructure:"bootstrap"`
}

// HTTP configures the listener.
type HTTP struct {
	Addr           string   `mapstructure:"addr"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
	EnableMetrics  bool     `mapstructure:"enable_metrics"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// DB selects and configures the store driver.
type DB struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Storage configures the on-disk document hierarchy.
type Storage struct {
	DataDir string `mapstructure:"data_dir"`
}

// Auth configures tokens and sessions.
type Auth struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// InsecureCookies drops the Secure attribute from auth cookies.
	// Plain-HTTP development only.
	InsecureCookies bool `mapstructure:"insecure_cookies"`
	// RefreshCookieName overrides the refresh-token cookie name.
	RefreshCookieName string `mapstructure:"refresh_cookie_name"`
}

// Sync configures the watcher, coordinator and reconciler.
type Sync struct {
	DebounceWindow     time.Duration `mapstructure:"debounce_window"`
	RecentlyWrittenTTL time.Duration `mapstructure:"recently_written_ttl"`
	Stability          time.Duration `mapstructure:"stability"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
}

// Log configures the root logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Bootstrap seeds the very first admin invitation.
type Bootstrap struct {
	// OpenRegistration disables the invitation gate. The first account
	// ever created becomes admin either way.
	OpenRegistration bool `mapstructure:"open_registration"`
}

// ApplyDefaults fills the zero values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8484"
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = 10 << 20
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "postgres"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "/var/lib/mdvault/data"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.DB.Driver == "postgres" && c.DB.DSN == "" {
		return errtypes.BadRequest("db.dsn is required for the postgres driver")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errtypes.BadRequest("auth.jwt_secret must be at least 32 bytes")
	}
	return nil
}

// Load reads the TOML file at path, applies environment overrides,
// defaults and validation. An empty path skips the file and configures
// from environment and defaults alone.
func Load(path string) (*Config, error) {
	raw := map[string]any{}
	if path != "" {
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return nil, errors.Wrap(err, "config: error decoding "+path)
		}
	}

	c := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     c,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "config: error decoding configuration")
	}

	applyEnv(c)
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("MDVAULT_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("MDVAULT_DB_DSN"); v != "" {
		c.DB.DSN = v
	}
	if v := os.Getenv("MDVAULT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("MDVAULT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MDVAULT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MDVAULT_REFRESH_COOKIE"); v != "" {
		c.Auth.RefreshCookieName = v
	}
	if v := os.Getenv("MDVAULT_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.ReconcileInterval = d
		}
	}
}
