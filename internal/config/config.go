// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

// Package config loads and validates service configuration.
//
// Sources are merged in order of precedence: defaults, then a YAML
// config file, then command-line flags.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/doorkeep/doorkeep/internal/auth"
)

// Config is the full service configuration.
type Config struct {
	Database      Database      `koanf:"database"`
	Session       Session       `koanf:"session"`
	HTTP          HTTP          `koanf:"http"`
	Observability Observability `koanf:"observability"`
	Log           Log           `koanf:"log"`
}

// Database holds persistence settings.
type Database struct {
	// URL is the PostgreSQL connection string.
	URL string `koanf:"url"`
}

// Session holds session token settings. The core consumes these values;
// sourcing them is this layer's job.
type Session struct {
	// Secret signs session tokens. It must be supplied by the
	// deployment and at least auth.MinSecretLength bytes long. There is
	// deliberately no default: a predictable signing key would let
	// anyone forge sessions.
	Secret string `koanf:"secret"`

	// TTL is the session validity window.
	TTL time.Duration `koanf:"ttl"`
}

// HTTP holds the API listener settings.
type HTTP struct {
	Addr string `koanf:"addr"`
}

// Observability holds the metrics/health listener settings.
type Observability struct {
	Addr string `koanf:"addr"`
}

// Log holds logging settings.
type Log struct {
	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// Default returns the configuration defaults. The signing secret and
// database URL have none.
func Default() Config {
	return Config{
		Session:       Session{TTL: auth.DefaultTokenTTL},
		HTTP:          HTTP{Addr: ":8080"},
		Observability: Observability{Addr: "127.0.0.1:9100"},
		Log:           Log{Format: "json"},
	}
}

// Load builds a Config from defaults, an optional YAML file, and an
// optional flag set. A missing configFile is an error; an empty path
// skips the file source.
func Load(configFile string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").
				With("path", configFile).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	return cfg, nil
}

// Validate checks the configuration for a production run. It fails
// fast on a missing or weak signing secret rather than falling back to
// a predictable default.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_MISSING_DATABASE_URL").
			Errorf("database.url is required")
	}
	if c.Session.Secret == "" {
		return oops.Code("CONFIG_MISSING_SECRET").
			Errorf("session.secret is required; refusing to start with no signing secret")
	}
	if len(c.Session.Secret) < auth.MinSecretLength {
		return oops.Code("CONFIG_WEAK_SECRET").
			With("min_bytes", auth.MinSecretLength).
			Errorf("session.secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Session.TTL <= 0 {
		return oops.Code("CONFIG_INVALID_TTL").
			Errorf("session.ttl must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID_LOG_FORMAT").
			With("format", c.Log.Format).
			Errorf("log.format must be json or text")
	}
	return nil
}
