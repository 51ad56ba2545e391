// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads Gatehouse configuration from a YAML file,
// GATEHOUSE_* environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// envPrefix namespaces the environment variables consumed by Gatehouse.
const envPrefix = "GATEHOUSE_"

// Default values for optional settings.
const (
	DefaultListenAddr  = ":3000"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLogFormat   = "json"
)

// Config holds the runtime configuration.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string. Required.
	DatabaseURL string `koanf:"database_url"`

	// SessionSecret keys the HMAC protecting session tokens. Required.
	SessionSecret string `koanf:"session_secret"`

	// ListenAddr is the address the web server listens on.
	ListenAddr string `koanf:"listen_addr"`

	// MetricsAddr is the observability server address. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// LogFormat selects the log output format ("json" or "text").
	LogFormat string `koanf:"log_format"`
}

// Load reads configuration from the optional YAML file at path, then
// GATEHOUSE_* environment variables, then the given flag set. A missing
// required value is a fatal configuration error, not a runtime-recoverable
// one.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	// GATEHOUSE_DATABASE_URL -> database_url
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if flags != nil {
		// --listen-addr -> listen_addr
		p := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := &Config{
		ListenAddr:  DefaultListenAddr,
		MetricsAddr: DefaultMetricsAddr,
		LogFormat:   DefaultLogFormat,
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and well-formed.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required (set GATEHOUSE_DATABASE_URL)")
	}
	if c.SessionSecret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("session_secret is required (set GATEHOUSE_SESSION_SECRET)")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be json or text")
	}
	return nil
}
