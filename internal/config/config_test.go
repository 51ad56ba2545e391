// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// writeConfigFile writes a YAML config fixture and returns its path.
func writeConfigFile(t *testing.T, values map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(values)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("missing required values fail", func(t *testing.T) {
		_, err := config.Load("", nil)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("environment variables satisfy required values", func(t *testing.T) {
		t.Setenv("GATEHOUSE_DATABASE_URL", "postgres://localhost/gatehouse")
		t.Setenv("GATEHOUSE_SESSION_SECRET", "keyboard cat")

		cfg, err := config.Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/gatehouse", cfg.DatabaseURL)
		assert.Equal(t, "keyboard cat", cfg.SessionSecret)
		assert.Equal(t, config.DefaultListenAddr, cfg.ListenAddr)
		assert.Equal(t, config.DefaultMetricsAddr, cfg.MetricsAddr)
		assert.Equal(t, config.DefaultLogFormat, cfg.LogFormat)
	})

	t.Run("file provides values", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"database_url":   "postgres://filehost/gatehouse",
			"session_secret": "file-secret",
			"listen_addr":    ":8080",
			"log_format":     "text",
		})

		cfg, err := config.Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://filehost/gatehouse", cfg.DatabaseURL)
		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, "text", cfg.LogFormat)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"database_url":   "postgres://filehost/gatehouse",
			"session_secret": "file-secret",
		})
		t.Setenv("GATEHOUSE_DATABASE_URL", "postgres://envhost/gatehouse")

		cfg, err := config.Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://envhost/gatehouse", cfg.DatabaseURL)
		assert.Equal(t, "file-secret", cfg.SessionSecret)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("GATEHOUSE_DATABASE_URL", "postgres://localhost/gatehouse")
		t.Setenv("GATEHOUSE_SESSION_SECRET", "keyboard cat")
		t.Setenv("GATEHOUSE_LISTEN_ADDR", ":8080")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("listen-addr", config.DefaultListenAddr, "")
		require.NoError(t, flags.Set("listen-addr", ":9999"))

		cfg, err := config.Load("", flags)
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.ListenAddr)
	})

	t.Run("unreadable file fails", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_FILE_FAILED")
	})

	t.Run("invalid log format fails", func(t *testing.T) {
		t.Setenv("GATEHOUSE_DATABASE_URL", "postgres://localhost/gatehouse")
		t.Setenv("GATEHOUSE_SESSION_SECRET", "keyboard cat")
		t.Setenv("GATEHOUSE_LOG_FORMAT", "xml")

		_, err := config.Load("", nil)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			DatabaseURL:   "postgres://localhost/gatehouse",
			SessionSecret: "keyboard cat",
			ListenAddr:    ":3000",
			LogFormat:     "json",
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("empty database url fails", func(t *testing.T) {
		cfg := valid()
		cfg.DatabaseURL = ""
		errutil.AssertErrorCode(t, cfg.Validate(), "CONFIG_INVALID")
	})

	t.Run("empty session secret fails", func(t *testing.T) {
		cfg := valid()
		cfg.SessionSecret = ""
		errutil.AssertErrorCode(t, cfg.Validate(), "CONFIG_INVALID")
	})

	t.Run("empty metrics addr is allowed", func(t *testing.T) {
		cfg := valid()
		cfg.MetricsAddr = ""
		assert.NoError(t, cfg.Validate())
	})
}
