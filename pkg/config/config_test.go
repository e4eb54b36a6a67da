package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GO_ENV", "")
	t.Setenv("CI", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":19099", cfg.Server.AdminAddress)
	assert.Equal(t, "workbench.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Database.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.Database.AcquireTimeout())
	assert.Equal(t, "native", cfg.Engine.Binding)
	assert.Equal(t, 334*time.Millisecond, cfg.Engine.MinInterval())
	assert.Equal(t, 100_000, cfg.Engine.MaxTextLength)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadTestEnvironmentShortensAcquireTimeout(t *testing.T) {
	t.Setenv("GO_ENV", "test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Database.AcquireTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  admin_address: ":9999"
database:
  path: /var/lib/workbench/data.db
  max_connections: 4
  acquire_timeout_ms: 250
engine:
  binding: native
  min_interval_ms: 100
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.AdminAddress)
	assert.Equal(t, "/var/lib/workbench/data.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Database.MaxConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.AcquireTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.MinInterval())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKBENCH_ADMIN_ADDR", ":7777")
	t.Setenv("WORKBENCH_DB_PATH", "override.db")
	t.Setenv("WORKBENCH_DB_MAX_CONNECTIONS", "2")
	t.Setenv("WORKBENCH_ENGINE_BINDING", "native")
	t.Setenv("WORKBENCH_ENGINE_MIN_INTERVAL_MS", "50")
	t.Setenv("WORKBENCH_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.AdminAddress)
	assert.Equal(t, "override.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Database.MaxConnections)
	assert.Equal(t, 50, cfg.Engine.MinIntervalMs)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "path must not be empty",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.Database.MaxConnections = 0 },
			wantErr: "max_connections must be at least 1",
		},
		{
			name:    "negative acquire timeout",
			mutate:  func(c *Config) { c.Database.AcquireTimeoutMs = -1 },
			wantErr: "acquire_timeout_ms must be positive",
		},
		{
			name:    "unknown binding",
			mutate:  func(c *Config) { c.Engine.Binding = "wasm" },
			wantErr: `invalid binding "wasm"`,
		},
		{
			name:    "sidecar without command",
			mutate:  func(c *Config) { c.Engine.Binding = "sidecar" },
			wantErr: "sidecar binding requires sidecar.command",
		},
		{
			name:    "bad email validation",
			mutate:  func(c *Config) { c.Engine.EmailValidation = "strict" },
			wantErr: `invalid email_validation "strict"`,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: `invalid log level "verbose"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationNormalizes(t *testing.T) {
	cfg := Default()
	cfg.Engine.Binding = "Native"
	cfg.Logging.Level = " INFO "
	cfg.Logging.Format = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "native", cfg.Engine.Binding)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}
