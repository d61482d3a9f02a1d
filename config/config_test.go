package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settlement.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.01", cfg.Tolerance().String())
	assert.Equal(t, time.Hour, cfg.SchedulerInterval())
	assert.Empty(t, cfg.Log.Level)

	read, write, idle := cfg.Timeouts()
	assert.Equal(t, 15*time.Second, read)
	assert.Equal(t, 15*time.Second, write)
	assert.Equal(t, 60*time.Second, idle)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[database]
path = "/var/lib/settlement/prod.db"

[balance]
tolerance = "0.5"

[scheduler]
interval = "15m"
auto_fix = true

[log]
level = "debug"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/settlement/prod.db", cfg.Database.Path)
	assert.Equal(t, "0.5", cfg.Tolerance().String())
	assert.Equal(t, 15*time.Minute, cfg.SchedulerInterval())
	assert.True(t, cfg.Scheduler.AutoFix)
	assert.True(t, cfg.Scheduler.Enabled, "unset keys keep their default")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.Default().Server.AllowedOrigins, cfg.Server.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", "[server\nport = 1"},
		{"port out of range", "[server]\nport = 70000"},
		{"bad timeout", "[server]\nread_timeout = \"soon\""},
		{"negative tolerance", "[balance]\ntolerance = \"-1\""},
		{"non-decimal tolerance", "[balance]\ntolerance = \"abc\""},
		{"zero interval", "[scheduler]\ninterval = \"0s\""},
		{"empty database path", "[database]\npath = \"\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
