package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  timeout: 10s
database:
  dsn: "file:test.db"
schedule:
  sync_interval: 15
  max_articles: 50
  retention_days: 90
fetcher:
  timeout: 5s
  user_agent: "custom/2.0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, 15, cfg.Schedule.SyncInterval)
	assert.Equal(t, 50, cfg.Schedule.MaxArticles)
	assert.Equal(t, 90, cfg.Schedule.RetentionDays)
	assert.Equal(t, 5*time.Second, cfg.Fetcher.Timeout)
	assert.Equal(t, "custom/2.0", cfg.Fetcher.UserAgent)

	// unset values come from defaults
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Schedule.MaxWorkers)
	assert.Equal(t, 24, cfg.Schedule.SweepInterval)
}

func TestLoad_Defaults(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, ""))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Listen)
		assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
		assert.Contains(t, cfg.Database.DSN, "rsspie.db")
		assert.Equal(t, 30, cfg.Schedule.SyncInterval)
		assert.Equal(t, 100, cfg.Schedule.MaxArticles)
		assert.Zero(t, cfg.Schedule.RetentionDays) // sweep disabled by default
		assert.Equal(t, "rsspie/1.0", cfg.Fetcher.UserAgent)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yml"))
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Listen)
	})
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_LISTEN_ADDR", ":7070")
	path := writeConfig(t, `
server:
  listen: "${TEST_LISTEN_ADDR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Listen)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad yaml", "server: [not a map", "parse config"},
		{"short server timeout", "server:\n  timeout: 100ms", "server.timeout"},
		{"negative sync interval", "schedule:\n  sync_interval: -5", "sync_interval"},
		{"negative retention", "schedule:\n  retention_days: -1", "retention_days"},
		{"negative workers", "schedule:\n  max_workers: -1", "max_workers"},
		{"short fetcher timeout", "fetcher:\n  timeout: 10ms", "fetcher.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)

	def, ok := schema.Definitions["Config"]
	require.True(t, ok)
	for _, key := range []string{"server", "database", "schedule", "fetcher"} {
		_, ok := def.Properties.Get(key)
		assert.True(t, ok, "schema missing %s", key)
	}
}
