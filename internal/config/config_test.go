package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloisaabril01/emailscrap/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5, cfg.Pipeline.Workers)
	assert.Equal(t, 5, cfg.Pipeline.MaxEmptyBatches)
	assert.Equal(t, 200, cfg.Pipeline.MaxScans)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.RequestTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Pipeline.RetryDelay)
	assert.Equal(t, 1, cfg.Pipeline.MaxRetries)
	assert.Equal(t, []string{"google.com"}, cfg.Pipeline.ExcludeHosts)
	assert.Equal(t, config.BackendFile, cfg.Store.Backend)
	assert.Equal(t, "database.json", cfg.Store.Path)
	assert.Equal(t, "exports", cfg.Export.Dir)
	assert.Equal(t, config.FormatXLSX, cfg.Export.Format)
	assert.Equal(t, ":8580", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Extract.MaxRedirects)
	assert.Equal(t, 5*time.Second, cfg.Extract.MaxRetryAfter)
	assert.Empty(t, cfg.Server.AllowedOrigins)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emailscrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  workers: 8
  request_timeout: 5s
export:
  format: csv
store:
  backend: sqlite
  path: shown.db
`), 0o600))
	t.Setenv("EMAILSCRAP_PIPELINE_BATCH_SIZE", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 7, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.RequestTimeout)
	assert.Equal(t, config.FormatCSV, cfg.Export.Format)
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "shown.db", cfg.Store.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Pipeline.Workers = 0 }},
		{"zero batch", func(c *config.Config) { c.Pipeline.BatchSize = 0 }},
		{"negative retries", func(c *config.Config) { c.Pipeline.MaxRetries = -1 }},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "mongo" }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Backend = config.BackendPostgres; c.Store.DSN = "" }},
		{"unknown format", func(c *config.Config) { c.Export.Format = "ods" }},
		{"unknown source", func(c *config.Config) { c.Source.Kind = "maps" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
