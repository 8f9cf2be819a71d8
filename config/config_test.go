package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/masterlist/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "json", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.Equal(t, int64(32<<20), cfg.Import.MaxUploadBytes)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "masterlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
store:
  backend: sqlite
  sqliteDriver: pure
  timeout: 2s
log:
  format: json
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "pure", cfg.Store.SQLiteDriver)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "masterlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9090\"\nhost: 127.0.0.1\n"), 0o644))

	t.Setenv("HOST", "")
	t.Setenv("PORT", "7070")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("STORE_TIMEOUT", "750ms")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv())

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "6060", "--import-workers", "8"}))
	require.NoError(t, cfg.ApplyFlags(fs))

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "6060", cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, 8, cfg.Import.Workers)
}

func TestBadEnvTimeout(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "soon")
	assert.Error(t, config.Default().ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "mongo" }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Backend = "postgres" }},
		{"bad port", func(c *config.Config) { c.Port = "http" }},
		{"zero timeout", func(c *config.Config) { c.Store.Timeout = 0 }},
		{"no workers", func(c *config.Config) { c.Import.Workers = 0 }},
		{"bad level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := config.Default()
	cfg.Store.Backend = "postgres"
	cfg.Store.DSN = "postgres://localhost/masterlist"
	assert.NoError(t, cfg.Validate())
}
