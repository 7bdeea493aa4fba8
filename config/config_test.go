package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
main:
  data-dir: /var/lib/bindery
  catalog-reload-interval: 30s
server:
  listen: 127.0.0.1:9090
  token-cache-ttl: 1m
  allowed-origins: "https://reader.example,https://admin.example"
sync:
  page-size: 50
  default-policy: hybrid
store:
  enabled: true
  base-url: https://store.example
logging:
  level: debug
`), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, Load(&cfg, path))

	require.Equal(t, "/var/lib/bindery", cfg.DataDir)
	require.Equal(t, 30*time.Second, cfg.CatalogReloadInterval)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.Listen)
	require.Equal(t, time.Minute, cfg.Server.TokenCacheTTL)
	require.Equal(t, []string{"https://reader.example", "https://admin.example"}, cfg.Server.AllowedOrigins)
	require.Equal(t, 50, cfg.Sync.PageSize)
	require.Equal(t, "hybrid", cfg.Sync.DefaultPolicy)
	require.True(t, cfg.Store.Enabled)
	require.Equal(t, "https://store.example", cfg.Store.BaseURL)
	require.Equal(t, "debug", cfg.LOGGING.Level)

	// untouched keys keep their defaults
	require.Equal(t, "http://localhost:8585", cfg.Server.BaseURL)
	require.True(t, cfg.Sync.MergeEnabled)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindery.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main:\n  no-such-option: 1\n"), 0o600))

	cfg := DefaultConfig()
	require.Error(t, Load(&cfg, path))
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, Load(&cfg, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.LibraryDir = "/books"

	require.Equal(t, filepath.Join("/data", "state.db"), cfg.StatePath())
	require.Equal(t, filepath.Join("/books", "catalog.db"), cfg.CatalogPath())
	require.Equal(t, filepath.Join("/data", "bindery.lock"), cfg.LockPath())

	cfg.CatalogDB = "/elsewhere/metadata.db"
	cfg.FileLock = "/run/bindery.lock"
	require.Equal(t, "/elsewhere/metadata.db", cfg.CatalogPath())
	require.Equal(t, "/run/bindery.lock", cfg.LockPath())
}

func TestLoggerBuild(t *testing.T) {
	logger, err := LoggerConfig{Encoder: ConsoleLogEncoder, Level: "warn"}.Build()
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = LoggerConfig{Encoder: JSONLogEncoder, Level: "info"}.Build()
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = LoggerConfig{Encoder: ConsoleLogEncoder, Level: "shouting"}.Build()
	require.Error(t, err)
}
