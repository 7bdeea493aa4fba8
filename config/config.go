// Package config contains the bindery server configuration definitions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/binderyhq/bindery/storeproxy"
	"github.com/binderyhq/bindery/syncer"
)

const (
	stateDBName   = "state.db"
	catalogDBName = "catalog.db"
	lockFileName  = "bindery.lock"
)

// Config is the top level configuration for a bindery server.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Server     ServerConfig      `mapstructure:"server"`
	Sync       syncer.Config     `mapstructure:"sync"`
	Store      storeproxy.Config `mapstructure:"store"`
	LOGGING    LoggerConfig      `mapstructure:"logging"`
}

// BaseConfig holds the directory layout and process-wide options.
type BaseConfig struct {
	ConfigFile string `mapstructure:"config"`

	// DataDir holds everything the server owns: state database, lock file
	// and the cached store resources document.
	DataDir string `mapstructure:"data-dir"`
	// LibraryDir is the root of the content library: book payloads, covers
	// and, unless overridden, the catalog database.
	LibraryDir string `mapstructure:"library-dir"`
	// CatalogDB overrides the catalog database location.
	CatalogDB string `mapstructure:"catalog-db"`
	// FileLock overrides the exclusive lock file location.
	FileLock string `mapstructure:"filelock"`

	// CatalogReloadInterval throttles catalog reopening on device polls.
	CatalogReloadInterval time.Duration `mapstructure:"catalog-reload-interval"`

	CollectMetrics bool   `mapstructure:"metrics"`
	MetricsListen  string `mapstructure:"metrics-listen"`
}

// ServerConfig is the device HTTP listener section.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// BaseURL is the absolute url devices reach this server under; download
	// and cover links are templated from it.
	BaseURL        string        `mapstructure:"base-url"`
	AllowedOrigins []string      `mapstructure:"allowed-origins"`
	TokenCacheSize int           `mapstructure:"token-cache-size"`
	TokenCacheTTL  time.Duration `mapstructure:"token-cache-ttl"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		BaseConfig: BaseConfig{
			DataDir:               filepath.Join(home, ".bindery"),
			LibraryDir:            filepath.Join(home, "Books"),
			CatalogReloadInterval: time.Minute,
			MetricsListen:         "127.0.0.1:9464",
		},
		Server: ServerConfig{
			Listen:         "0.0.0.0:8585",
			BaseURL:        "http://localhost:8585",
			AllowedOrigins: []string{"*"},
			TokenCacheSize: 128,
			TokenCacheTTL:  5 * time.Minute,
		},
		Sync:    syncer.DefaultConfig(),
		Store:   storeproxy.DefaultConfig(),
		LOGGING: defaultLoggingConfig(),
	}
}

// StatePath returns the state database location.
func (cfg *Config) StatePath() string {
	return filepath.Join(cfg.DataDir, stateDBName)
}

// CatalogPath returns the catalog database location; unless overridden it
// lives inside the library directory next to the content it describes.
func (cfg *Config) CatalogPath() string {
	if cfg.CatalogDB != "" {
		return cfg.CatalogDB
	}
	return filepath.Join(cfg.LibraryDir, catalogDBName)
}

// LockPath returns the exclusive lock file location.
func (cfg *Config) LockPath() string {
	if cfg.FileLock != "" {
		return cfg.FileLock
	}
	return filepath.Join(cfg.DataDir, lockFileName)
}

// LoadConfig reads the config file at path into the viper instance. An empty
// path falls back to bindery.* in the working directory and is optional;
// an explicit path must exist.
func LoadConfig(path string, vip *viper.Viper) error {
	if path == "" {
		vip.SetConfigName("bindery")
		vip.AddConfigPath(".")
		if err := vip.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil
			}
			return fmt.Errorf("reading config: %w", err)
		}
		return nil
	}
	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

// Load overlays the file at path (optional when empty) onto the defaults
// already present in cfg.
func Load(cfg *Config, path string) error {
	vip := viper.New()
	if err := LoadConfig(path, vip); err != nil {
		return err
	}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		WithZeroFields(),
		WithIgnoreUntagged(),
		WithErrorUnused(),
	}
	if err := vip.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// WithZeroFields zeroes target fields before decoding, so configured lists
// replace defaults instead of merging with them.
func WithZeroFields() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ZeroFields = true
	}
}

// WithIgnoreUntagged skips struct fields without mapstructure tags; those are
// set at runtime by the owning application, never from the file.
func WithIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

// WithErrorUnused rejects configuration keys that match no known field.
func WithErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}
