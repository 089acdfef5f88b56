// Package config handles loading and parsing of ShelfStore configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for ShelfStore.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metadata MetadataConfig `yaml:"metadata"`
	Storage  StorageConfig  `yaml:"storage"`
	Engine   EngineConfig   `yaml:"engine"`
	Owner    OwnerConfig    `yaml:"owner"`
}

// OwnerConfig identifies the bucket/object owner echoed in listings. There
// is a single owner; this is not an access control boundary.
type OwnerConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Region is reported as the bucket location constraint.
	Region string `yaml:"region"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxObjectSize is the maximum accepted object size in bytes.
	MaxObjectSize int64 `yaml:"max_object_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text, json.
	Format string `yaml:"format"`
}

// MetadataConfig holds version metadata store settings.
type MetadataConfig struct {
	// Engine is the metadata backend engine: "sqlite" or "memory".
	Engine string       `yaml:"engine"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds SQLite-specific metadata store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// StorageConfig holds object blob storage settings.
type StorageConfig struct {
	// Backend is the blob storage backend: "local" or "memory".
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
}

// LocalConfig holds local filesystem blob storage settings.
type LocalConfig struct {
	// RootDir is the base directory for local object storage.
	RootDir string `yaml:"root_dir"`
}

// EngineConfig holds versioning engine limits.
type EngineConfig struct {
	// MaxBatchItems caps the number of items in a multi-object batch
	// (DeleteObjects and transactional batches). Batches above the cap
	// fail fast before any mutation is attempted.
	MaxBatchItems int `yaml:"max_batch_items"`
	// MaxListVersions caps the page size for ListObjectVersions.
	MaxListVersions int `yaml:"max_list_versions"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. It applies sensible defaults for unset values. If the
// primary path fails, it falls back to shelfstore.example.yaml in the same
// directory or parent directory.
func Load(path string) (*Config, error) {
	// Defaults are applied after unmarshal so fallbacks derived from other
	// fields (DisplayName from Owner.ID) see the file's values.
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "shelfstore.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "shelfstore.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config with all defaults applied, for embedding the
// engine without a config file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.Region == "" {
		cfg.Server.Region = "us-east-1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxObjectSize == 0 {
		cfg.Server.MaxObjectSize = 5 * 1024 * 1024 * 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "data/shelfstore.db"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "data/objects"
	}
	if cfg.Engine.MaxBatchItems == 0 {
		cfg.Engine.MaxBatchItems = 1000
	}
	if cfg.Engine.MaxListVersions == 0 {
		cfg.Engine.MaxListVersions = 1000
	}
	if cfg.Owner.ID == "" {
		cfg.Owner.ID = "shelfstore"
	}
	if cfg.Owner.DisplayName == "" {
		cfg.Owner.DisplayName = cfg.Owner.ID
	}
}

// Addr returns the host:port listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
