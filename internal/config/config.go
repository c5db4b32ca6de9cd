// Package config provides configuration loading and structs for the bottlematch server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds inbox directory watch settings. New images dropped into a watched
// directory are embedded and added; removed images are removed from the store.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to false when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return false
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// Storage backends.
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// StorageConfig holds the persistence backend and its paths.
// EmbeddingsDir and MetadataPath are used by the disk backend, DatabasePath by sqlite,
// BadgerDir by badger. IndexPath is the index snapshot written on shutdown.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	EmbeddingsDir string `yaml:"embeddings_dir"`
	MetadataPath  string `yaml:"metadata_path"`
	DatabasePath  string `yaml:"database_path"`
	BadgerDir     string `yaml:"badger_dir"`
	IndexPath     string `yaml:"index_path"`
	ImagesDir     string `yaml:"images_dir"`
}

// VectorConfig holds index settings.
type VectorConfig struct {
	Dimensions int    `yaml:"dimensions"`
	IndexType  string `yaml:"index_type"`
}

// EmbeddingConfig holds the CLIP image embedder settings.
type EmbeddingConfig struct {
	ModelPath string `yaml:"model_path"`
	ImageSize int    `yaml:"image_size"`
	CacheSize int    `yaml:"cache_size"`
	Workers   int    `yaml:"workers"`
}

// SearchConfig holds identification defaults.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read or parsed, or holds invalid values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Dir(path)
	s := &cfg.Storage
	for _, p := range []*string{&s.EmbeddingsDir, &s.MetadataPath, &s.DatabasePath, &s.BadgerDir, &s.IndexPath, &s.ImagesDir} {
		*p = expandPath(*p, configDir)
	}
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate reports values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendDisk, BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend %q (supported: disk, sqlite, badger)", c.Storage.Backend)
	}
	switch c.Vector.IndexType {
	case "memory", "faiss":
	default:
		return fmt.Errorf("unknown index type %q (supported: memory, faiss)", c.Vector.IndexType)
	}
	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("vector.dimensions must be positive, got %d", c.Vector.Dimensions)
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds search.max_top_k (%d)", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
