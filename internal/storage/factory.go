package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/config"
)

// NewBackend opens the backend selected by cfg.Backend.
func NewBackend(cfg *config.StorageConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendDisk, "":
		return NewDiskStorage(cfg.EmbeddingsDir, cfg.MetadataPath)
	case config.BackendSQLite:
		return NewSQLiteStorage(cfg.DatabasePath)
	case config.BackendBadger:
		return NewBadgerStorage(BadgerOptions{Dir: cfg.BadgerDir, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: disk, sqlite, badger)", cfg.Backend)
	}
}

// Paths returns the on-disk locations used by the configured backend (for disk usage reporting).
func Paths(cfg *config.StorageConfig) []string {
	switch cfg.Backend {
	case config.BackendSQLite:
		return []string{cfg.DatabasePath, cfg.IndexPath}
	case config.BackendBadger:
		return []string{cfg.BadgerDir, cfg.IndexPath}
	default:
		return []string{cfg.EmbeddingsDir, cfg.MetadataPath, cfg.IndexPath}
	}
}
