package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/embedding"
	"github.com/hyperjump/bottlematch/internal/indexer"
	"github.com/hyperjump/bottlematch/internal/keyword"
	"github.com/hyperjump/bottlematch/internal/search"
	"github.com/hyperjump/bottlematch/internal/storage"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
)

// Components holds initialized services.
type Components struct {
	Backend  storage.Backend
	Store    *vectorstore.Store
	Embedder embedding.Embedder
	Names    *keyword.NameIndex
	Engine   *search.Engine
	Indexer  *indexer.Indexer
}

// Close releases every initialized service.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Names != nil {
		_ = c.Names.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
}

type componentOptions struct {
	debug      bool
	copyImages bool
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	backend, err := storage.NewBackend(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Backend: backend}

	storeOpts := []vectorstore.Option{
		vectorstore.WithStorage(backend),
		vectorstore.WithIndexType(cfg.Vector.IndexType),
	}
	if opts.debug {
		storeOpts = append(storeOpts, vectorstore.WithLogger(logger))
	}
	store, err := vectorstore.New(cfg.Vector.Dimensions, storeOpts...)
	if err != nil && cfg.Vector.IndexType != "memory" {
		// Fall back to the memory index if the configured type is unavailable (e.g. no FAISS).
		logger.Warn("failed to create vector index, falling back to memory",
			zap.String("requested_type", cfg.Vector.IndexType),
			zap.Error(err))
		storeOpts[1] = vectorstore.WithIndexType("memory")
		store, err = vectorstore.New(cfg.Vector.Dimensions, storeOpts...)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	c.Store = store

	clip, err := embedding.NewCLIPEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Vector.Dimensions,
		cfg.Embedding.ImageSize,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("CLIP model unavailable, using mock embedder (identification results are not meaningful)",
			zap.String("model_path", cfg.Embedding.ModelPath),
			zap.Error(err))
		c.Embedder = embedding.NewMockEmbedder(cfg.Vector.Dimensions)
	} else {
		c.Embedder = clip
	}

	names, err := keyword.NewNameIndex()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize name index: %w", err)
	}
	c.Names = names

	c.Engine = search.NewEngine(store, c.Embedder, names, &cfg.Search)

	idxOpts := []indexer.IndexerOption{
		indexer.WithExtensions(cfg.Watch.Extensions),
		indexer.WithWorkers(cfg.Embedding.Workers),
	}
	if opts.copyImages {
		idxOpts = append(idxOpts, indexer.WithImagesDir(cfg.Storage.ImagesDir))
	}
	if opts.debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(store, c.Embedder, names, idxOpts...)
	return c, nil
}

// loadState fills the store. A saved index snapshot is used when it holds exactly the
// persisted ids and vectors; otherwise the store is rebuilt with LoadAll.
func loadState(ctx context.Context, c *Components, cfg *config.Config, logger *zap.Logger) error {
	if path := cfg.Storage.IndexPath; path != "" {
		if err := c.Store.RestoreIndex(path); err != nil {
			logger.Warn("index snapshot unusable, rebuilding from storage", zap.String("path", path), zap.Error(err))
		} else if c.Store.Size() > 0 {
			ok, err := c.Store.MatchesStorage(ctx)
			if err == nil && ok {
				if err := c.Store.ReloadMetadata(ctx); err != nil {
					return err
				}
				logger.Info("index snapshot restored", zap.String("path", path), zap.Int("entries", c.Store.Size()))
				return c.Indexer.RebuildNames(ctx)
			}
			logger.Info("index snapshot is stale, rebuilding from storage", zap.String("path", path))
		}
	}
	if err := c.Indexer.Reload(ctx); err != nil {
		return err
	}
	logger.Info("store loaded from storage",
		zap.String("backend", c.Backend.Type()),
		zap.Int("entries", c.Store.Size()))
	return nil
}

// saveIndex writes the index snapshot for the next start.
func saveIndex(c *Components, cfg *config.Config, logger *zap.Logger) {
	path := cfg.Storage.IndexPath
	if path == "" {
		return
	}
	if err := c.Store.PersistIndex(path); err != nil {
		logger.Warn("index snapshot save failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("index snapshot saved", zap.String("path", path), zap.Int("entries", c.Store.Size()))
}
