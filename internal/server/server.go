// Package server provides the HTTP API for bottle identification and catalog management.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/indexer"
	"github.com/hyperjump/bottlematch/internal/search"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// WatchService manages inbox directories at runtime. *watcher.Watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the bottlematch API.
type Server struct {
	engine  *search.Engine
	indexer *indexer.Indexer
	store   *vectorstore.Store
	watch   WatchService // optional
	logger  *zap.Logger
	server  *http.Server

	configMu   sync.Mutex
	config     *config.Config
	configPath string // where watch changes are saved; empty disables saving
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store *vectorstore.Store,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	return &Server{
		engine:     engine,
		indexer:    idx,
		store:      store,
		watch:      watch,
		logger:     utils.OrNop(logger),
		config:     cfg,
		configPath: configPath,
	}
}

// Router returns the HTTP handler with every route and middleware mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware(s.config.Server.CORSOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Post("/api/identify", s.handleIdentify)
	r.Post("/api/identify_base64", s.handleIdentifyBase64)
	r.Get("/api/bottles", s.handleListBottles)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/search", s.handleSearch)
		r.Post("/bottles", s.handleAddBottle)
		r.Get("/bottles/{id}", s.handleGetBottle)
		r.Delete("/bottles/{id}", s.handleDeleteBottle)
		r.Post("/index/save", s.handleSaveIndex)
		r.Post("/index/reload", s.handleReloadIndex)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})

	if dir := s.config.Storage.ImagesDir; dir != "" {
		r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.Dir(dir))))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{suggestionHeader},
		MaxAge:         300,
	})
}
