// Package search provides the bottle identification engine.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/embedding"
	"github.com/hyperjump/bottlematch/internal/keyword"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
)

// Engine identifies bottles by image similarity and looks them up by name.
type Engine struct {
	store    *vectorstore.Store
	embedder embedding.Embedder
	names    *keyword.NameIndex // optional
	config   *config.SearchConfig
}

// NewEngine creates a search engine with the given dependencies. names may be nil, in
// which case name queries fall back to a substring scan.
func NewEngine(
	store *vectorstore.Store,
	embedder embedding.Embedder,
	names *keyword.NameIndex,
	cfg *config.SearchConfig,
) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		names:    names,
		config:   cfg,
	}
}

// Identify embeds an image and returns the most similar bottles.
func (e *Engine) Identify(ctx context.Context, image []byte, topK int) (*models.IdentifyResponse, error) {
	start := time.Now()
	vec, err := e.embedder.EmbedImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return e.search(vec, topK, start)
}

// SearchEmbedding returns the bottles most similar to a precomputed embedding.
func (e *Engine) SearchEmbedding(ctx context.Context, vec []float32, topK int) (*models.IdentifyResponse, error) {
	return e.search(vec, topK, time.Now())
}

func (e *Engine) search(vec []float32, topK int, start time.Time) (*models.IdentifyResponse, error) {
	matches, err := e.store.Search(vec, ClampTopK(topK, e.config))
	if err != nil {
		return nil, err
	}
	return &models.IdentifyResponse{
		Matches:          matches,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// ListBottles returns every bottle when query is empty. Otherwise it returns bottles
// whose name matches query, retrying with fuzzy matching when nothing matches exactly;
// if that also finds nothing, suggestion holds a corrected query when one exists.
func (e *Engine) ListBottles(ctx context.Context, query string) (matches []models.BottleMatch, suggestion string, err error) {
	if query == "" {
		return e.store.ListAll(), "", nil
	}
	if e.names == nil {
		return e.scanNames(query), "", nil
	}

	limit := e.store.Stats().Metadata
	hits, err := e.names.Search(ctx, query, limit, nil)
	if err != nil {
		return nil, "", err
	}
	if len(hits) == 0 {
		hits, err = e.names.Search(ctx, query, limit, &keyword.SearchOptions{Fuzzy: true})
		if err != nil {
			return nil, "", err
		}
	}
	matches = make([]models.BottleMatch, 0, len(hits))
	for _, h := range hits {
		b, ok := e.store.Get(h.ID)
		if !ok {
			continue
		}
		matches = append(matches, models.BottleMatch{
			ID:         b.ID,
			Name:       b.Name,
			Confidence: models.ListingConfidence,
			ImageURL:   b.ImageURL,
		})
	}
	if len(matches) == 0 {
		suggestion, _ = e.names.Suggest(query)
	}
	return matches, suggestion, nil
}
