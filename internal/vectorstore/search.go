package vectorstore

import (
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// Search returns up to topK entries most similar to query, best first; equal scores are
// ordered by slot. Confidence is (similarity+1)/2 clamped to [0,1]. Indexed ids without
// metadata are skipped, so fewer than topK matches may come back.
func (s *Store) Search(query []float32, topK int) ([]models.BottleMatch, error) {
	if len(query) != s.dim {
		return nil, dimensionError(len(query), s.dim, "")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ids) == 0 || topK <= 0 {
		return []models.BottleMatch{}, nil
	}
	q, ok := utils.NormalizedCopy(query)
	if !ok {
		return nil, degenerateError("")
	}
	hits, err := s.index.Search(q, topK)
	if err != nil {
		return nil, internalError("index search", err)
	}

	matches := make([]models.BottleMatch, 0, len(hits))
	for _, h := range hits {
		id := s.ids[h.Slot]
		pos, ok := s.metaPos[id]
		if !ok {
			continue
		}
		b := s.meta[pos]
		matches = append(matches, models.BottleMatch{
			ID:         b.ID,
			Name:       b.Name,
			Confidence: Confidence(h.Score),
			ImageURL:   b.ImageURL,
		})
	}
	return matches, nil
}

// ListAll returns every metadata entry in insertion order with listing confidence,
// including entries that have no indexed embedding.
func (s *Store) ListAll() []models.BottleMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BottleMatch, len(s.meta))
	for i, b := range s.meta {
		out[i] = models.BottleMatch{
			ID:         b.ID,
			Name:       b.Name,
			Confidence: models.ListingConfidence,
			ImageURL:   b.ImageURL,
		}
	}
	return out
}

// Confidence maps a cosine similarity in [-1,1] linearly onto [0,1].
func Confidence(similarity float64) float64 {
	return utils.Clamp01((similarity + 1) / 2)
}
