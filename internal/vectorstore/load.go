package vectorstore

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// LoadAll rebuilds the index, the slot mapping and the metadata table from the backend.
// Embeddings are added in lexicographic id order, so slot assignment is reproducible.
// The new state replaces the old one only when every record loads; on error the store
// keeps what it had.
func (s *Store) LoadAll(ctx context.Context) error {
	if s.backend == nil {
		return storageError("load", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.backend.LoadMetadata(ctx)
	if err != nil {
		return storageError("load metadata", err)
	}
	ids, err := s.backend.ListEmbeddingIDs(ctx)
	if err != nil {
		return storageError("list embeddings", err)
	}
	sort.Strings(ids)

	vecs := make([][]float32, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return storageError("load", err)
		}
		raw, err := s.backend.LoadEmbedding(ctx, id)
		if err != nil {
			return storageError("load embedding", err)
		}
		if len(raw) != s.dim {
			return dimensionError(len(raw), s.dim, id)
		}
		vec, ok := utils.NormalizedCopy(raw)
		if !ok {
			return degenerateError(id)
		}
		vecs = append(vecs, vec)
	}

	idx, err := s.buildIndex(vecs)
	if err != nil {
		return internalError("build index", err)
	}
	s.swapIndexLocked(idx, ids)
	s.setMetaLocked(meta)

	s.logger.Debug("store loaded",
		zap.String("backend", s.backend.Type()),
		zap.Int("entries", len(ids)),
		zap.Int("metadata", len(meta)))
	return nil
}

// ReloadMetadata replaces only the metadata table from the backend. It pairs with
// RestoreIndex, which restores the index but not the metadata.
func (s *Store) ReloadMetadata(ctx context.Context) error {
	if s.backend == nil {
		return storageError("load metadata", nil)
	}
	meta, err := s.backend.LoadMetadata(ctx)
	if err != nil {
		return storageError("load metadata", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMetaLocked(meta)
	return nil
}

// MatchesStorage reports whether the index holds exactly what the backend holds: the
// same ids, and for each id the persisted embedding once normalized. A restored
// snapshot that does not match is stale and should be replaced with LoadAll.
func (s *Store) MatchesStorage(ctx context.Context) (bool, error) {
	if s.backend == nil {
		return false, storageError("list embeddings", nil)
	}
	stored, err := s.backend.ListEmbeddingIDs(ctx)
	if err != nil {
		return false, storageError("list embeddings", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(stored) != len(s.ids) {
		return false, nil
	}
	for _, id := range stored {
		if err := ctx.Err(); err != nil {
			return false, storageError("compare embeddings", err)
		}
		slot, ok := s.slots[id]
		if !ok {
			return false, nil
		}
		raw, err := s.backend.LoadEmbedding(ctx, id)
		if err != nil {
			return false, storageError("load embedding", err)
		}
		persisted, ok := utils.NormalizedCopy(raw)
		if !ok || len(persisted) != s.dim {
			return false, nil
		}
		indexed, err := s.index.Vector(slot)
		if err != nil {
			return false, internalError("index vector", err)
		}
		if !sameVector(indexed, persisted) {
			s.logger.Debug("snapshot vector differs from storage", zap.String("id", id))
			return false, nil
		}
	}
	return true, nil
}

// vectorTolerance absorbs float32 rounding from normalizing an already normalized vector.
const vectorTolerance = 1e-6

func sameVector(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > vectorTolerance {
			return false
		}
	}
	return true
}

func (s *Store) setMetaLocked(meta []models.Bottle) {
	s.meta = make([]models.Bottle, 0, len(meta))
	s.metaPos = make(map[string]int, len(meta))
	for _, b := range meta {
		s.upsertMetaLocked(b)
	}
}
