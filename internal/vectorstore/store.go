// Package vectorstore holds bottle embeddings in an exact inner-product index together
// with their metadata, and keeps both in sync with a storage backend.
//
// Slots are positional: the entry added n-th lives at slot n-1, and the store keeps a
// bijective slot<->id mapping next to the index. Replacing or removing an entry rebuilds
// the index so slots stay dense. All stored vectors are unit length, so the inner
// product is the cosine similarity.
package vectorstore

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/storage"
	"github.com/hyperjump/bottlematch/internal/vector"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// Store is the in-memory vector store. It is safe for concurrent use: writers take the
// store lock exclusively, readers share it.
type Store struct {
	mu sync.RWMutex

	dim       int
	indexType string
	backend   storage.Backend
	logger    *zap.Logger

	index vector.Index
	ids   []string       // slot -> id
	slots map[string]int // id -> slot

	meta    []models.Bottle // insertion order
	metaPos map[string]int  // id -> position in meta
}

// Option configures a Store.
type Option func(*Store)

// WithStorage sets the persistence backend used by LoadAll, ReloadMetadata and
// persisting writes.
func WithStorage(b storage.Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithIndexType selects the index implementation ("memory" or "faiss").
func WithIndexType(t string) Option {
	return func(s *Store) { s.indexType = t }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty store for vectors of length dim.
func New(dim int, opts ...Option) (*Store, error) {
	if dim <= 0 {
		return nil, oops.Code(CodeDimensionMismatch).With("got", dim).
			Wrapf(ErrDimensionMismatch, "dimension must be positive, got %d", dim)
	}
	s := &Store{
		dim:       dim,
		indexType: string(vector.IndexTypeMemory),
		slots:     make(map[string]int),
		metaPos:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	idx, err := vector.NewIndex(s.indexType, dim)
	if err != nil {
		return nil, internalError("create index", err)
	}
	s.index = idx
	return s, nil
}

// Dimensions returns the vector length accepted by the store.
func (s *Store) Dimensions() int { return s.dim }

// IndexType returns the index implementation in use.
func (s *Store) IndexType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Type()
}

// Size returns the number of indexed entries.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Stats describes the store contents. Orphans counts indexed ids without metadata; they
// are never returned by Search.
type Stats struct {
	Entries  int `json:"entries"`
	Metadata int `json:"metadata"`
	Orphans  int `json:"orphans"`
}

// Stats returns current counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Entries: len(s.ids), Metadata: len(s.meta)}
	for _, id := range s.ids {
		if _, ok := s.metaPos[id]; !ok {
			st.Orphans++
		}
	}
	return st
}

// Get returns the metadata stored for id.
func (s *Store) Get(id string) (models.Bottle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.metaPos[id]
	if !ok {
		return models.Bottle{}, false
	}
	return s.meta[pos], true
}

// Bottles returns a copy of the metadata table in insertion order.
func (s *Store) Bottles() []models.Bottle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Bottle(nil), s.meta...)
}

// IDs returns the indexed ids in slot order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ids...)
}

// AddEntry normalizes embedding and stores it under id, together with its metadata.
// A new id is appended at slot Size(); an existing id keeps its slot and the index is
// rebuilt with the new vector in place. When persist is set, the embedding and the full
// metadata table are written to the backend before memory changes; if that fails the
// store is unchanged.
func (s *Store) AddEntry(ctx context.Context, id string, embedding []float32, name, imageURL string, persist bool) (int, error) {
	if len(embedding) != s.dim {
		return 0, dimensionError(len(embedding), s.dim, id)
	}
	if err := storage.ValidateID(id); err != nil {
		return 0, invalidIDError(id, err)
	}
	vec, ok := utils.NormalizedCopy(embedding)
	if !ok {
		return 0, degenerateError(id)
	}
	bottle := models.Bottle{ID: id, Name: name, ImageURL: imageURL}

	s.mu.Lock()
	defer s.mu.Unlock()

	if persist {
		if err := s.persistEntry(ctx, bottle, vec); err != nil {
			return 0, err
		}
	}

	slot, exists := s.slots[id]
	if exists {
		if err := s.replaceLocked(slot, vec); err != nil {
			return 0, internalError("reindex", err)
		}
	} else {
		var err error
		slot, err = s.index.Add(vec)
		if err != nil {
			return 0, internalError("index add", err)
		}
		s.ids = append(s.ids, id)
		s.slots[id] = slot
	}
	s.upsertMetaLocked(bottle)

	s.logger.Debug("entry added",
		zap.String("id", id),
		zap.Int("slot", slot),
		zap.Bool("replaced", exists),
		zap.Bool("persisted", persist))
	return slot, nil
}

// persistEntry writes vec and the metadata table that would result from upserting b.
// On metadata failure the previous embedding record is restored, best effort.
func (s *Store) persistEntry(ctx context.Context, b models.Bottle, vec []float32) error {
	if s.backend == nil {
		return storageError("persist", nil)
	}
	prev, prevErr := s.backend.LoadEmbedding(ctx, b.ID)
	hadPrev := prevErr == nil

	if err := s.backend.SaveEmbedding(ctx, b.ID, vec); err != nil {
		if errors.Is(err, storage.ErrInvalidID) {
			return invalidIDError(b.ID, err)
		}
		return storageError("save embedding", err)
	}
	if err := s.backend.SaveMetadata(ctx, s.metaWith(b)); err != nil {
		var undoErr error
		if hadPrev {
			undoErr = s.backend.SaveEmbedding(ctx, b.ID, prev)
		} else {
			undoErr = s.backend.DeleteEmbedding(ctx, b.ID)
		}
		if undoErr != nil {
			s.logger.Warn("failed to undo embedding write", zap.String("id", b.ID), zap.Error(undoErr))
		}
		return storageError("save metadata", err)
	}
	return nil
}

// Remove deletes id from the index and the metadata table. The index is rebuilt so slots
// stay dense; entries after the removed slot move down by one. When persist is set, the
// embedding record and the metadata entry are removed from the backend first; if the
// embedding cannot be deleted the metadata table is written back and the store is unchanged.
func (s *Store) Remove(ctx context.Context, id string, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, indexed := s.slots[id]
	_, hasMeta := s.metaPos[id]
	if !indexed && !hasMeta {
		return notFoundError(id)
	}

	if persist {
		if s.backend == nil {
			return storageError("remove", nil)
		}
		if err := s.backend.SaveMetadata(ctx, s.metaWithout(id)); err != nil {
			return storageError("save metadata", err)
		}
		if err := s.backend.DeleteEmbedding(ctx, id); err != nil {
			if undoErr := s.backend.SaveMetadata(ctx, s.meta); undoErr != nil {
				s.logger.Warn("failed to undo metadata write", zap.String("id", id), zap.Error(undoErr))
			}
			return storageError("delete embedding", err)
		}
	}

	if indexed {
		if err := s.dropSlotLocked(slot); err != nil {
			return internalError("reindex", err)
		}
	}
	if hasMeta {
		s.meta = s.metaWithout(id)
		s.reindexMetaLocked()
	}
	s.logger.Debug("entry removed", zap.String("id", id), zap.Bool("persisted", persist))
	return nil
}

// Close releases the index. The backend is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// vectorsLocked copies every indexed vector in slot order.
func (s *Store) vectorsLocked() ([][]float32, error) {
	out := make([][]float32, len(s.ids))
	for slot := range s.ids {
		v, err := s.index.Vector(slot)
		if err != nil {
			return nil, err
		}
		out[slot] = v
	}
	return out, nil
}

// buildIndex creates a fresh index holding vecs at slots 0..len(vecs)-1.
func (s *Store) buildIndex(vecs [][]float32) (vector.Index, error) {
	idx, err := vector.NewIndex(s.indexType, s.dim)
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		if _, err := idx.Add(v); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	return idx, nil
}

// swapIndexLocked installs idx with the given slot order.
func (s *Store) swapIndexLocked(idx vector.Index, ids []string) {
	old := s.index
	s.index = idx
	s.ids = ids
	s.slots = make(map[string]int, len(ids))
	for slot, id := range ids {
		s.slots[id] = slot
	}
	if old != nil && old != idx {
		_ = old.Close()
	}
}

func (s *Store) replaceLocked(slot int, vec []float32) error {
	vecs, err := s.vectorsLocked()
	if err != nil {
		return err
	}
	vecs[slot] = vec
	idx, err := s.buildIndex(vecs)
	if err != nil {
		return err
	}
	s.swapIndexLocked(idx, s.ids)
	return nil
}

func (s *Store) dropSlotLocked(slot int) error {
	vecs, err := s.vectorsLocked()
	if err != nil {
		return err
	}
	vecs = append(vecs[:slot], vecs[slot+1:]...)
	ids := make([]string, 0, len(s.ids)-1)
	ids = append(ids, s.ids[:slot]...)
	ids = append(ids, s.ids[slot+1:]...)
	idx, err := s.buildIndex(vecs)
	if err != nil {
		return err
	}
	s.swapIndexLocked(idx, ids)
	return nil
}

// metaWith returns a copy of the metadata table with b upserted; an existing id keeps
// its position.
func (s *Store) metaWith(b models.Bottle) []models.Bottle {
	out := make([]models.Bottle, len(s.meta), len(s.meta)+1)
	copy(out, s.meta)
	if pos, ok := s.metaPos[b.ID]; ok {
		out[pos] = b
		return out
	}
	return append(out, b)
}

func (s *Store) metaWithout(id string) []models.Bottle {
	out := make([]models.Bottle, 0, len(s.meta))
	for _, b := range s.meta {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

func (s *Store) upsertMetaLocked(b models.Bottle) {
	if pos, ok := s.metaPos[b.ID]; ok {
		s.meta[pos] = b
		return
	}
	s.metaPos[b.ID] = len(s.meta)
	s.meta = append(s.meta, b)
}

func (s *Store) reindexMetaLocked() {
	s.metaPos = make(map[string]int, len(s.meta))
	for i, b := range s.meta {
		s.metaPos[b.ID] = i
	}
}
