package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/storage"
)

// memBackend is an in-memory storage.Backend with switchable failures.
type memBackend struct {
	mu         sync.Mutex
	meta       []models.Bottle
	embeddings map[string][]float32

	failMetaSave bool
	failEmbSave  bool
	failList     bool
	failDelete   bool
}

func newMemBackend() *memBackend {
	return &memBackend{embeddings: make(map[string][]float32)}
}

var errInjected = errors.New("injected failure")

func (m *memBackend) LoadMetadata(ctx context.Context) ([]models.Bottle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Bottle(nil), m.meta...), nil
}

func (m *memBackend) SaveMetadata(ctx context.Context, bottles []models.Bottle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMetaSave {
		return errInjected
	}
	m.meta = append([]models.Bottle(nil), bottles...)
	return nil
}

func (m *memBackend) ListEmbeddingIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errInjected
	}
	ids := make([]string, 0, len(m.embeddings))
	for id := range m.embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memBackend) LoadEmbedding(ctx context.Context, id string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.embeddings[id]
	if !ok {
		return nil, fmt.Errorf("embedding %q: %w", id, storage.ErrNotFound)
	}
	return append([]float32(nil), v...), nil
}

func (m *memBackend) SaveEmbedding(ctx context.Context, id string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEmbSave {
		return errInjected
	}
	m.embeddings[id] = append([]float32(nil), vec...)
	return nil
}

func (m *memBackend) DeleteEmbedding(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errInjected
	}
	delete(m.embeddings, id)
	return nil
}

func (m *memBackend) Type() string { return "mem" }
func (m *memBackend) Close() error { return nil }
