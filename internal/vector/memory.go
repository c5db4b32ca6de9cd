package vector

import (
	"fmt"
	"sync"
)

// FlatIndex is an in-memory exact index using brute-force inner product search.
// Vectors are kept in one contiguous slice, slot i at data[i*dim:(i+1)*dim].
type FlatIndex struct {
	dimensions int
	data       []float32
	n          int
	mu         sync.RWMutex
}

// NewFlatIndex creates an in-memory flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Add appends a copy of vec.
func (f *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != f.dimensions {
		return 0, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, vec...)
	f.n++
	return f.n - 1, nil
}

// Search returns the top-k slots by inner product.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || f.n == 0 {
		return nil, nil
	}
	hits := make([]Hit, f.n)
	for slot := 0; slot < f.n; slot++ {
		off := slot * f.dimensions
		hits[slot] = Hit{Slot: slot, Score: InnerProduct(query, f.data[off:off+f.dimensions])}
	}
	sortHits(hits)
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Vector returns a copy of the vector at slot.
func (f *FlatIndex) Vector(slot int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if slot < 0 || slot >= f.n {
		return nil, fmt.Errorf("slot %d out of range [0,%d)", slot, f.n)
	}
	out := make([]float32, f.dimensions)
	copy(out, f.data[slot*f.dimensions:])
	return out, nil
}

// Reset drops all vectors.
func (f *FlatIndex) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = nil
	f.n = 0
	return nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.n
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
