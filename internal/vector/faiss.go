//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// FAISSIndex is a flat inner-product index backed by FAISS IndexFlatIP.
// FAISS assigns sequential labels to added vectors, which are used directly as slots.
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var index *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{index: index, dimensions: dimensions}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Add appends vec to the FAISS index.
func (f *FAISSIndex) Add(vec []float32) (int, error) {
	if len(vec) != f.dimensions {
		return 0, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := int(C.faiss_Index_ntotal(f.index))
	ret := C.faiss_Index_add(f.index, 1, (*C.float)(unsafe.Pointer(&vec[0])))
	if ret != 0 {
		return 0, fmt.Errorf("failed to add vector to FAISS index: %s", faissLastError())
	}
	return slot, nil
}

// Search returns the top-k slots by inner product. FAISS breaks score ties in no
// particular order, so when the k-th score is tied the search widens until every slot
// sharing that score is in hand, and the ascending-slot rule picks among them.
func (f *FAISSIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k <= 0 || ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	fetch := k
	for {
		hits, err := f.searchLocked(query, fetch)
		if err != nil {
			return nil, err
		}
		if len(hits) < k {
			return hits, nil
		}
		// Done once the widest fetched score falls below the k-th, or nothing is left.
		if fetch == ntotal || hits[len(hits)-1].Score < hits[k-1].Score {
			return hits[:k], nil
		}
		fetch *= 2
		if fetch > ntotal {
			fetch = ntotal
		}
	}
}

func (f *FAISSIndex) searchLocked(query []float32, n int) ([]Hit, error) {
	distances := make([]float32, n)
	labels := make([]int64, n)
	ret := C.faiss_Index_search(
		f.index,
		1, // nq (number of queries)
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, 0, n)
	for i := 0; i < n; i++ {
		if labels[i] < 0 {
			continue
		}
		hits = append(hits, Hit{Slot: int(labels[i]), Score: float64(distances[i])})
	}
	sortHits(hits)
	return hits, nil
}

// Vector reconstructs the vector stored at slot.
func (f *FAISSIndex) Vector(slot int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if slot < 0 || slot >= ntotal {
		return nil, fmt.Errorf("slot %d out of range [0,%d)", slot, ntotal)
	}
	out := make([]float32, f.dimensions)
	ret := C.faiss_Index_reconstruct(f.index, C.idx_t(slot), (*C.float)(unsafe.Pointer(&out[0])))
	if ret != 0 {
		return nil, fmt.Errorf("FAISS reconstruct failed: %s", faissLastError())
	}
	return out, nil
}

// Reset removes all vectors from the FAISS index.
func (f *FAISSIndex) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ret := C.faiss_Index_reset(f.index); ret != 0 {
		return fmt.Errorf("FAISS reset failed: %s", faissLastError())
	}
	return nil
}

// Size returns the number of vectors in the index.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
