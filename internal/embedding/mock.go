package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/hyperjump/bottlematch/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. The vector is derived from the
// SHA-256 of the bytes, so the same image always gets the same embedding. When Decode is
// set the bytes must also be a decodable image.
type MockEmbedder struct {
	dimensions int
	Decode     bool
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedImage returns a deterministic unit-length embedding based on the content hash.
func (e *MockEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if e.Decode {
		if _, err := DecodeImage(data); err != nil {
			return nil, err
		}
	}
	sum := sha256.Sum256(data)
	h := binary.LittleEndian.Uint64(sum[:8])
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h%100003)*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
