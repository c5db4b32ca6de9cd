// Package embedding turns bottle photos into unit-length image embeddings.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Embedder produces an embedding for encoded image bytes (JPEG, PNG, GIF or WebP).
type Embedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Dimensions() int
	Close() error
}

// ContentKey identifies image bytes for caching.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
