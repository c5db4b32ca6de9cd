package models

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is wrapped by every request validation error.
var ErrInvalidRequest = errors.New("invalid request")

// SearchRequest is a similarity search against a precomputed embedding.
type SearchRequest struct {
	Embedding []float32 `json:"embedding"`
	TopK      int       `json:"top_k,omitempty"`
}

// Validate ensures the request carries an embedding.
func (r *SearchRequest) Validate() error {
	if len(r.Embedding) == 0 {
		return fmt.Errorf("%w: embedding cannot be empty", ErrInvalidRequest)
	}
	if r.TopK < 0 {
		return fmt.Errorf("%w: top_k cannot be negative", ErrInvalidRequest)
	}
	return nil
}

// IdentifyBase64Request carries a base64-encoded image for identification.
type IdentifyBase64Request struct {
	Base64Image string `json:"base64_image"`
	TopK        int    `json:"top_k,omitempty"`
}

// Validate ensures the request has an image payload.
func (r *IdentifyBase64Request) Validate() error {
	if r.Base64Image == "" {
		return fmt.Errorf("%w: base64_image cannot be empty", ErrInvalidRequest)
	}
	return nil
}

// Validate checks a bottle input: a name and exactly one of embedding or image.
func (in *BottleInput) Validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidRequest)
	}
	hasEmbedding := len(in.Embedding) > 0
	hasImage := in.Image != ""
	if hasEmbedding == hasImage {
		return fmt.Errorf("%w: exactly one of embedding or image is required", ErrInvalidRequest)
	}
	return nil
}
