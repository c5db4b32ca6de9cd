// Package storage persists per-id embeddings and the bottle metadata table.
//
// Embeddings are stored one record per id and enumerated in lexicographic id order so
// that rebuilding an index from a backend assigns the same slots every time. The metadata
// table is a single record, rewritten in full on every save, that preserves insertion order.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/bottlematch/internal/models"
)

var (
	// ErrNotFound is returned when an embedding does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidID is returned when an id cannot be used as a storage key.
	ErrInvalidID = errors.New("storage: invalid id")
)

// Backend defines embedding and metadata persistence operations.
type Backend interface {
	// LoadMetadata returns the metadata table in insertion order.
	// A backend with no metadata yet returns an empty table, not an error.
	LoadMetadata(ctx context.Context) ([]models.Bottle, error)
	// SaveMetadata replaces the whole metadata table.
	SaveMetadata(ctx context.Context, bottles []models.Bottle) error

	// ListEmbeddingIDs returns every id with a stored embedding, sorted lexicographically.
	ListEmbeddingIDs(ctx context.Context) ([]string, error)
	LoadEmbedding(ctx context.Context, id string) ([]float32, error)
	SaveEmbedding(ctx context.Context, id string, vec []float32) error
	// DeleteEmbedding removes an embedding; deleting a missing id is not an error.
	DeleteEmbedding(ctx context.Context, id string) error

	// Type returns the backend identifier ("disk", "sqlite", "badger").
	Type() string
	Close() error
}

// ValidateID rejects ids that cannot be used as a file name. A leading dot is refused
// too: the disk backend treats dot files as temporaries and never lists them.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator or NUL", ErrInvalidID, id)
	}
	return nil
}
