// Package vector provides exact inner-product indexes addressed by slot.
//
// An Index stores vectors positionally: the n-th vector added lives at slot n-1 and
// slots are never reused or left empty. Callers keep their own slot<->id mapping.
package vector

// Index is an exact (brute-force) inner-product index over fixed-dimension vectors.
type Index interface {
	// Add appends vec and returns the slot it was stored at.
	Add(vec []float32) (int, error)
	// Search returns up to k hits ordered by score descending, ties by ascending slot.
	Search(query []float32, k int) ([]Hit, error)
	// Vector returns a copy of the vector stored at slot.
	Vector(slot int) ([]float32, error)
	// Reset removes every vector; the next Add returns slot 0.
	Reset() error
	Size() int
	Dimensions() int
	Close() error
	Type() string
}

// Hit is a single search result: the slot of the stored vector and its inner product
// with the query (cosine similarity when both are unit length).
type Hit struct {
	Slot  int
	Score float64
}
