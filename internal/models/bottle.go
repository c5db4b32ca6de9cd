// Package models defines core data structures for bottles, requests, and match results.
package models

// Bottle is the metadata kept for a stored embedding: a display name and an optional
// reference to a catalog image. An empty ImageURL means "no image".
type Bottle struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// BottleInput is the input for adding (or replacing) a bottle.
// Exactly one of Embedding and Image must be set; Image is base64-encoded image bytes.
type BottleInput struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Image     string    `json:"image,omitempty"`
}
