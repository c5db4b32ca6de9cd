package models

// ListingConfidence is the confidence reported for entries returned by a full listing
// rather than a similarity search.
const ListingConfidence = 1.0

// BottleMatch is a single identification hit.
// Confidence is (cosine+1)/2 clamped to [0,1]: a linear rescaling of the similarity,
// not a calibrated probability.
type BottleMatch struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	ImageURL   string  `json:"image_url,omitempty"`
}

// IdentifyResponse is the response for an identification or embedding search request.
type IdentifyResponse struct {
	Matches          []BottleMatch `json:"matches"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
}
