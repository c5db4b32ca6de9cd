package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/tidwall/gjson"
)

// metadataRecord is the per-id value of the metadata document:
// {"<id>": {"name": "...", "image_url": "..." | null}, ...}
type metadataRecord struct {
	Name     string  `json:"name"`
	ImageURL *string `json:"image_url"`
}

// EncodeMetadata renders the metadata table as a JSON object whose key order follows
// the slice order. encoding/json sorts map keys, so the object is assembled by hand.
func EncodeMetadata(bottles []models.Bottle) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range bottles {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(b.ID)
		if err != nil {
			return nil, fmt.Errorf("marshal id %q: %w", b.ID, err)
		}
		rec := metadataRecord{Name: b.Name}
		if b.ImageURL != "" {
			url := b.ImageURL
			rec.ImageURL = &url
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata %q: %w", b.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("indent metadata: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// DecodeMetadata parses a metadata document, keeping the key order of the document.
// A repeated id keeps its first position and its last value.
func DecodeMetadata(data []byte) ([]models.Bottle, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("metadata is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("metadata must be a JSON object, got %s", doc.Type)
	}

	var (
		bottles []models.Bottle
		pos     = make(map[string]int)
		bad     error
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			bad = fmt.Errorf("metadata for %q must be an object", key.String())
			return false
		}
		b := models.Bottle{
			ID:       key.String(),
			Name:     value.Get("name").String(),
			ImageURL: value.Get("image_url").String(),
		}
		if i, ok := pos[b.ID]; ok {
			bottles[i] = b
			return true
		}
		pos[b.ID] = len(bottles)
		bottles = append(bottles, b)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return bottles, nil
}
