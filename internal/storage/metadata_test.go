package storage

import (
	"strings"
	"testing"

	"github.com/hyperjump/bottlematch/internal/models"
)

func TestDecodeMetadata_KeepsDocumentOrder(t *testing.T) {
	doc := `{
  "macallan_12": {"name": "Macallan 12", "image_url": null},
  "ardbeg_10": {"name": "Ardbeg 10", "image_url": "https://example.com/a.jpg"},
  "bowmore": {"name": "Bowmore"}
}`
	got, err := DecodeMetadata([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"macallan_12", "ardbeg_10", "bowmore"}
	if len(got) != len(want) {
		t.Fatalf("got %d bottles, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
	if got[0].ImageURL != "" {
		t.Errorf("null image_url should decode empty, got %q", got[0].ImageURL)
	}
	if got[1].ImageURL != "https://example.com/a.jpg" {
		t.Errorf("image_url: got %q", got[1].ImageURL)
	}
}

func TestDecodeMetadata_DuplicateKeyLastValueWins(t *testing.T) {
	got, err := DecodeMetadata([]byte(`{"a":{"name":"one"},"b":{"name":"two"},"a":{"name":"three"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[0].Name != "three" || got[1].ID != "b" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeMetadata_Errors(t *testing.T) {
	for _, doc := range []string{`[1,2]`, `{"a": "name"}`, `{`} {
		if _, err := DecodeMetadata([]byte(doc)); err == nil {
			t.Errorf("expected error for %s", doc)
		}
	}
	got, err := DecodeMetadata([]byte("  \n"))
	if err != nil || got != nil {
		t.Errorf("blank document: got %v, %v", got, err)
	}
}

func TestEncodeMetadata_RoundTripsOrder(t *testing.T) {
	in := []models.Bottle{
		{ID: "z", Name: "Zed", ImageURL: "u"},
		{ID: "a", Name: "Ay"},
	}
	data, err := EncodeMetadata(in)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(string(data), `"z"`) > strings.Index(string(data), `"a"`) {
		t.Errorf("encoded key order not preserved:\n%s", data)
	}
	if !strings.Contains(string(data), `"image_url": null`) {
		t.Errorf("empty image_url should encode as null:\n%s", data)
	}
	out, err := DecodeMetadata(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("got %+v", out)
	}
}

func TestEmbeddingBlob(t *testing.T) {
	vec := []float32{1.5, -2, 0}
	got, err := DecodeEmbedding(EncodeEmbedding(vec))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 1.5 || got[1] != -2 {
		t.Errorf("got %v", got)
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for odd-length blob")
	}
}
