package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/embedding"
	"github.com/hyperjump/bottlematch/internal/keyword"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
)

func newTestEngine(t *testing.T, withNames bool) (*Engine, *vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.New(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var names *keyword.NameIndex
	if withNames {
		names, err = keyword.NewNameIndex()
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = names.Close() })
	}

	ctx := context.Background()
	bottles := []struct {
		id, name string
		vec      []float32
	}{
		{"lagavulin_16", "Lagavulin 16", []float32{1, 0, 0, 0}},
		{"laphroaig_10", "Laphroaig 10", []float32{0, 1, 0, 0}},
		{"talisker_storm", "Talisker Storm", []float32{0, 0, 1, 0}},
		{"oban_14", "Oban 14", []float32{0, 0, 0, 1}},
	}
	for _, b := range bottles {
		if _, err := store.AddEntry(ctx, b.id, b.vec, b.name, "", false); err != nil {
			t.Fatal(err)
		}
		if names != nil {
			_ = names.Index(ctx, b.id, b.name)
		}
	}
	cfg := &config.SearchConfig{DefaultTopK: 3, MaxTopK: 10}
	return NewEngine(store, embedding.NewMockEmbedder(4), names, cfg), store
}

func TestEngine_SearchEmbedding(t *testing.T) {
	e, _ := newTestEngine(t, true)
	ctx := context.Background()

	resp, err := e.SearchEmbedding(ctx, []float32{0.9, 0.1, 0, 0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 3 {
		t.Fatalf("default top_k: got %d matches, want 3", len(resp.Matches))
	}
	if resp.Matches[0].ID != "lagavulin_16" || resp.Matches[1].ID != "laphroaig_10" {
		t.Errorf("order: %v", resp.Matches)
	}
	if math.Abs(resp.Matches[0].Confidence-0.997) > 0.001 {
		t.Errorf("confidence = %f", resp.Matches[0].Confidence)
	}
	if resp.ProcessingTimeMs < 0 {
		t.Errorf("processing time = %f", resp.ProcessingTimeMs)
	}

	resp, _ = e.SearchEmbedding(ctx, []float32{1, 1, 1, 1}, 50)
	if len(resp.Matches) != 4 {
		t.Errorf("top_k above store size: got %d", len(resp.Matches))
	}

	if _, err := e.SearchEmbedding(ctx, []float32{1, 0}, 3); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("got %v", err)
	}
}

func TestEngine_Identify(t *testing.T) {
	e, _ := newTestEngine(t, false)
	resp, err := e.Identify(context.Background(), []byte("some image bytes"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 2 {
		t.Errorf("got %d matches", len(resp.Matches))
	}
	for _, m := range resp.Matches {
		if m.Confidence < 0 || m.Confidence > 1 {
			t.Errorf("confidence out of range: %f", m.Confidence)
		}
	}
}

func TestEngine_ListBottles(t *testing.T) {
	for _, withNames := range []bool{true, false} {
		e, _ := newTestEngine(t, withNames)
		ctx := context.Background()

		all, _, err := e.ListBottles(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 4 || all[0].ID != "lagavulin_16" || all[0].Confidence != 1.0 {
			t.Errorf("names=%v list all: %v", withNames, all)
		}

		got, _, err := e.ListBottles(ctx, "talisker")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "talisker_storm" {
			t.Errorf("names=%v talisker: %v", withNames, got)
		}
	}
}

func TestEngine_ListBottles_FuzzyAndSuggestion(t *testing.T) {
	e, _ := newTestEngine(t, true)
	ctx := context.Background()

	got, _, err := e.ListBottles(ctx, "lagavulim")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "lagavulin_16" {
		t.Errorf("fuzzy: %v", got)
	}

	got, suggestion, err := e.ListBottles(ctx, "talsikerr")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no matches beyond fuzziness 1, got %v", got)
	}
	if suggestion != "talisker" {
		t.Errorf("suggestion = %q, want talisker", suggestion)
	}
}

func TestClampTopK(t *testing.T) {
	cfg := &config.SearchConfig{DefaultTopK: 3, MaxTopK: 10}
	tests := []struct{ in, want int }{
		{0, 3}, {-2, 3}, {1, 1}, {10, 10}, {11, 10},
	}
	for _, tt := range tests {
		if got := ClampTopK(tt.in, cfg); got != tt.want {
			t.Errorf("ClampTopK(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if got := ClampTopK(500, &config.SearchConfig{DefaultTopK: 3}); got != 500 {
		t.Errorf("no max: got %d", got)
	}
}
