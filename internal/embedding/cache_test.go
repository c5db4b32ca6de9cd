package embedding

import (
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Get("a")               // a is now most recent
	c.Set("c", []float32{6}) // evicts b
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestEmbeddingCache_ReturnsCopies(t *testing.T) {
	c := NewEmbeddingCache(1)
	src := []float32{1, 2}
	c.Set("k", src)
	src[0] = 99
	got, _ := c.Get("k")
	got[1] = 42
	again, _ := c.Get("k")
	if again[0] != 1 || again[1] != 2 {
		t.Errorf("cache aliased caller slices: %v", again)
	}
}

func TestEmbeddingCache_Disabled(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("k", []float32{1})
	if _, ok := c.Get("k"); ok {
		t.Error("zero capacity should not cache")
	}
}
