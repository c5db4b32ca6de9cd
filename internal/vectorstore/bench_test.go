package vectorstore

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
)

func benchStore(b *testing.B, n, dim int) *Store {
	b.Helper()
	s, err := New(dim)
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	ctx := context.Background()
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		if _, err := s.AddEntry(ctx, fmt.Sprintf("bottle_%05d", i), vec, fmt.Sprintf("Bottle %d", i), "", false); err != nil {
			b.Fatal(err)
		}
	}
	return s
}

func BenchmarkStore_Search1k(b *testing.B) {
	s := benchStore(b, 1000, 512)
	query := make([]float32, 512)
	query[0] = 1
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Search(query, 3)
	}
}

func BenchmarkStore_AddEntry(b *testing.B) {
	s, _ := New(512)
	vec := make([]float32, 512)
	vec[0] = 1
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.AddEntry(ctx, fmt.Sprintf("b%d", i), vec, "B", "", false)
	}
}
