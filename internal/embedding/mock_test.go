package embedding

import (
	"context"
	"image/color"
	"math"
	"testing"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a1, _ := e.EmbedImage(ctx, []byte("bottle-a"))
	a2, _ := e.EmbedImage(ctx, []byte("bottle-a"))
	b, _ := e.EmbedImage(ctx, []byte("bottle-b"))
	if len(a1) != 16 {
		t.Fatalf("len = %d", len(a1))
	}
	same := true
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("same bytes produced different embeddings")
		}
		if a1[i] != b[i] {
			same = false
		}
	}
	if same {
		t.Error("different bytes produced identical embeddings")
	}
	var sum float64
	for _, v := range a1 {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1) > 1e-5 {
		t.Errorf("norm = %f", math.Sqrt(sum))
	}
}

func TestMockEmbedder_Decode(t *testing.T) {
	e := NewMockEmbedder(4)
	e.Decode = true
	if _, err := e.EmbedImage(context.Background(), []byte("nope")); err == nil {
		t.Error("expected decode error")
	}
	data := encodePNG(t, solidImage(3, 3, color.White))
	if _, err := e.EmbedImage(context.Background(), data); err != nil {
		t.Error(err)
	}
}

func TestContentKey(t *testing.T) {
	if ContentKey([]byte("a")) == ContentKey([]byte("b")) {
		t.Error("keys collide")
	}
	if len(ContentKey(nil)) != 64 {
		t.Error("expected hex sha256")
	}
}
