package embedding

import (
	"context"
	"testing"
	"time"
)

// countingEmbedder records how many texts reached the backend.
type countingEmbedder struct {
	calls int
	texts int
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int    { return 2 }
func (c *countingEmbedder) ModelName() string { return "counting" }

func TestCachedEmbedderAvoidsRepeatCalls(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10, time.Minute)

	first, err := cached.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.texts != 2 {
		t.Fatalf("expected 2 backend texts, got %d", inner.texts)
	}

	second, err := cached.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.texts != 2 {
		t.Errorf("repeat embed should be fully cached, backend saw %d texts", inner.texts)
	}
	for i := range first {
		if first[i][0] != second[i][0] {
			t.Error("cached vector differs from original")
		}
	}
}

func TestCachedEmbedderPartialMiss(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10, time.Minute)

	if _, err := cached.Embed(context.Background(), []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	out, err := cached.Embed(context.Background(), []string{"alpha", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(out))
	}
	if inner.texts != 2 {
		t.Errorf("only the miss should reach the backend, saw %d texts", inner.texts)
	}
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 2, time.Minute)

	ctx := context.Background()
	cached.Embed(ctx, []string{"one"})
	cached.Embed(ctx, []string{"two"})
	cached.Embed(ctx, []string{"three"}) // evicts "one"
	inner.texts = 0

	cached.Embed(ctx, []string{"one"})
	if inner.texts != 1 {
		t.Errorf("evicted entry should miss, backend saw %d texts", inner.texts)
	}
}
