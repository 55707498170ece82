package ledger

import (
	"context"
	"testing"

	"github.com/engramd/engram/internal/engine"
)

func TestEmbeddingRoundtrip(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if err := l.SaveFragment(ctx, engine.Fragment{ID: "frag", Text: "text"}); err != nil {
		t.Fatalf("SaveFragment: %v", err)
	}

	vec := []float32{0.25, -1.5, 3.125, 0}
	if err := l.SaveEmbedding(ctx, "frag", vec, "test-model"); err != nil {
		t.Fatalf("SaveEmbedding: %v", err)
	}

	got, model, err := l.GetEmbedding(ctx, "frag")
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if model != "test-model" {
		t.Errorf("model = %q", model)
	}
	if len(got) != len(vec) {
		t.Fatalf("got %d floats, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestSaveEmbeddingReplaces(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if err := l.SaveFragment(ctx, engine.Fragment{ID: "frag", Text: "text"}); err != nil {
		t.Fatalf("SaveFragment: %v", err)
	}
	if err := l.SaveEmbedding(ctx, "frag", []float32{1, 2}, "m1"); err != nil {
		t.Fatalf("SaveEmbedding: %v", err)
	}
	if err := l.SaveEmbedding(ctx, "frag", []float32{3, 4, 5}, "m2"); err != nil {
		t.Fatalf("SaveEmbedding replace: %v", err)
	}

	got, model, err := l.GetEmbedding(ctx, "frag")
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if model != "m2" || len(got) != 3 || got[0] != 3 {
		t.Errorf("got %v (%s), want replacement vector from m2", got, model)
	}
}

func TestGetEmbeddingAbsent(t *testing.T) {
	l := testLedger(t)
	vec, model, err := l.GetEmbedding(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if vec != nil || model != "" {
		t.Errorf("got %v (%s) for absent id", vec, model)
	}
}
