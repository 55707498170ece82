package vector

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func testIndex(t *testing.T, dim int) *Index {
	t.Helper()
	return New(Config{Dim: dim, Seed: 42})
}

// axisVec returns a unit vector along the given axis.
func axisVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestInsertAndSelfRetrieval(t *testing.T) {
	ix := testIndex(t, 4)

	ids := []string{"a", "b", "c", "d"}
	for i, id := range ids {
		if err := ix.Insert(id, axisVec(4, i)); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}
	if ix.Len() != 4 {
		t.Fatalf("Len = %d, want 4", ix.Len())
	}

	for i, id := range ids {
		hits, err := ix.Search(axisVec(4, i), 1, 50)
		if err != nil {
			t.Fatalf("Search %s: %v", id, err)
		}
		if len(hits) != 1 {
			t.Fatalf("Search %s: got %d hits, want 1", id, len(hits))
		}
		if hits[0].ID != id {
			t.Errorf("Search %s: top hit %s", id, hits[0].ID)
		}
		if math.Abs(hits[0].Similarity-1.0) > 1e-6 {
			t.Errorf("Search %s: similarity %f, want 1.0", id, hits[0].Similarity)
		}
	}
}

func TestSearchOrdering(t *testing.T) {
	ix := testIndex(t, 2)

	// Three points at known angles from the query (1, 0).
	vecs := map[string][]float32{
		"near":    {0.99, 0.14},
		"mid":     {0.7, 0.7},
		"far":     {0.1, 0.99},
		"against": {-1, 0},
	}
	for id, v := range vecs {
		if err := ix.Insert(id, v); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	hits, err := ix.Search([]float32{1, 0}, 4, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("got %d hits, want 4", len(hits))
	}
	want := []string{"near", "mid", "far", "against"}
	for i, w := range want {
		if hits[i].ID != w {
			t.Errorf("hit %d = %s, want %s", i, hits[i].ID, w)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Errorf("similarities not descending at %d: %f > %f",
				i, hits[i].Similarity, hits[i-1].Similarity)
		}
	}
}

func TestInsertDuplicateID(t *testing.T) {
	ix := testIndex(t, 2)
	if err := ix.Insert("a", []float32{1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := ix.Insert("a", []float32{0, 1})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate insert error = %v, want ErrDuplicateID", err)
	}
}

func TestDimensionMismatch(t *testing.T) {
	ix := testIndex(t, 3)
	if err := ix.Insert("a", []float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Insert wrong dim error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := ix.Search([]float32{1, 0}, 1, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search wrong dim error = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := testIndex(t, 2)
	hits, err := ix.Search([]float32{1, 0}, 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from empty index", len(hits))
	}
}

func TestRemove(t *testing.T) {
	ix := testIndex(t, 4)
	for i := 0; i < 4; i++ {
		if err := ix.Insert(fmt.Sprintf("n%d", i), axisVec(4, i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := ix.Remove("n1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ix.Len() != 3 {
		t.Errorf("Len = %d after remove, want 3", ix.Len())
	}
	if ix.Contains("n1") {
		t.Error("Contains(n1) true after remove")
	}

	hits, err := ix.Search(axisVec(4, 1), 3, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.ID == "n1" {
			t.Error("removed id returned from search")
		}
	}

	if err := ix.Remove("n1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double remove error = %v, want ErrNotFound", err)
	}
}

// Removing a hub node must leave the rest of the graph reachable.
func TestRemoveKeepsGraphConnected(t *testing.T) {
	ix := New(Config{Dim: 8, M: 4, Seed: 7})
	rng := rand.New(rand.NewSource(99))

	n := 40
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecs[i] = v
		if err := ix.Insert(fmt.Sprintf("n%d", i), v); err != nil {
			t.Fatalf("Insert n%d: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		if err := ix.Remove(fmt.Sprintf("n%d", i)); err != nil {
			t.Fatalf("Remove n%d: %v", i, err)
		}
	}

	// Every survivor should still find itself with a wide beam.
	for i := 10; i < n; i++ {
		id := fmt.Sprintf("n%d", i)
		hits, err := ix.Search(vecs[i], 1, n)
		if err != nil {
			t.Fatalf("Search %s: %v", id, err)
		}
		if len(hits) == 0 || hits[0].ID != id {
			t.Errorf("self-retrieval failed for %s after removals: %+v", id, hits)
		}
	}
}

func TestReinsertAfterRemove(t *testing.T) {
	ix := testIndex(t, 2)
	if err := ix.Insert("a", []float32{1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := ix.Insert("a", []float32{0, 1}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	hits, err := ix.Search([]float32{0, 1}, 1, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("expected reinserted vector, got %+v", hits)
	}
	if math.Abs(hits[0].Similarity-1.0) > 1e-6 {
		t.Errorf("similarity %f, want 1.0 for replaced vector", hits[0].Similarity)
	}
}

func TestZeroVectorMatchesNothing(t *testing.T) {
	ix := testIndex(t, 2)
	if err := ix.Insert("zero", []float32{0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Insert("unit", []float32{1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	hits, err := ix.Search([]float32{1, 0}, 2, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].ID != "unit" {
		t.Errorf("top hit %s, want unit", hits[0].ID)
	}
}

func TestRecallOnClusteredData(t *testing.T) {
	ix := New(Config{Dim: 8, Seed: 3})
	rng := rand.New(rand.NewSource(5))

	// Two well-separated clusters.
	for i := 0; i < 20; i++ {
		a := make([]float32, 8)
		b := make([]float32, 8)
		for j := 0; j < 4; j++ {
			a[j] = 1 + rng.Float32()*0.1
			b[j+4] = 1 + rng.Float32()*0.1
		}
		if err := ix.Insert(fmt.Sprintf("a%d", i), a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := ix.Insert(fmt.Sprintf("b%d", i), b); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	probe := []float32{1, 1, 1, 1, 0, 0, 0, 0}
	hits, err := ix.Search(probe, 20, 80)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 20 {
		t.Fatalf("got %d hits, want 20", len(hits))
	}
	for _, h := range hits {
		if h.ID[0] != 'a' {
			t.Errorf("cluster-b id %s ranked in top 20 for cluster-a probe", h.ID)
		}
	}
}
