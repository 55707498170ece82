package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/engramd/engram/internal/vector"
)

func TestSnapshotRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.snap")

	e := testEngine(t, 2)
	mustIngest(t, e, Fragment{
		ID: "a", Text: "persisted fragment one", Embedding: []float32{1, 0},
		Metadata: map[string]string{"source": "test"},
	})
	mustIngest(t, e, Fragment{ID: "b", Text: "persisted fragment two", Embedding: []float32{0, 1}})
	mustIngest(t, e, Fragment{ID: "c", Text: "lexical only fragment"})

	// Touch "a" so its counters survive the roundtrip.
	if _, err := e.Search(context.Background(), "one", 1, false); err != nil {
		t.Fatalf("Search: %v", err)
	}

	if err := e.PersistSnapshot(path); err != nil {
		t.Fatalf("PersistSnapshot: %v", err)
	}

	restored := testEngine(t, 2)
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	want := e.Stats()
	got := restored.Stats()
	if got != want {
		t.Errorf("stats after restore = %+v, want %+v", got, want)
	}

	resp, err := restored.Search(context.Background(), "persisted", 5, false)
	if err != nil {
		t.Fatalf("Search after restore: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results after restore, want 2", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.FragmentID == "a" && r.Metadata["source"] != "test" {
			t.Errorf("metadata lost in roundtrip: %+v", r.Metadata)
		}
	}
}

func TestSnapshotPreservesArchivedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.snap")

	e := New(Config{
		Dim:    2,
		Vector: vector.Config{Seed: 7},
		Decay:  DecayConfig{GracePeriod: time.Hour},
	})
	yearAgo := time.Now().Add(-365 * 24 * time.Hour)
	mustIngest(t, e, Fragment{
		ID: "stale", Text: "long forgotten", Embedding: []float32{1, 0},
		CreatedAt: yearAgo, LastAccessedAt: yearAgo,
	})
	mustIngest(t, e, Fragment{ID: "live", Text: "still in use", Embedding: []float32{0, 1}})

	if _, err := e.RunConsolidationPass(context.Background()); err != nil {
		t.Fatalf("RunConsolidationPass: %v", err)
	}
	if e.Stats().ArchivedFragments != 1 {
		t.Fatalf("setup: expected one archived fragment, stats %+v", e.Stats())
	}

	if err := e.PersistSnapshot(path); err != nil {
		t.Fatalf("PersistSnapshot: %v", err)
	}
	restored := testEngine(t, 2)
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	s := restored.Stats()
	if s.ActiveFragments != 1 || s.ArchivedFragments != 1 {
		t.Errorf("stats = %+v, want 1 active / 1 archived", s)
	}
	resp, err := restored.Search(context.Background(), "long forgotten", 5, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("archived fragment searchable after restore: %+v", resp.Results)
	}
}

func TestLoadSnapshotRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.snap")
	if err := os.WriteFile(path, []byte("not a snapshot at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := testEngine(t, 2)
	mustIngest(t, e, Fragment{ID: "keep", Text: "pre-existing", Embedding: []float32{1, 0}})

	err := e.LoadSnapshot(path)
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("LoadSnapshot error = %v, want ErrCorruptSnapshot", err)
	}

	// Failed load leaves the engine exactly as it was.
	s := e.Stats()
	if s.ActiveFragments != 1 || s.VectorIndexed != 1 {
		t.Errorf("engine mutated by failed load: %+v", s)
	}
	resp, err := e.Search(context.Background(), "pre-existing", 5, false)
	if err != nil || len(resp.Results) != 1 {
		t.Errorf("pre-existing fragment lost after failed load: %v, %+v", err, resp)
	}
}

func TestLoadSnapshotRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dim.snap")

	e2 := testEngine(t, 2)
	mustIngest(t, e2, Fragment{ID: "a", Text: "two dimensional", Embedding: []float32{1, 0}})
	if err := e2.PersistSnapshot(path); err != nil {
		t.Fatalf("PersistSnapshot: %v", err)
	}

	e3 := testEngine(t, 3)
	if err := e3.LoadSnapshot(path); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("LoadSnapshot error = %v, want ErrCorruptSnapshot", err)
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	e := testEngine(t, 2)
	err := e.LoadSnapshot(filepath.Join(t.TempDir(), "absent.snap"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("missing file reported as corrupt: %v", err)
	}
}

func TestPersistSnapshotAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.snap")

	e := testEngine(t, 2)
	mustIngest(t, e, Fragment{ID: "v1", Text: "first version", Embedding: []float32{1, 0}})
	if err := e.PersistSnapshot(path); err != nil {
		t.Fatalf("first PersistSnapshot: %v", err)
	}

	mustIngest(t, e, Fragment{ID: "v2", Text: "second version", Embedding: []float32{0, 1}})
	if err := e.PersistSnapshot(path); err != nil {
		t.Fatalf("second PersistSnapshot: %v", err)
	}

	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	restored := testEngine(t, 2)
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got := restored.Stats().ActiveFragments; got != 2 {
		t.Errorf("ActiveFragments = %d, want 2 from the newer snapshot", got)
	}
}
