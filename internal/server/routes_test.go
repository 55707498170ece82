package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/engramd/engram/internal/engine"
	"github.com/engramd/engram/internal/ledger"
	"github.com/engramd/engram/internal/vector"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	led, err := ledger.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	eng := engine.New(engine.Config{Dim: 2, Vector: vector.Config{Seed: 7}},
		engine.WithRecorder(led),
		engine.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))),
	)
	return New(eng, led, nil, "test")
}

func postJSON(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["db"] != true {
		t.Errorf("db = %v, want true", resp["db"])
	}
}

func TestIngestFragment(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/fragments", `{"text":"remember this fact"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["id"] == "" {
		t.Error("no id in response")
	}
	if len(resp["id"]) != 26 {
		t.Errorf("id %q is not a ulid", resp["id"])
	}
}

func TestIngestFragmentExplicitID(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/fragments", `{"id":"custom-id","text":"pinned id"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["id"] != "custom-id" {
		t.Errorf("id = %q, want custom-id", resp["id"])
	}

	// Same id again conflicts at the ledger.
	w = postJSON(t, srv, "/api/fragments", `{"id":"custom-id","text":"again"}`)
	if w.Code == http.StatusCreated {
		t.Error("duplicate id accepted")
	}
}

func TestIngestFragmentValidation(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/fragments", `{"text":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = postJSON(t, srv, "/api/fragments", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/fragments", `{"text":"the sqlite wal checkpoint story"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d; body: %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/search?q=sqlite+checkpoint&limit=5", nil)
	w2 := httptest.NewRecorder()
	srv.ServeHTTP(w2, req)

	if w2.Code != http.StatusOK {
		t.Fatalf("search status = %d; body: %s", w2.Code, w2.Body.String())
	}
	var resp engine.SearchResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	if resp.Results[0].Text != "the sqlite wal checkpoint story" {
		t.Errorf("text = %q", resp.Results[0].Text)
	}
	// No embedder wired: the engine must report the degraded path honestly.
	if !resp.Degraded {
		t.Error("degraded flag not set without an embedder")
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/search?q=", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	req = httptest.NewRequest("GET", "/api/search?q=x&limit=abc", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestConsolidateEndpoint(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/consolidate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var report engine.ConsolidationReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Merged != 0 || report.Archived != 0 {
		t.Errorf("report = %+v, want empty on a fresh engine", report)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := testServer(t)
	path := filepath.Join(t.TempDir(), "api.snap")

	w := postJSON(t, srv, "/api/snapshot", `{"path":"`+path+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file not written: %v", err)
	}

	w = postJSON(t, srv, "/api/snapshot", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") == "" {
		t.Error("no X-Request-Id header")
	}
}
