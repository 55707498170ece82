// Package server exposes the retrieval engine over a thin HTTP surface. The
// engine's behavioral contract lives in internal/engine; this is just the
// hosting harness.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/engramd/engram/internal/engine"
	"github.com/engramd/engram/internal/ledger"
)

// Server is the engram HTTP API server.
type Server struct {
	engine  *engine.Engine
	ledger  *ledger.Ledger
	logger  *slog.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server around an engine and its ledger.
func New(eng *engine.Engine, led *ledger.Ledger, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  eng,
		ledger:  led,
		logger:  logger,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/fragments", s.handleIngest)
		r.Get("/search", s.handleSearch)
		r.Post("/consolidate", s.handleConsolidate)
		r.Post("/snapshot", s.handleSnapshot)
	})

	s.router = r
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// requestID tags every request for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.ledger.Ping(); err != nil {
		dbOK = false
	}
	stats := s.engine.Stats()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.ledger.Path,
		"stats":   stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
