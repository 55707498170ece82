package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/engramd/engram/internal/engine"
	"github.com/engramd/engram/internal/ledger"
)

type ingestRequest struct {
	ID            string            `json:"id,omitempty"`
	Text          string            `json:"text"`
	RelevanceHint float64           `json:"relevance_hint,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// handleIngest durably stores the fragment in the ledger first, then feeds
// the derived indexes. The engine can always be rebuilt from the ledger, so
// the write order matters: record-of-truth before index.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.ID == "" {
		req.ID = ledger.NewID()
	}

	frag := engine.Fragment{
		ID:            req.ID,
		Text:          req.Text,
		RelevanceHint: req.RelevanceHint,
		Metadata:      req.Metadata,
	}

	ctx := r.Context()
	if err := s.ledger.SaveFragment(ctx, frag); err != nil {
		s.logger.Error("ledger save", "request_id", requestIDFrom(ctx), "error", err)
		writeError(w, http.StatusInternalServerError, "ledger write failed")
		return
	}
	if err := s.engine.Ingest(ctx, frag); err != nil {
		s.logger.Error("ingest", "request_id", requestIDFrom(ctx), "fragment_id", frag.ID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": frag.ID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	semanticOnly := r.URL.Query().Get("semantic_only") == "true"

	resp, err := s.engine.Search(r.Context(), q, limit, semanticOnly)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.logger.Info("search",
		"request_id", requestIDFrom(r.Context()),
		"results", len(resp.Results),
		"degraded", resp.Degraded,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunConsolidationPass(r.Context())
	if err != nil {
		s.logger.Error("consolidation", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("consolidation pass",
		"request_id", requestIDFrom(r.Context()),
		"merged", report.Merged,
		"archived", report.Archived,
	)
	writeJSON(w, http.StatusOK, report)
}

type snapshotRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.engine.PersistSnapshot(req.Path); err != nil {
		// In-memory state is still valid; this is a persistence failure only.
		s.logger.Error("snapshot persist", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
