// Package engine implements the hybrid retrieval and decay core: an HNSW
// vector index and a BM25 lexical index behind one ingest/search surface,
// with time/usage decay re-ranking and background consolidation.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/engramd/engram/internal/lexical"
	"github.com/engramd/engram/internal/vector"
)

// Config holds the engine's tunables. Zero values fall back to the defaults
// the original deployment shipped with; none of them are hard-coded truths.
type Config struct {
	Dim            int
	Vector         vector.Config
	Lexical        lexical.Config
	SemanticWeight float64       // fusion weight for the vector leg (default 0.6)
	LexicalWeight  float64       // fusion weight for the lexical leg (default 0.4)
	Oversample     int           // candidate multiplier per leg (default 3)
	EmbedTimeout   time.Duration // bound on embedding capability calls (default 30s)
	Decay          DecayConfig
}

func (c Config) withDefaults() Config {
	if c.SemanticWeight <= 0 && c.LexicalWeight <= 0 {
		c.SemanticWeight = 0.6
		c.LexicalWeight = 0.4
	}
	if c.Oversample <= 0 {
		c.Oversample = 3
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 30 * time.Second
	}
	c.Vector.Dim = c.Dim
	c.Decay = c.Decay.withDefaults()
	return c
}

// Engine owns both indexes and the fragment bookkeeping. One instance is
// constructed at service startup and passed by handle to request handlers;
// there is no ambient global.
//
// Locking: mu serializes writers and lets queries run fully in parallel. A
// fragment becomes visible only after both index inserts succeed inside one
// write section, so a reader never observes it in one index but not the
// other. Embedding calls never happen under mu.
type Engine struct {
	cfg      Config
	vec      *vector.Index
	lex      *lexical.Index
	embedder Embedder
	recorder Recorder
	logger   *slog.Logger

	mu        sync.RWMutex
	fragments map[string]*fragmentState
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEmbedder wires the external embedding capability. Without one the
// engine runs permanently in lexical-only mode.
func WithEmbedder(emb Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithRecorder wires write-through of touches and archivals to the ledger.
func WithRecorder(rec Recorder) Option {
	return func(e *Engine) { e.recorder = rec }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine with empty indexes.
func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		vec:       vector.New(cfg.Vector),
		lex:       lexical.New(cfg.Lexical),
		logger:    slog.Default(),
		fragments: make(map[string]*fragmentState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats reports current occupancy of the engine and its indexes.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{
		VectorIndexed:  e.vec.Len(),
		LexicalIndexed: e.lex.Len(),
	}
	for _, st := range e.fragments {
		if st.archived {
			s.ArchivedFragments++
		} else {
			s.ActiveFragments++
		}
	}
	return s
}

// Ingest adds a fragment to both indexes. The ledger has already stored the
// record durably; the engine is a derived index.
//
// If the fragment carries no embedding and the capability is available, one
// is generated under the configured timeout before any lock is taken. If
// generation fails the fragment is indexed lexically and left for
// EmbedMissing to backfill — never substituted with a zero vector.
func (e *Engine) Ingest(ctx context.Context, frag Fragment) error {
	if frag.ID == "" {
		return errors.Wrap(ErrInvalidArgument, "fragment id is empty")
	}
	if frag.Embedding != nil && len(frag.Embedding) != e.cfg.Dim {
		return errors.Wrapf(ErrDimensionMismatch, "fragment %s: got %d, want %d", frag.ID, len(frag.Embedding), e.cfg.Dim)
	}

	now := time.Now()
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = now
	}
	if frag.RelevanceHint <= 0 {
		frag.RelevanceHint = 1.0
	} else if frag.RelevanceHint > 1 {
		frag.RelevanceHint = 1.0
	}

	if frag.Embedding == nil && e.embedder != nil {
		vec, err := e.embed(ctx, frag.Text)
		if err != nil {
			e.logger.Warn("embedding failed at ingest, indexing lexical-only",
				"fragment_id", frag.ID, "error", err)
		} else {
			frag.Embedding = vec
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.fragments[frag.ID]; ok && !st.archived {
		return errors.Wrap(ErrDuplicateID, frag.ID)
	}

	e.lex.Index(frag.ID, frag.Text)
	if frag.Embedding != nil {
		if err := e.vec.Insert(frag.ID, frag.Embedding); err != nil {
			// Roll the lexical half back before anything becomes visible.
			e.lex.Remove(frag.ID)
			switch {
			case errors.Is(err, vector.ErrDuplicateID):
				return errors.Wrap(ErrDuplicateID, frag.ID)
			case errors.Is(err, vector.ErrDimensionMismatch):
				return errors.Wrap(ErrDimensionMismatch, frag.ID)
			default:
				return errors.Wrapf(err, "vector insert %s", frag.ID)
			}
		}
	}
	e.fragments[frag.ID] = &fragmentState{frag: frag}
	return nil
}

// EmbedMissing generates vectors for fragments that were ingested while the
// embedding capability was unavailable. Returns the number backfilled.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	if e.embedder == nil {
		return 0, nil
	}

	e.mu.RLock()
	var pending []Fragment
	for _, st := range e.fragments {
		if !st.archived && st.frag.Embedding == nil && st.frag.Text != "" {
			pending = append(pending, st.frag)
		}
	}
	e.mu.RUnlock()

	embedded := 0
	for _, frag := range pending {
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		vec, err := e.embed(ctx, frag.Text)
		if err != nil {
			e.logger.Warn("embed missing", "fragment_id", frag.ID, "error", err)
			continue
		}

		e.mu.Lock()
		st, ok := e.fragments[frag.ID]
		if !ok || st.archived || st.frag.Embedding != nil {
			e.mu.Unlock()
			continue
		}
		if err := e.vec.Insert(frag.ID, vec); err != nil {
			e.mu.Unlock()
			e.logger.Warn("embed missing: vector insert", "fragment_id", frag.ID, "error", err)
			continue
		}
		st.frag.Embedding = vec
		e.mu.Unlock()
		embedded++
	}
	return embedded, nil
}

// FragmentSource yields fragment records for Rebuild, typically backed by the
// ledger's active-fragment listing.
type FragmentSource interface {
	Next(ctx context.Context) (*Fragment, error) // nil, nil at end
}

// Rebuild replays fragments from the record-of-truth into the indexes, used
// when no usable snapshot exists. Duplicate ids in the source are a ledger
// bug and propagate as errors.
func (e *Engine) Rebuild(ctx context.Context, src FragmentSource) (int, error) {
	n := 0
	for {
		frag, err := src.Next(ctx)
		if err != nil {
			return n, errors.Wrap(err, "read fragment source")
		}
		if frag == nil {
			return n, nil
		}
		if err := e.Ingest(ctx, *frag); err != nil {
			return n, errors.Wrapf(err, "rebuild %s", frag.ID)
		}
		n++
	}
}

// embed calls the capability with the configured timeout. Callers must not
// hold mu: this is the only operation expected to suspend for real time.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, errors.WithStack(ErrEmbeddingUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, err.Error())
	}
	if len(vec) != e.cfg.Dim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "embedder returned %d, want %d", len(vec), e.cfg.Dim)
	}
	return vec, nil
}

// touchReturned bumps access counters for fragments actually returned to the
// caller, and forwards them to the recorder best-effort. Candidates that were
// considered but not returned are not touched; that asymmetry is what makes
// decay usage-aware.
func (e *Engine) touchReturned(ctx context.Context, ids []string) {
	now := time.Now()

	type touched struct {
		id    string
		count int
	}
	var notify []touched

	e.mu.Lock()
	for _, id := range ids {
		st, ok := e.fragments[id]
		if !ok || st.archived {
			continue
		}
		st.frag.AccessCount++
		st.frag.LastAccessedAt = now
		notify = append(notify, touched{id: id, count: st.frag.AccessCount})
	}
	e.mu.Unlock()

	if e.recorder == nil {
		return
	}
	for _, t := range notify {
		if err := e.recorder.TouchFragment(ctx, t.id, now, t.count); err != nil {
			e.logger.Warn("touch write-through", "fragment_id", t.id, "error", err)
		}
	}
}
