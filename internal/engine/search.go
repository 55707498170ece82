package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/engramd/engram/internal/lexical"
	"github.com/engramd/engram/internal/vector"
)

// candidate accumulates one fragment's scores across both legs before fusion.
type candidate struct {
	id           string
	semantic     float64
	lexical      float64
	hasSemantic  bool
	hasLexical   bool
	normSemantic float64
	normLexical  float64
	combined     float64
	decayed      float64
	final        float64
	lastAccess   time.Time
}

// Search is the single query entry point. It embeds the query (bounded by
// the configured timeout), fans out to both indexes, min-max normalizes each
// score list over its own candidate set, fuses with the configured weights,
// re-ranks by decay, and touches only the fragments it returns.
//
// When the embedding capability fails and semanticOnly is false, the query
// degrades to lexical-only ranking and the response is flagged Degraded
// instead of failing the call.
func (e *Engine) Search(ctx context.Context, query string, limit int, semanticOnly bool) (*SearchResponse, error) {
	if limit < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "limit %d", limit)
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "empty query")
	}

	degraded := false
	var queryVec []float32
	if qv, err := e.embed(ctx, query); err != nil {
		if semanticOnly {
			return nil, errors.Wrap(err, "semantic-only search")
		}
		degraded = true
		e.logger.Warn("embedding unavailable, degrading to lexical-only", "error", err)
	} else {
		queryVec = qv
	}

	oversample := limit * e.cfg.Oversample

	// Both legs run against one consistent view: the read lock spans the
	// fan-out, so an in-flight ingest is either fully visible or not at all.
	e.mu.RLock()
	var vecHits []vector.Hit
	var lexHits []lexical.Hit
	g, gctx := errgroup.WithContext(ctx)
	if queryVec != nil {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits, err := e.vec.Search(queryVec, oversample, 0)
			if err != nil {
				return errors.Wrap(err, "vector search")
			}
			vecHits = hits
			return nil
		})
	}
	if !semanticOnly {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lexHits = e.lex.Search(query, oversample)
			return nil
		})
	}
	err := g.Wait()
	var cands map[string]*candidate
	if err == nil {
		cands = e.gatherCandidates(vecHits, lexHits)
	}
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ranked := e.rank(cands, now)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]SearchResult, 0, len(ranked))
	ids := make([]string, 0, len(ranked))
	e.mu.RLock()
	for _, c := range ranked {
		st, ok := e.fragments[c.id]
		if !ok || st.archived {
			continue
		}
		results = append(results, SearchResult{
			FragmentID: c.id,
			Text:       st.frag.Text,
			Semantic:   c.semantic,
			Lexical:    c.lexical,
			Combined:   c.combined,
			Decayed:    c.final,
			Metadata:   st.frag.Metadata,
		})
		ids = append(ids, c.id)
	}
	e.mu.RUnlock()

	e.touchReturned(ctx, ids)
	return &SearchResponse{Results: results, Degraded: degraded}, nil
}

// gatherCandidates merges both hit lists into per-fragment candidates and
// snapshots the decay inputs. Caller holds the read lock.
func (e *Engine) gatherCandidates(vecHits []vector.Hit, lexHits []lexical.Hit) map[string]*candidate {
	cands := make(map[string]*candidate, len(vecHits)+len(lexHits))
	get := func(id string) *candidate {
		c, ok := cands[id]
		if !ok {
			c = &candidate{id: id}
			cands[id] = c
		}
		return c
	}
	for _, h := range vecHits {
		c := get(h.ID)
		c.semantic = h.Similarity
		c.hasSemantic = true
	}
	for _, h := range lexHits {
		c := get(h.ID)
		c.lexical = h.Score
		c.hasLexical = true
	}
	for id, c := range cands {
		st, ok := e.fragments[id]
		if !ok || st.archived {
			delete(cands, id)
			continue
		}
		c.lastAccess = st.frag.lastTouch()
		c.decayed = e.effectiveDecayLocked(&st.frag, time.Now())
	}
	return cands
}

// rank normalizes, fuses and decay-adjusts the candidate set, then orders it.
func (e *Engine) rank(cands map[string]*candidate, now time.Time) []*candidate {
	if len(cands) == 0 {
		return nil
	}

	normalizeSemantic(cands)
	normalizeLexical(cands)

	sw, lw := e.cfg.SemanticWeight, e.cfg.LexicalWeight
	dw := e.cfg.Decay.Weight
	for _, c := range cands {
		// Ids present in only one list keep that list's weighted score;
		// zero-filling the missing leg would unfairly bury single-leg hits.
		switch {
		case c.hasSemantic && c.hasLexical:
			c.combined = sw*c.normSemantic + lw*c.normLexical
		case c.hasSemantic:
			c.combined = sw * c.normSemantic
		default:
			c.combined = lw * c.normLexical
		}
		c.final = (1-dw)*c.combined + dw*c.decayed
	}

	ranked := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].final != ranked[j].final {
			return ranked[i].final > ranked[j].final
		}
		if !ranked[i].lastAccess.Equal(ranked[j].lastAccess) {
			return ranked[i].lastAccess.After(ranked[j].lastAccess)
		}
		return ranked[i].id < ranked[j].id
	})
	return ranked
}

// Min-max normalization runs over the candidate set actually returned, not a
// global constant, so the fusion weights stay meaningful as absolute score
// magnitudes drift with index growth. A degenerate set (all scores equal)
// normalizes to 1.0 rather than dropping a lone strong hit to zero.

func normalizeSemantic(cands map[string]*candidate) {
	lo, hi, any := scoreBounds(cands, func(c *candidate) (float64, bool) { return c.semantic, c.hasSemantic })
	if !any {
		return
	}
	for _, c := range cands {
		if !c.hasSemantic {
			continue
		}
		if hi > lo {
			c.normSemantic = (c.semantic - lo) / (hi - lo)
		} else {
			c.normSemantic = 1.0
		}
	}
}

func normalizeLexical(cands map[string]*candidate) {
	lo, hi, any := scoreBounds(cands, func(c *candidate) (float64, bool) { return c.lexical, c.hasLexical })
	if !any {
		return
	}
	for _, c := range cands {
		if !c.hasLexical {
			continue
		}
		if hi > lo {
			c.normLexical = (c.lexical - lo) / (hi - lo)
		} else {
			c.normLexical = 1.0
		}
	}
}

func scoreBounds(cands map[string]*candidate, pick func(*candidate) (float64, bool)) (lo, hi float64, any bool) {
	for _, c := range cands {
		v, ok := pick(c)
		if !ok {
			continue
		}
		if !any {
			lo, hi, any = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, any
}
