package engine

import (
	"context"
	"time"
)

// Fragment is the atomic unit of retrievable memory. The id is assigned by
// the external ledger and treated as opaque; metadata is passed through
// unmodified and never interpreted here.
type Fragment struct {
	ID             string            `json:"id"`
	Text           string            `json:"text"`
	Embedding      []float32         `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int               `json:"access_count"`
	RelevanceHint  float64           `json:"relevance_hint"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// lastTouch is the freshness reference for decay: last access when known,
// creation time otherwise.
func (f *Fragment) lastTouch() time.Time {
	if !f.LastAccessedAt.IsZero() {
		return f.LastAccessedAt
	}
	return f.CreatedAt
}

// fragmentState is the engine's record for one fragment. Archived fragments
// are out of both indexes but kept here so the ledger stays the only place
// that hard-deletes.
type fragmentState struct {
	frag     Fragment
	archived bool
}

// SearchResult is one ranked hit. Raw per-index scores are kept alongside the
// fused and decay-adjusted scores so callers can see how a rank came to be.
type SearchResult struct {
	FragmentID string            `json:"fragment_id"`
	Text       string            `json:"text"`
	Semantic   float64           `json:"semantic_score"`
	Lexical    float64           `json:"lexical_score"`
	Combined   float64           `json:"combined_score"`
	Decayed    float64           `json:"decayed_score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchResponse carries the ranked results plus the degraded flag set when
// the semantic leg was skipped because the embedding capability failed.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
}

// ConsolidationReport summarizes one consolidation pass for observability.
type ConsolidationReport struct {
	Merged   int `json:"merged"`
	Archived int `json:"archived"`
}

// Stats describes current engine occupancy.
type Stats struct {
	ActiveFragments   int `json:"active_fragments"`
	ArchivedFragments int `json:"archived_fragments"`
	VectorIndexed     int `json:"vector_indexed"`
	LexicalIndexed    int `json:"lexical_indexed"`
}

// Recorder receives best-effort write-through of engine-side state changes so
// the external ledger's copy of access counters and archival flags stays
// close to the truth. Failures are logged, never fatal: the ledger, not the
// engine, owns durability.
type Recorder interface {
	TouchFragment(ctx context.Context, id string, at time.Time, count int) error
	MarkArchived(ctx context.Context, id string) error
}
