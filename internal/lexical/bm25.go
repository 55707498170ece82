// Package lexical provides a BM25 term-statistics index over fragment text.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// idfFloor keeps very common terms from contributing zero or negative weight.
const idfFloor = 1e-3

// Config holds the BM25 constants.
type Config struct {
	K1 float64 // term-frequency saturation (default 1.5)
	B  float64 // document-length normalization (default 0.75)
}

func (c Config) withDefaults() Config {
	if c.K1 <= 0 {
		c.K1 = 1.5
	}
	if c.B <= 0 {
		c.B = 0.75
	}
	return c
}

// Hit is a single ranked lexical match.
type Hit struct {
	ID    string
	Score float64
}

// Index maintains per-term postings and document-length statistics.
type Index struct {
	mu       sync.RWMutex
	k1, b    float64
	postings map[string]map[string]int // term -> fragment id -> term frequency
	docTerms map[string]map[string]int // fragment id -> term -> term frequency
	docLen   map[string]int
	totalLen int
}

// New creates an empty index.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()
	return &Index{
		k1:       cfg.K1,
		b:        cfg.B,
		postings: make(map[string]map[string]int),
		docTerms: make(map[string]map[string]int),
		docLen:   make(map[string]int),
	}
}

// Len returns the number of indexed fragments.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docLen)
}

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docLen[id]
	return ok
}

// Index tokenizes text and records postings for id. Re-indexing the same id
// first drops its prior postings, so stale terms never accumulate.
func (ix *Index) Index(id, text string) {
	toks := Tokenize(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(id)

	tf := make(map[string]int, len(toks))
	for _, t := range toks {
		tf[t]++
	}
	for term, n := range tf {
		m := ix.postings[term]
		if m == nil {
			m = make(map[string]int)
			ix.postings[term] = m
		}
		m[id] = n
	}
	ix.docTerms[id] = tf
	ix.docLen[id] = len(toks)
	ix.totalLen += len(toks)
}

// Remove drops id's postings. Idempotent when id is absent.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id string) {
	tf, ok := ix.docTerms[id]
	if !ok {
		return
	}
	for term := range tf {
		m := ix.postings[term]
		delete(m, id)
		if len(m) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalLen -= ix.docLen[id]
	delete(ix.docTerms, id)
	delete(ix.docLen, id)
}

// Search scores fragments sharing at least one term with the query and
// returns the top limit by descending BM25 score. An empty query or empty
// index yields an empty result.
func (ix *Index) Search(query string, limit int) []Hit {
	toks := Tokenize(query)
	if len(toks) == 0 || limit <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docLen)
	if n == 0 {
		return nil
	}
	avgdl := float64(ix.totalLen) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	scores := make(map[string]float64)
	for _, term := range toks {
		m := ix.postings[term]
		if len(m) == 0 {
			continue
		}
		df := float64(len(m))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)
		if idf < idfFloor {
			idf = idfFloor
		}
		for id, tf := range m {
			dl := float64(ix.docLen[id])
			ftf := float64(tf)
			scores[id] += idf * (ftf * (ix.k1 + 1)) / (ftf + ix.k1*(1-ix.b+ix.b*dl/avgdl))
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Tokenize splits text into lowercase alphanumeric tokens, stripping
// punctuation and single-character noise. Indexing and querying must share
// this exact tokenizer: BM25 is undefined across mismatched vocabularies.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
