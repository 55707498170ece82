// Package vector provides an in-memory approximate nearest neighbor index
// over fragment embeddings, built as a hierarchical small-world graph with
// cosine distance.
package vector

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// configured embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDuplicateID is returned on insert of an id already in the index.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrNotFound is returned when an id is not in the index.
	ErrNotFound = errors.New("id not found")
	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = errors.New("corrupt vector index snapshot")
)

const maxLayers = 16

// Config controls graph construction and search breadth.
type Config struct {
	Dim            int   // embedding dimension, required
	M              int   // out-degree target at insertion (default 16)
	MaxM           int   // hard degree cap before pruning (default 2*M)
	EfConstruction int   // candidate breadth during insertion (default 128)
	EfSearch       int   // default candidate breadth during search (default 100)
	Seed           int64 // level-assignment RNG seed (default 1)
}

func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.MaxM <= 0 {
		c.MaxM = 2 * c.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 128
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 100
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Hit is a single nearest-neighbor result.
type Hit struct {
	ID         string
	Similarity float64
}

// node lives in the arena and is addressed by its slot index, never by
// pointer, so neighbor repair on delete is a local slice edit.
type node struct {
	id        string
	vec       []float32 // L2-normalized copy of the input
	level     int
	neighbors [][]int // per layer, 0..level
}

// Index is a multi-layer proximity graph. Reads run in parallel; mutations
// are serialized by the write lock because edge repair is not safe to
// interleave.
type Index struct {
	mu       sync.RWMutex
	cfg      Config
	nodes    []*node
	free     []int
	byID     map[string]int
	entry    int // arena slot of the top-level entry point, -1 when empty
	topLevel int
	rng      *rand.Rand
	mult     float64 // level-assignment multiplier, 1/ln(M)
}

// New creates an empty index for the given configuration.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()
	return &Index{
		cfg:   cfg,
		byID:  make(map[string]int),
		entry: -1,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		mult:  1.0 / math.Log(float64(cfg.M)),
	}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byID[id]
	return ok
}

// Insert adds a vector under id. A second insert of the same id fails with
// ErrDuplicateID; Remove first to replace.
func (ix *Index) Insert(id string, vec []float32) error {
	if len(vec) != ix.cfg.Dim {
		return errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(vec), ix.cfg.Dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byID[id]; ok {
		return errors.Wrap(ErrDuplicateID, id)
	}

	n := &node{
		id:    id,
		vec:   normalized(vec),
		level: ix.randLevel(),
	}
	n.neighbors = make([][]int, n.level+1)
	h := ix.alloc(n)
	ix.byID[id] = h

	if ix.entry < 0 {
		ix.entry = h
		ix.topLevel = n.level
		return nil
	}

	// Greedy descent through layers above the new node's level.
	ep := ix.entry
	for lc := ix.topLevel; lc > n.level; lc-- {
		ep = ix.greedyClosest(n.vec, ep, lc)
	}

	// Connect at each layer from min(level, topLevel) down to 0.
	top := n.level
	if top > ix.topLevel {
		top = ix.topLevel
	}
	for lc := top; lc >= 0; lc-- {
		cands := ix.searchLayer(n.vec, ep, ix.cfg.EfConstruction, lc)
		sel := cands
		if len(sel) > ix.cfg.M {
			sel = sel[:ix.cfg.M]
		}
		links := make([]int, len(sel))
		for i, c := range sel {
			links[i] = c.h
		}
		n.neighbors[lc] = links
		for _, c := range sel {
			nb := ix.nodes[c.h]
			nb.neighbors[lc] = append(nb.neighbors[lc], h)
			if len(nb.neighbors[lc]) > ix.cfg.MaxM {
				ix.pruneNeighbors(nb, lc)
			}
		}
		if len(cands) > 0 {
			ep = cands[0].h
		}
	}

	if n.level > ix.topLevel {
		ix.topLevel = n.level
		ix.entry = h
	}
	return nil
}

// Search returns up to k ids ordered by decreasing cosine similarity.
// ef widens the layer-0 candidate pool; zero uses the configured default.
// An empty index yields an empty result, not an error.
func (ix *Index) Search(query []float32, k, ef int) ([]Hit, error) {
	if len(query) != ix.cfg.Dim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(query), ix.cfg.Dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = ix.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.entry < 0 {
		return nil, nil
	}

	q := normalized(query)
	ep := ix.entry
	for lc := ix.topLevel; lc > 0; lc-- {
		ep = ix.greedyClosest(q, ep, lc)
	}

	cands := ix.searchLayer(q, ep, ef, 0)
	if len(cands) > k {
		cands = cands[:k]
	}

	hits := make([]Hit, len(cands))
	for i, c := range cands {
		hits[i] = Hit{ID: ix.nodes[c.h].id, Similarity: 1 - c.d}
	}
	return hits, nil
}

// Remove detaches id from the graph and repairs its former neighbors so the
// component stays connected.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	h, ok := ix.byID[id]
	if !ok {
		return errors.Wrap(ErrNotFound, id)
	}
	n := ix.nodes[h]

	for lc := 0; lc <= n.level; lc++ {
		former := n.neighbors[lc]
		for _, nb := range former {
			ix.unlink(nb, h, lc)
		}
		// Cross-link the survivors so removal does not split the layer.
		for _, a := range former {
			for _, b := range former {
				if a == b {
					continue
				}
				na := ix.nodes[a]
				if len(na.neighbors[lc]) >= ix.cfg.MaxM || linked(na.neighbors[lc], b) {
					continue
				}
				na.neighbors[lc] = append(na.neighbors[lc], b)
			}
		}
	}

	delete(ix.byID, id)
	ix.nodes[h] = nil
	ix.free = append(ix.free, h)

	if ix.entry == h {
		ix.entry = -1
		ix.topLevel = 0
		for slot, cand := range ix.nodes {
			if cand == nil {
				continue
			}
			if ix.entry < 0 || cand.level > ix.topLevel {
				ix.entry = slot
				ix.topLevel = cand.level
			}
		}
	}
	return nil
}

func (ix *Index) alloc(n *node) int {
	if len(ix.free) > 0 {
		h := ix.free[len(ix.free)-1]
		ix.free = ix.free[:len(ix.free)-1]
		ix.nodes[h] = n
		return h
	}
	ix.nodes = append(ix.nodes, n)
	return len(ix.nodes) - 1
}

func (ix *Index) randLevel() int {
	lvl := int(-math.Log(1-ix.rng.Float64()) * ix.mult)
	if lvl >= maxLayers {
		lvl = maxLayers - 1
	}
	return lvl
}

// greedyClosest walks layer lc from ep toward q until no neighbor improves.
func (ix *Index) greedyClosest(q []float32, ep, lc int) int {
	cur := ep
	curDist := dist(q, ix.nodes[cur].vec)
	for {
		improved := false
		for _, nb := range ix.nodes[cur].neighbors[lc] {
			if d := dist(q, ix.nodes[nb].vec); d < curDist {
				cur, curDist = nb, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

type cand struct {
	h int
	d float64
}

// searchLayer explores layer lc from ep keeping the ef best candidates.
// Results come back sorted by ascending distance, ties by lower id.
func (ix *Index) searchLayer(q []float32, ep, ef, lc int) []cand {
	visited := map[int]bool{ep: true}
	start := cand{h: ep, d: dist(q, ix.nodes[ep].vec)}

	frontier := &candMinHeap{start}
	best := &candMaxHeap{start}

	for frontier.Len() > 0 {
		c := popMin(frontier)
		if c.d > (*best)[0].d && best.Len() >= ef {
			break
		}
		for _, nb := range ix.nodes[c.h].neighbors[lc] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := dist(q, ix.nodes[nb].vec)
			if best.Len() < ef || d < (*best)[0].d {
				pushMin(frontier, cand{h: nb, d: d})
				pushMax(best, cand{h: nb, d: d})
				if best.Len() > ef {
					popMax(best)
				}
			}
		}
	}

	out := make([]cand, best.Len())
	copy(out, *best)
	sort.Slice(out, func(i, j int) bool {
		if out[i].d != out[j].d {
			return out[i].d < out[j].d
		}
		return ix.nodes[out[i].h].id < ix.nodes[out[j].h].id
	})
	return out
}

// pruneNeighbors trims n's layer-lc list back to the best M by distance.
func (ix *Index) pruneNeighbors(n *node, lc int) {
	nbs := n.neighbors[lc]
	sort.Slice(nbs, func(i, j int) bool {
		di := dist(n.vec, ix.nodes[nbs[i]].vec)
		dj := dist(n.vec, ix.nodes[nbs[j]].vec)
		if di != dj {
			return di < dj
		}
		return ix.nodes[nbs[i]].id < ix.nodes[nbs[j]].id
	})
	keep := ix.cfg.M
	if keep > len(nbs) {
		keep = len(nbs)
	}
	dropped := nbs[keep:]
	n.neighbors[lc] = nbs[:keep:keep]

	// The reverse edge of a pruned link must go too, or degree creeps back up.
	self := ix.byID[n.id]
	for _, d := range dropped {
		ix.unlink(d, self, lc)
	}
}

func (ix *Index) unlink(from, target, lc int) {
	nbs := ix.nodes[from].neighbors[lc]
	for i, nb := range nbs {
		if nb == target {
			ix.nodes[from].neighbors[lc] = append(nbs[:i], nbs[i+1:]...)
			return
		}
	}
}

func linked(nbs []int, h int) bool {
	for _, nb := range nbs {
		if nb == h {
			return true
		}
	}
	return false
}

// dist is cosine distance over normalized vectors: 1 - dot.
// Accumulates in float64 to keep long dot products stable.
func dist(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// normalized returns an L2-normalized copy. A zero vector stays zero rather
// than dividing by zero; it matches nothing.
func normalized(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
