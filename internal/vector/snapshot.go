package vector

import "github.com/pkg/errors"

// NodeSnapshot is one graph node with its edges expressed by id, so arena
// slot numbers never leak into persisted state.
type NodeSnapshot struct {
	ID        string
	Vector    []float32
	Level     int
	Neighbors [][]string
}

// Snapshot is a durable representation of the whole graph.
type Snapshot struct {
	Dim   int
	Entry string
	Nodes []NodeSnapshot
}

// Snapshot captures the current graph under the read lock.
func (ix *Index) Snapshot() Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s := Snapshot{Dim: ix.cfg.Dim}
	if ix.entry >= 0 {
		s.Entry = ix.nodes[ix.entry].id
	}
	for _, n := range ix.nodes {
		if n == nil {
			continue
		}
		ns := NodeSnapshot{
			ID:        n.id,
			Vector:    append([]float32(nil), n.vec...),
			Level:     n.level,
			Neighbors: make([][]string, len(n.neighbors)),
		}
		for lc, nbs := range n.neighbors {
			ids := make([]string, len(nbs))
			for i, h := range nbs {
				ids[i] = ix.nodes[h].id
			}
			ns.Neighbors[lc] = ids
		}
		s.Nodes = append(s.Nodes, ns)
	}
	return s
}

// Restore replaces the index contents with a validated snapshot. Edge targets
// must exist, dimensions must match configuration, and the entry point must be
// a real node; anything else fails with ErrCorrupt and leaves the index
// untouched.
func (ix *Index) Restore(s Snapshot) error {
	if s.Dim != ix.cfg.Dim {
		return errors.Wrapf(ErrCorrupt, "snapshot dimension %d, configured %d", s.Dim, ix.cfg.Dim)
	}

	byID := make(map[string]int, len(s.Nodes))
	nodes := make([]*node, 0, len(s.Nodes))
	for _, ns := range s.Nodes {
		if ns.ID == "" {
			return errors.Wrap(ErrCorrupt, "node with empty id")
		}
		if _, dup := byID[ns.ID]; dup {
			return errors.Wrapf(ErrCorrupt, "duplicate node %s", ns.ID)
		}
		if len(ns.Vector) != s.Dim {
			return errors.Wrapf(ErrCorrupt, "node %s vector dimension %d", ns.ID, len(ns.Vector))
		}
		if ns.Level < 0 || ns.Level >= maxLayers || len(ns.Neighbors) != ns.Level+1 {
			return errors.Wrapf(ErrCorrupt, "node %s has %d neighbor layers for level %d", ns.ID, len(ns.Neighbors), ns.Level)
		}
		byID[ns.ID] = len(nodes)
		nodes = append(nodes, &node{
			id:    ns.ID,
			vec:   append([]float32(nil), ns.Vector...),
			level: ns.Level,
		})
	}

	entry := -1
	topLevel := 0
	for i, ns := range s.Nodes {
		n := nodes[i]
		n.neighbors = make([][]int, n.level+1)
		for lc, ids := range ns.Neighbors {
			handles := make([]int, 0, len(ids))
			for _, id := range ids {
				h, ok := byID[id]
				if !ok {
					return errors.Wrapf(ErrCorrupt, "node %s links to missing node %s", ns.ID, id)
				}
				if nodes[h].level < lc {
					return errors.Wrapf(ErrCorrupt, "node %s links to %s above its level", ns.ID, id)
				}
				handles = append(handles, h)
			}
			n.neighbors[lc] = handles
		}
		if n.level > topLevel || entry < 0 {
			topLevel = n.level
			entry = i
		}
	}

	if len(nodes) > 0 {
		h, ok := byID[s.Entry]
		if !ok {
			return errors.Wrapf(ErrCorrupt, "entry point %q not in snapshot", s.Entry)
		}
		// Trust the recorded entry as long as it sits on the top layer.
		if nodes[h].level == topLevel {
			entry = h
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = nodes
	ix.free = nil
	ix.byID = byID
	ix.entry = entry
	ix.topLevel = topLevel
	return nil
}
