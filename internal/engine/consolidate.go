package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// RunConsolidationPass merges clusters of mutually similar fragments whose
// effective decay has fallen below the forgetting threshold, and archives
// lone fragments that have dwelt below it past the grace period. Archival
// removes a fragment from both indexes; the ledger keeps the record, so
// nothing here is a hard delete.
//
// The pass is invoked on a schedule by the surrounding service and runs off
// the query path: candidates are collected and clustered outside any lock,
// and archivals apply in bounded batches so query traffic is never starved.
func (e *Engine) RunConsolidationPass(ctx context.Context) (ConsolidationReport, error) {
	now := time.Now()
	report := ConsolidationReport{}

	e.mu.RLock()
	var cands []Fragment
	for _, st := range e.fragments {
		if st.archived {
			continue
		}
		if e.shouldForgetLocked(&st.frag, now) {
			cands = append(cands, st.frag)
		}
	}
	e.mu.RUnlock()

	if len(cands) == 0 {
		return report, nil
	}
	// Deterministic pass order.
	sort.Slice(cands, func(i, j int) bool { return cands[i].ID < cands[j].ID })

	claimed := make(map[string]bool)
	var archive []string

	for i := range cands {
		if claimed[cands[i].ID] {
			continue
		}
		cluster := []int{i}
		for j := i + 1; j < len(cands); j++ {
			if claimed[cands[j].ID] {
				continue
			}
			if e.similarity(&cands[i], &cands[j]) >= e.cfg.Decay.SimilarityCutoff {
				cluster = append(cluster, j)
			}
		}
		if len(cluster) <= 1 {
			continue
		}

		// Keep the most recently touched member as the representative.
		keep := cluster[0]
		for _, idx := range cluster[1:] {
			if cands[idx].lastTouch().After(cands[keep].lastTouch()) {
				keep = idx
			}
		}

		var merged []string
		for _, idx := range cluster {
			claimed[cands[idx].ID] = true
			if idx == keep {
				continue
			}
			merged = append(merged, cands[idx].ID)
			archive = append(archive, cands[idx].ID)
		}
		e.mergeInto(cands[keep].ID, merged, cands)
		report.Merged++
		e.logger.Info("consolidation merged cluster",
			"representative", cands[keep].ID, "absorbed", len(merged))
	}

	// Age-based compression: unclustered candidates already below threshold
	// at the start of the grace window get archived regardless of similarity.
	cutoff := now.Add(-e.cfg.Decay.GracePeriod)
	e.mu.RLock()
	for i := range cands {
		if claimed[cands[i].ID] {
			continue
		}
		if cands[i].lastTouch().After(cutoff) {
			continue
		}
		if e.effectiveDecayLocked(&cands[i], cutoff) < e.cfg.Decay.ForgetBelow {
			archive = append(archive, cands[i].ID)
		}
	}
	e.mu.RUnlock()

	archived, err := e.archiveBatched(ctx, archive)
	report.Archived = archived
	return report, err
}

// mergeInto folds the absorbed fragments' metadata into the representative
// without overwriting its own keys, and records their ids under merged_from.
// The metadata bag is otherwise opaque and passed through untouched.
func (e *Engine) mergeInto(keepID string, absorbed []string, cands []Fragment) {
	if len(absorbed) == 0 {
		return
	}
	byID := make(map[string]*Fragment, len(cands))
	for i := range cands {
		byID[cands[i].ID] = &cands[i]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.fragments[keepID]
	if !ok || st.archived {
		return
	}
	if st.frag.Metadata == nil {
		st.frag.Metadata = make(map[string]string)
	}
	for _, id := range absorbed {
		src := byID[id]
		if src == nil {
			continue
		}
		for k, v := range src.Metadata {
			if _, exists := st.frag.Metadata[k]; !exists {
				st.frag.Metadata[k] = v
			}
		}
	}
	refs := strings.Join(absorbed, ",")
	if prev := st.frag.Metadata["merged_from"]; prev != "" {
		refs = prev + "," + refs
	}
	st.frag.Metadata["merged_from"] = refs
}

// archiveBatched removes fragments from both indexes in bounded write
// sections, yielding between batches. A started batch always runs to
// completion: partial graph edits are unsafe to abandon, so cancellation is
// only honored on batch boundaries.
func (e *Engine) archiveBatched(ctx context.Context, ids []string) (int, error) {
	archived := 0
	batch := e.cfg.Decay.BatchSize
	for start := 0; start < len(ids); start += batch {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}

		e.mu.Lock()
		for _, id := range ids[start:end] {
			st, ok := e.fragments[id]
			if !ok || st.archived {
				continue
			}
			e.lex.Remove(id)
			if st.frag.Embedding != nil {
				if err := e.vec.Remove(id); err != nil {
					e.logger.Warn("archive: vector remove", "fragment_id", id, "error", err)
				}
			}
			st.archived = true
			archived++
		}
		e.mu.Unlock()

		if e.recorder != nil {
			for _, id := range ids[start:end] {
				if err := e.recorder.MarkArchived(ctx, id); err != nil {
					e.logger.Warn("archive write-through", "fragment_id", id, "error", err)
				}
			}
		}
	}
	return archived, nil
}

// similarity measures how close two fragments are: cosine over embeddings
// when both have one, bigram Jaccard over text otherwise.
func (e *Engine) similarity(a, b *Fragment) float64 {
	if a.Embedding != nil && b.Embedding != nil {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	return bigramJaccard(a.Text, b.Text)
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// bigramJaccard is a cheap text-similarity proxy: shared character bigrams
// over the union. No embeddings needed.
func bigramJaccard(a, b string) float64 {
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == b && a != "" {
		return 1
	}
	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}
	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	if union == 0 {
		return 1
	}
	return float64(shared) / float64(union)
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}
