package lexical

import "github.com/pkg/errors"

// ErrCorrupt is returned when a snapshot fails validation.
var ErrCorrupt = errors.New("corrupt lexical index snapshot")

// DocSnapshot is one indexed fragment's term statistics.
type DocSnapshot struct {
	ID    string
	Terms map[string]int
	Len   int
}

// Snapshot is a durable representation of the postings.
type Snapshot struct {
	Docs []DocSnapshot
}

// Snapshot captures the current postings under the read lock.
func (ix *Index) Snapshot() Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s := Snapshot{Docs: make([]DocSnapshot, 0, len(ix.docTerms))}
	for id, tf := range ix.docTerms {
		terms := make(map[string]int, len(tf))
		for t, n := range tf {
			terms[t] = n
		}
		s.Docs = append(s.Docs, DocSnapshot{ID: id, Terms: terms, Len: ix.docLen[id]})
	}
	return s
}

// Restore replaces the index contents with a validated snapshot, rebuilding
// the inverted postings from per-document statistics. Invalid records fail
// with ErrCorrupt and leave the index untouched.
func (ix *Index) Restore(s Snapshot) error {
	postings := make(map[string]map[string]int)
	docTerms := make(map[string]map[string]int, len(s.Docs))
	docLen := make(map[string]int, len(s.Docs))
	totalLen := 0

	for _, doc := range s.Docs {
		if doc.ID == "" {
			return errors.Wrap(ErrCorrupt, "document with empty id")
		}
		if _, dup := docTerms[doc.ID]; dup {
			return errors.Wrapf(ErrCorrupt, "duplicate document %s", doc.ID)
		}
		if doc.Len < 0 {
			return errors.Wrapf(ErrCorrupt, "document %s has negative length", doc.ID)
		}
		sum := 0
		tf := make(map[string]int, len(doc.Terms))
		for term, n := range doc.Terms {
			if term == "" || n <= 0 {
				return errors.Wrapf(ErrCorrupt, "document %s has invalid posting %q=%d", doc.ID, term, n)
			}
			tf[term] = n
			sum += n
			m := postings[term]
			if m == nil {
				m = make(map[string]int)
				postings[term] = m
			}
			m[doc.ID] = n
		}
		if sum > doc.Len {
			return errors.Wrapf(ErrCorrupt, "document %s term count %d exceeds length %d", doc.ID, sum, doc.Len)
		}
		docTerms[doc.ID] = tf
		docLen[doc.ID] = doc.Len
		totalLen += doc.Len
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.postings = postings
	ix.docTerms = docTerms
	ix.docLen = docLen
	ix.totalLen = totalLen
	return nil
}
