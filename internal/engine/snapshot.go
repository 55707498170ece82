package engine

import (
	"encoding/gob"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/engramd/engram/internal/lexical"
	"github.com/engramd/engram/internal/vector"
)

const (
	snapshotMagic   = "engram-snapshot"
	snapshotVersion = 1
)

// snapshotFile is the on-disk restart-recovery image: both index structures
// plus the fragment bookkeeping decay needs. The magic and version gate loads
// so an incompatible file fails fast instead of silently corrupting state.
type snapshotFile struct {
	Magic   string
	Version int
	Dim     int
	SavedAt time.Time
	Vector  vector.Snapshot
	Lexical lexical.Snapshot
	Records []snapshotRecord
}

type snapshotRecord struct {
	Fragment Fragment
	Vec      []float32 // embeddings travel outside the json-tagged struct
	Archived bool
}

// PersistSnapshot writes the current engine state to path via a temp file
// and rename, so a crash mid-write never leaves a truncated snapshot in
// place. In-memory state stays valid and queryable if the write fails.
func (e *Engine) PersistSnapshot(path string) error {
	e.mu.RLock()
	snap := snapshotFile{
		Magic:   snapshotMagic,
		Version: snapshotVersion,
		Dim:     e.cfg.Dim,
		SavedAt: time.Now(),
		Vector:  e.vec.Snapshot(),
		Lexical: e.lex.Snapshot(),
	}
	for _, st := range e.fragments {
		frag := st.frag
		vec := frag.Embedding
		frag.Embedding = nil
		snap.Records = append(snap.Records, snapshotRecord{
			Fragment: frag,
			Vec:      vec,
			Archived: st.archived,
		})
	}
	e.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create snapshot temp file")
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "encode snapshot")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close snapshot temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}

// LoadSnapshot replaces engine state from a snapshot file. Validation is
// all-or-nothing: fresh indexes are built and verified first and swapped in
// only on success, so a corrupt or truncated file leaves the engine exactly
// as it was and surfaces ErrCorruptSnapshot.
func (e *Engine) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}
	defer f.Close()

	var snap snapshotFile
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return errors.Wrapf(ErrCorruptSnapshot, "decode %s: %v", path, err)
	}
	if snap.Magic != snapshotMagic {
		return errors.Wrapf(ErrCorruptSnapshot, "%s is not an engram snapshot", path)
	}
	if snap.Version != snapshotVersion {
		return errors.Wrapf(ErrCorruptSnapshot, "snapshot version %d, supported %d", snap.Version, snapshotVersion)
	}
	if snap.Dim != e.cfg.Dim {
		return errors.Wrapf(ErrCorruptSnapshot, "snapshot dimension %d, configured %d", snap.Dim, e.cfg.Dim)
	}

	fragments := make(map[string]*fragmentState, len(snap.Records))
	for _, rec := range snap.Records {
		if rec.Fragment.ID == "" {
			return errors.Wrap(ErrCorruptSnapshot, "fragment with empty id")
		}
		if _, dup := fragments[rec.Fragment.ID]; dup {
			return errors.Wrapf(ErrCorruptSnapshot, "duplicate fragment %s", rec.Fragment.ID)
		}
		frag := rec.Fragment
		frag.Embedding = rec.Vec
		fragments[frag.ID] = &fragmentState{frag: frag, archived: rec.Archived}
	}

	// Every graph node must belong to a known, active fragment.
	for _, n := range snap.Vector.Nodes {
		st, ok := fragments[n.ID]
		if !ok || st.archived {
			return errors.Wrapf(ErrCorruptSnapshot, "vector node %s has no active fragment", n.ID)
		}
	}
	for _, d := range snap.Lexical.Docs {
		st, ok := fragments[d.ID]
		if !ok || st.archived {
			return errors.Wrapf(ErrCorruptSnapshot, "lexical doc %s has no active fragment", d.ID)
		}
	}

	vec := vector.New(e.cfg.Vector)
	if err := vec.Restore(snap.Vector); err != nil {
		return errors.Wrapf(ErrCorruptSnapshot, "restore vector index: %v", err)
	}
	lex := lexical.New(e.cfg.Lexical)
	if err := lex.Restore(snap.Lexical); err != nil {
		return errors.Wrapf(ErrCorruptSnapshot, "restore lexical index: %v", err)
	}

	e.mu.Lock()
	e.vec = vec
	e.lex = lex
	e.fragments = fragments
	e.mu.Unlock()
	return nil
}
