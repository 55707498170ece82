package engine

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned for bad caller input (limit < 1, empty
	// query text, empty fragment id).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateID is returned when a fragment id is ingested twice without
	// an intervening archive. Duplicate inserts are a caller bug, never a
	// silent overwrite.
	ErrDuplicateID = errors.New("duplicate fragment id")
	// ErrNotFound is returned when a fragment id is unknown to the engine.
	ErrNotFound = errors.New("fragment not found")
	// ErrDimensionMismatch is returned when a supplied embedding does not
	// match the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmbeddingUnavailable is returned when the embedding capability is
	// required (semantic-only mode) but failed or is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding capability unavailable")
	// ErrCorruptSnapshot is returned when a snapshot fails validation on
	// load. The engine refuses to serve from a known-corrupt snapshot; a
	// rebuild from the ledger is required.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)
