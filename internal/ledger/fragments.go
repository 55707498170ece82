package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/engramd/engram/internal/engine"
)

// SaveFragment stores a fragment record. The ledger is append-oriented:
// saving an existing id is an error, not an upsert.
func (l *Ledger) SaveFragment(ctx context.Context, frag engine.Fragment) error {
	meta, err := encodeMetadata(frag.Metadata)
	if err != nil {
		return err
	}
	createdAt := frag.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var lastAccess *int64
	if !frag.LastAccessedAt.IsZero() {
		ms := frag.LastAccessedAt.UnixMilli()
		lastAccess = &ms
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO fragments (id, content, metadata, relevance_hint, access_count, archived, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, frag.ID, frag.Text, meta, frag.RelevanceHint, frag.AccessCount, createdAt.UnixMilli(), lastAccess)
	if err != nil {
		return errors.Wrapf(err, "save fragment %s", frag.ID)
	}

	if frag.Embedding != nil {
		if err := l.SaveEmbedding(ctx, frag.ID, frag.Embedding, ""); err != nil {
			return err
		}
	}
	return nil
}

// GetFragment returns one fragment, or nil if absent.
func (l *Ledger) GetFragment(ctx context.Context, id string) (*engine.Fragment, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, content, metadata, relevance_hint, access_count, created_at, last_accessed_at
		FROM fragments WHERE id = ?
	`, id)
	frag, err := scanFragment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get fragment %s", id)
	}

	vec, _, err := l.GetEmbedding(ctx, id)
	if err != nil {
		return nil, err
	}
	frag.Embedding = vec
	return frag, nil
}

// ListActive returns all non-archived fragments with their cached embeddings,
// oldest first, for index rebuilds.
func (l *Ledger) ListActive(ctx context.Context) ([]engine.Fragment, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, content, metadata, relevance_hint, access_count, created_at, last_accessed_at
		FROM fragments WHERE archived = 0
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list active fragments")
	}
	defer rows.Close()

	var frags []engine.Fragment
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan fragment")
		}
		frags = append(frags, *frag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range frags {
		vec, _, err := l.GetEmbedding(ctx, frags[i].ID)
		if err != nil {
			return nil, err
		}
		frags[i].Embedding = vec
	}
	return frags, nil
}

// TouchFragment records a read: bumps the access counter and timestamp.
// Implements engine.Recorder.
func (l *Ledger) TouchFragment(ctx context.Context, id string, at time.Time, count int) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE fragments SET access_count = ?, last_accessed_at = ? WHERE id = ?
	`, count, at.UnixMilli(), id)
	if err != nil {
		return errors.Wrapf(err, "touch fragment %s", id)
	}
	return nil
}

// MarkArchived soft-removes a fragment. The record stays; only the engine's
// indexes forget it. Implements engine.Recorder.
func (l *Ledger) MarkArchived(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, "UPDATE fragments SET archived = 1 WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "mark archived %s", id)
	}
	return nil
}

// CountActive returns the number of non-archived fragments.
func (l *Ledger) CountActive(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments WHERE archived = 0").Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count active fragments")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner) (*engine.Fragment, error) {
	var frag engine.Fragment
	var meta sql.NullString
	var createdAt int64
	var lastAccess sql.NullInt64

	err := row.Scan(&frag.ID, &frag.Text, &meta, &frag.RelevanceHint,
		&frag.AccessCount, &createdAt, &lastAccess)
	if err != nil {
		return nil, err
	}

	frag.CreatedAt = time.UnixMilli(createdAt)
	if lastAccess.Valid {
		frag.LastAccessedAt = time.UnixMilli(lastAccess.Int64)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &frag.Metadata); err != nil {
			return nil, errors.Wrapf(err, "decode metadata for %s", frag.ID)
		}
	}
	return &frag, nil
}

func encodeMetadata(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	buf, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	return string(buf), nil
}
