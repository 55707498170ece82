package ledger

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// encodeEmbedding converts a []float32 to a binary BLOB (4 bytes per float32).
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float32.
func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// SaveEmbedding stores or replaces the cached embedding for a fragment.
func (l *Ledger) SaveEmbedding(ctx context.Context, fragmentID string, vec []float32, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(vec)

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO fragment_embeddings (fragment_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fragment_id) DO UPDATE SET embedding = ?, model = ?, dimensions = ?, created_at = ?
	`, fragmentID, blob, model, len(vec), now,
		blob, model, len(vec), now)
	if err != nil {
		return errors.Wrapf(err, "save embedding %s", fragmentID)
	}
	return nil
}

// GetEmbedding returns the cached embedding and model for a fragment, or nil
// if none is stored.
func (l *Ledger) GetEmbedding(ctx context.Context, fragmentID string) ([]float32, string, error) {
	var blob []byte
	var model string
	err := l.db.QueryRowContext(ctx, `
		SELECT embedding, model FROM fragment_embeddings WHERE fragment_id = ?
	`, fragmentID).Scan(&blob, &model)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "get embedding %s", fragmentID)
	}
	return decodeEmbedding(blob), model, nil
}
