// Package ledger is the durable record-of-truth for fragments. The retrieval
// engine is a derived index over this store and can always be rebuilt from
// it; archival here is a flag, and hard deletion is nobody else's business.
package ledger

import (
	"database/sql"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Ledger wraps a sql.DB connection to the engram SQLite database.
type Ledger struct {
	db   *sql.DB
	Path string
}

// DefaultPath returns the default database path: ~/.engram/engram.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "get home dir")
	}
	return filepath.Join(home, ".engram", "engram.db"), nil
}

// Open opens (or creates) the SQLite database at the given path, configures
// pragmas, and runs migrations.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	l := &Ledger{db: sqlDB, Path: path}
	if err := l.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := l.migrate(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return l, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*Ledger, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite memory")
	}

	l := &Ledger{db: sqlDB, Path: ":memory:"}
	if err := l.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := l.migrate(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

// Ping verifies the database connection.
func (l *Ledger) Ping() error { return l.db.Ping() }

func (l *Ledger) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := l.db.Exec(p); err != nil {
			return errors.Wrapf(err, "pragma %q", p)
		}
	}
	return nil
}

var idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// NewID mints a fragment id: lexically sortable, unique, opaque to the engine.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return errors.Wrap(err, "create schema_versions")
	}

	for _, m := range migrations {
		var count int
		err := l.db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return errors.Wrapf(err, "check migration %d", m.Version)
		}
		if count > 0 {
			continue
		}

		tx, err := l.db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin migration %d", m.Version)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "migration %d (%s)", m.Version, m.Description)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record migration %d", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %d", m.Version)
		}
	}
	return nil
}

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "fragments: durable memory records",
		SQL: `
CREATE TABLE fragments (
    id               TEXT PRIMARY KEY,
    content          TEXT NOT NULL,
    metadata         TEXT,
    relevance_hint   REAL NOT NULL DEFAULT 1.0,
    access_count     INTEGER NOT NULL DEFAULT 0,
    archived         INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    last_accessed_at INTEGER
);

CREATE INDEX idx_fragments_archived ON fragments(archived);
CREATE INDEX idx_fragments_created  ON fragments(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "fragment_embeddings: cached embedding vectors",
		SQL: `
CREATE TABLE fragment_embeddings (
    fragment_id TEXT PRIMARY KEY,
    embedding   BLOB NOT NULL,
    model       TEXT NOT NULL,
    dimensions  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    FOREIGN KEY (fragment_id) REFERENCES fragments(id) ON DELETE CASCADE
);
`,
	},
}
