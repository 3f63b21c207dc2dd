package checkpoint

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore appends entries to a (namespace, key, value) table instead
// of rewriting the whole cache. Several caches can share one database
// under different namespaces.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoint_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (namespace, key)
);
`

// NewSQLiteStore opens a SQLite database at dsn and configures WAL mode.
func NewSQLiteStore(ctx context.Context, dsn, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

// Load returns every entry in the namespace.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM checkpoint_entries WHERE namespace = ?`, s.namespace)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query entries")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entries")
}

// Save inserts the added entries in one transaction. Existing keys are
// left untouched.
func (s *SQLiteStore) Save(ctx context.Context, _ map[string]string, added []Entry) error {
	if len(added) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO checkpoint_entries (namespace, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range added {
		if _, err := stmt.ExecContext(ctx, s.namespace, e.Key, e.Value); err != nil {
			return eris.Wrapf(err, "sqlite: insert entry %s", e.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
