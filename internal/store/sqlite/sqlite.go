// Package sqlite implements the store protocols on an embedded SQLite
// database (standalone mode, no external services). The schema is
// bootstrapped on open; timestamps are stored as Unix milliseconds.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tidelane/convocore/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	expires_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dedupe_records (
	dedupe_key TEXT PRIMARY KEY,
	marker     TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS contact_cards (
	tenant      TEXT NOT NULL,
	sender_hash TEXT NOT NULL,
	card        BLOB NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (tenant, sender_hash)
);
CREATE TABLE IF NOT EXISTS turns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant      TEXT NOT NULL,
	sender_hash TEXT NOT NULL,
	role        TEXT NOT NULL,
	body        TEXT NOT NULL,
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_sender ON turns (tenant, sender_hash, at);
CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	tenant      TEXT NOT NULL,
	sender_hash TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	reason      TEXT NOT NULL,
	detail      BLOB,
	at          INTEGER NOT NULL
);
`

// OpenDB opens the database file and bootstraps the schema. WAL mode keeps
// concurrent readers off the writer's back.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The modernc driver serializes writes; one writer connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one SQLite file.
func NewStores(cfg store.Config) (*store.Stores, error) {
	db, err := OpenDB(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	sessions := &SessionStore{db: db}
	dedupe := &DedupeStore{db: db}
	return &store.Stores{
		Sessions: sessions,
		Dedupe:   dedupe,
		Profiles: &ProfileStore{db: db},
		Turns:    &TurnStore{db: db},
		Audit:    &AuditStore{db: db},
		Sweepers: []store.Sweeper{sessions, dedupe},
	}, nil
}

func infra(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, store.ErrUnavailable)
}

func millis(t time.Time) int64 { return t.UnixMilli() }
