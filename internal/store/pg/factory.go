// Package pg implements the store protocols on Postgres (managed mode).
// TTLs are enforced lazily on read and reaped by the scheduled sweep.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tidelane/convocore/internal/store"
)

// OpenDB opens and verifies a Postgres connection via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres.
func NewStores(cfg store.Config) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	sessions := NewSessionStore(db)
	dedupe := NewDedupeStore(db)
	return &store.Stores{
		Sessions: sessions,
		Dedupe:   dedupe,
		Profiles: NewProfileStore(db),
		Turns:    NewTurnStore(db),
		Audit:    NewAuditStore(db),
		Sweepers: []store.Sweeper{sessions, dedupe},
	}, nil
}

// infra tags a database failure so the engine rolls idempotency back and
// lets the channel redeliver.
func infra(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, store.ErrUnavailable)
}
