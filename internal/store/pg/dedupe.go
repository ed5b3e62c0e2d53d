package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tidelane/convocore/internal/store"
)

// DedupeStore provides conditional-set idempotency markers. The claim is a
// single upsert that only overwrites an expired row, so concurrent workers
// racing on one message id see exactly one winner.
type DedupeStore struct {
	db *sql.DB
}

func NewDedupeStore(db *sql.DB) *DedupeStore {
	return &DedupeStore{db: db}
}

func (d *DedupeStore) SetIfAbsent(ctx context.Context, key, marker string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO dedupe_records (dedupe_key, marker, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (dedupe_key) DO UPDATE
		 SET marker = EXCLUDED.marker, expires_at = EXCLUDED.expires_at
		 WHERE dedupe_records.expires_at < $4`,
		key, marker, now.Add(ttl), now,
	)
	if err != nil {
		return false, infra("dedupe set", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (d *DedupeStore) Set(ctx context.Context, key, marker string, ttl time.Duration) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO dedupe_records (dedupe_key, marker, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (dedupe_key) DO UPDATE
		 SET marker = EXCLUDED.marker, expires_at = EXCLUDED.expires_at`,
		key, marker, time.Now().Add(ttl),
	)
	if err != nil {
		return infra("dedupe set", err)
	}
	return nil
}

func (d *DedupeStore) Get(ctx context.Context, key string) (string, error) {
	var marker string
	var expiresAt time.Time
	err := d.db.QueryRowContext(ctx,
		`SELECT marker, expires_at FROM dedupe_records WHERE dedupe_key = $1`, key,
	).Scan(&marker, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", infra("dedupe get", err)
	}
	if time.Now().After(expiresAt) {
		return "", store.ErrNotFound
	}
	return marker, nil
}

func (d *DedupeStore) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE dedupe_key = $1`, key); err != nil {
		return infra("dedupe delete", err)
	}
	return nil
}

func (d *DedupeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, infra("dedupe sweep", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
