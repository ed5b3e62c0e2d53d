package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tidelane/convocore/internal/store"
)

// SessionStore persists opaque session payloads with a sliding TTL.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM sessions WHERE session_key = $1`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, infra("session get", err)
	}
	if time.Now().After(expiresAt) {
		return nil, store.ErrNotFound
	}
	return payload, nil
}

func (s *SessionStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, payload, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_key) DO UPDATE
		 SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, payload, now.Add(ttl), now,
	)
	if err != nil {
		return infra("session save", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_key = $1`, key); err != nil {
		return infra("session delete", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, infra("session sweep", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
