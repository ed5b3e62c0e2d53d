package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/store"
)

// SessionStore persists opaque session payloads with a sliding TTL.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM sessions WHERE session_key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, infra("session get", err)
	}
	if millis(time.Now()) > expiresAt {
		return nil, store.ErrNotFound
	}
	return payload, nil
}

func (s *SessionStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, payload, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE
		 SET payload = excluded.payload, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, payload, millis(now.Add(ttl)), millis(now),
	)
	if err != nil {
		return infra("session save", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_key = ?`, key); err != nil {
		return infra("session delete", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, millis(now))
	if err != nil {
		return 0, infra("session sweep", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DedupeStore provides conditional-set idempotency markers.
type DedupeStore struct {
	db *sql.DB
}

func (d *DedupeStore) SetIfAbsent(ctx context.Context, key, marker string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO dedupe_records (dedupe_key, marker, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (dedupe_key) DO UPDATE
		 SET marker = excluded.marker, expires_at = excluded.expires_at
		 WHERE dedupe_records.expires_at < ?`,
		key, marker, millis(now.Add(ttl)), millis(now),
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
		 VALUES (?, ?, ?)
		 ON CONFLICT (dedupe_key) DO UPDATE
		 SET marker = excluded.marker, expires_at = excluded.expires_at`,
		key, marker, millis(time.Now().Add(ttl)),
	)
	if err != nil {
		return infra("dedupe set", err)
	}
	return nil
}

func (d *DedupeStore) Get(ctx context.Context, key string) (string, error) {
	var marker string
	var expiresAt int64
	err := d.db.QueryRowContext(ctx,
		`SELECT marker, expires_at FROM dedupe_records WHERE dedupe_key = ?`, key,
	).Scan(&marker, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", infra("dedupe get", err)
	}
	if millis(time.Now()) > expiresAt {
		return "", store.ErrNotFound
	}
	return marker, nil
}

func (d *DedupeStore) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE dedupe_key = ?`, key); err != nil {
		return infra("dedupe delete", err)
	}
	return nil
}

func (d *DedupeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE expires_at < ?`, millis(now))
	if err != nil {
		return 0, infra("dedupe sweep", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ProfileStore holds the authoritative ContactCard per (tenant, sender hash).
type ProfileStore struct {
	db *sql.DB
}

func (p *ProfileStore) GetOrCreate(ctx context.Context, tenant, senderHash string) (*profile.ContactCard, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT card FROM contact_cards WHERE tenant = ? AND sender_hash = ?`,
		tenant, senderHash,
	).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		card := &profile.ContactCard{CreatedAt: time.Now()}
		if err := p.Upsert(ctx, tenant, senderHash, card); err != nil {
			return nil, err
		}
		return card, nil
	case err != nil:
		return nil, infra("profile get", err)
	}

	var card profile.ContactCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("profile decode %s/%s: %w", tenant, senderHash, err)
	}
	return &card, nil
}

func (p *ProfileStore) Upsert(ctx context.Context, tenant, senderHash string, card *profile.ContactCard) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("profile encode: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO contact_cards (tenant, sender_hash, card, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant, sender_hash) DO UPDATE
		 SET card = excluded.card, updated_at = excluded.updated_at`,
		tenant, senderHash, raw, millis(time.Now()),
	)
	if err != nil {
		return infra("profile upsert", err)
	}
	return nil
}

// TurnStore keeps long-term conversation history.
type TurnStore struct {
	db *sql.DB
}

func (t *TurnStore) Append(ctx context.Context, tenant, senderHash string, turns []store.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return infra("turns begin", err)
	}
	defer tx.Rollback()

	for _, turn := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (tenant, sender_hash, role, body, at)
			 VALUES (?, ?, ?, ?, ?)`,
			tenant, senderHash, turn.Role, turn.Text, millis(turn.At),
		); err != nil {
			return infra("turns insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return infra("turns commit", err)
	}
	return nil
}

func (t *TurnStore) Recent(ctx context.Context, tenant, senderHash string, limit int) ([]store.Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT role, body, at FROM turns
		 WHERE tenant = ? AND sender_hash = ?
		 ORDER BY at DESC, id DESC LIMIT ?`,
		tenant, senderHash, limit,
	)
	if err != nil {
		return nil, infra("turns recent", err)
	}
	defer rows.Close()

	var out []store.Turn
	for rows.Next() {
		var turn store.Turn
		var at int64
		if err := rows.Scan(&turn.Role, &turn.Text, &at); err != nil {
			return nil, infra("turns scan", err)
		}
		turn.At = time.UnixMilli(at)
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("turns recent", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AuditStore appends to the immutable decision/transition trail.
type AuditStore struct {
	db *sql.DB
}

func (a *AuditStore) Append(ctx context.Context, rec store.AuditRecord) error {
	var detail []byte
	if len(rec.Detail) > 0 {
		detail, _ = json.Marshal(rec.Detail)
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant, sender_hash, message_id, kind, reason, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tenant, rec.SenderHash, rec.MessageID, rec.Kind, rec.Reason, detail, millis(rec.At),
	)
	if err != nil {
		return infra("audit append", err)
	}
	return nil
}
