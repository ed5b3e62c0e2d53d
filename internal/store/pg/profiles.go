package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidelane/convocore/internal/profile"
)

// ProfileStore holds the authoritative ContactCard per (tenant, sender hash)
// as JSONB.
type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (p *ProfileStore) GetOrCreate(ctx context.Context, tenant, senderHash string) (*profile.ContactCard, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT card FROM contact_cards WHERE tenant = $1 AND sender_hash = $2`,
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
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant, sender_hash) DO UPDATE
		 SET card = EXCLUDED.card, updated_at = EXCLUDED.updated_at`,
		tenant, senderHash, raw, time.Now(),
	)
	if err != nil {
		return infra("profile upsert", err)
	}
	return nil
}
