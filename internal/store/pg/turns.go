package pg

import (
	"context"
	"database/sql"

	"github.com/tidelane/convocore/internal/store"
)

// TurnStore keeps long-term conversation history beyond the session window.
type TurnStore struct {
	db *sql.DB
}

func NewTurnStore(db *sql.DB) *TurnStore {
	return &TurnStore{db: db}
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
			 VALUES ($1, $2, $3, $4, $5)`,
			tenant, senderHash, turn.Role, turn.Text, turn.At,
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
		 WHERE tenant = $1 AND sender_hash = $2
		 ORDER BY at DESC, id DESC LIMIT $3`,
		tenant, senderHash, limit,
	)
	if err != nil {
		return nil, infra("turns recent", err)
	}
	defer rows.Close()

	var out []store.Turn
	for rows.Next() {
		var turn store.Turn
		if err := rows.Scan(&turn.Role, &turn.Text, &turn.At); err != nil {
			return nil, infra("turns scan", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("turns recent", err)
	}
	// Oldest first, matching session history order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
