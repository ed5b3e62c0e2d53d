package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tidelane/convocore/internal/store"
)

// AuditStore appends to the immutable decision/transition trail.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (a *AuditStore) Append(ctx context.Context, rec store.AuditRecord) error {
	var detail []byte
	if len(rec.Detail) > 0 {
		detail, _ = json.Marshal(rec.Detail)
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant, sender_hash, message_id, kind, reason, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Tenant, rec.SenderHash, rec.MessageID, rec.Kind, rec.Reason, detail, rec.At,
	)
	if err != nil {
		return infra("audit append", err)
	}
	return nil
}
