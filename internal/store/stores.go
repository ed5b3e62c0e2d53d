// Package store defines the narrow persistence protocols the decision core
// depends on. Implementations live in store/pg (managed mode), store/sqlite
// (standalone mode), and store/memory (tests, dev).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tidelane/convocore/internal/profile"
)

// ErrUnavailable marks infrastructure failures (store or transport). The
// engine propagates these so idempotency markers roll back and the channel
// redelivers; everything else is recovered locally.
var ErrUnavailable = errors.New("store unavailable")

// IsInfra reports whether err is an infrastructure error.
func IsInfra(err error) bool { return errors.Is(err, ErrUnavailable) }

// ErrNotFound is returned by point lookups that miss.
var ErrNotFound = errors.New("not found")

// Turn is one persisted conversation turn.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Dedupe markers.
const (
	MarkerProcessing = "processing"
	MarkerProcessed  = "processed"
)

// AuditRecord is one entry in the decision/transition trail. Field names
// only, never raw conversation text.
type AuditRecord struct {
	ID         string            `json:"id"`
	Tenant     string            `json:"tenant"`
	SenderHash string            `json:"sender_hash"`
	MessageID  string            `json:"message_id"`
	Kind       string            `json:"kind"`   // "decision", "transition", "guard", "recovery"
	Reason     string            `json:"reason"` // machine-readable reason code
	Detail     map[string]string `json:"detail,omitempty"`
	At         time.Time         `json:"at"`
}

// SessionStore persists session payloads keyed by (tenant, sender hash)
// with a sliding TTL. Payloads are opaque JSON owned by the session
// manager; the store never inspects them.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error) // ErrNotFound on miss or expiry
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DedupeStore provides conditional-set semantics for idempotency markers.
type DedupeStore interface {
	// SetIfAbsent stores marker under key with a TTL and reports whether
	// the claim succeeded (false when a live marker already exists).
	SetIfAbsent(ctx context.Context, key, marker string, ttl time.Duration) (bool, error)
	// Set stores marker under key unconditionally, replacing any existing
	// row whether live or expired. One atomic write.
	Set(ctx context.Context, key, marker string, ttl time.Duration) error
	// Get returns the live marker for key, ErrNotFound when absent/expired.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ProfileStore holds the authoritative ContactCard per (tenant, sender).
type ProfileStore interface {
	GetOrCreate(ctx context.Context, tenant, senderHash string) (*profile.ContactCard, error)
	Upsert(ctx context.Context, tenant, senderHash string, card *profile.ContactCard) error
}

// TurnStore keeps long-term conversation history beyond the session's
// bounded window.
type TurnStore interface {
	Append(ctx context.Context, tenant, senderHash string, turns []Turn) error
	Recent(ctx context.Context, tenant, senderHash string, limit int) ([]Turn, error)
}

// AuditStore appends to the immutable decision/transition trail.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// Sweeper removes expired rows. SQL-backed stores enforce TTLs lazily on
// read; the scheduled sweep keeps tables from growing unbounded.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Sessions SessionStore
	Dedupe   DedupeStore
	Profiles ProfileStore
	Turns    TurnStore
	Audit    AuditStore

	// Sweepers collects the backends that need scheduled expiry passes.
	Sweepers []Sweeper
}

// Config selects and parameterizes a storage backend.
type Config struct {
	PostgresDSN string // managed mode; from env only
	SQLitePath  string // standalone mode database file
}
