// Package session resolves, recovers, and persists per-sender conversation
// state. The Session struct is exclusively owned and mutated here; other
// components read it through the engine.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/tidelane/convocore/internal/fsm"
	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/store"
)

// HistoryCap bounds the in-session turn window. Older turns live in the
// long-term turn store.
const HistoryCap = 20

// Context carries tenant and track routing for one conversation.
type Context struct {
	Tenant             string   `json:"tenant"`
	Track              string   `json:"track,omitempty"`
	DynamicContextRefs []string `json:"dynamic_context_refs,omitempty"`
}

// Session is the per-sender conversation state. Persisted shape and domain
// type are the same: the manager serializes it as-is.
type Session struct {
	ID         string               `json:"id"`
	SenderHash string               `json:"sender_hash"`
	State      fsm.State            `json:"state_name"`
	Context    Context              `json:"context"`
	History    []store.Turn         `json:"bounded_history"`
	Card       *profile.ContactCard `json:"contact_card,omitempty"`
	TurnCount  int                  `json:"turn_count"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
}

// HashSender derives the pseudonymous sender key from a raw channel
// identifier. The raw identifier is never persisted.
func HashSender(rawID string) string {
	sum := sha256.Sum256([]byte(rawID))
	return hex.EncodeToString(sum[:])
}

// newSession creates an empty session for a sender.
func newSession(senderHash, tenant string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:         uuid.NewString(),
		SenderHash: senderHash,
		State:      fsm.StateInitial,
		Context:    Context{Tenant: tenant},
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Expired reports whether the session's TTL has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// RecordTurn appends one inbound/outbound pair to the bounded history and
// bumps the turn count. The oldest turns fall off the window.
func (s *Session) RecordTurn(userText, assistantText string, at time.Time) {
	s.History = append(s.History,
		store.Turn{Role: "user", Text: userText, At: at},
		store.Turn{Role: "assistant", Text: assistantText, At: at},
	)
	if over := len(s.History) - HistoryCap; over > 0 {
		s.History = append([]store.Turn(nil), s.History[over:]...)
	}
	s.TurnCount++
	s.UpdatedAt = at
}
