// Package memory provides map-backed store implementations for tests and
// local development. All types are safe for concurrent use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/store"
)

// NewStores builds a full in-memory store set.
func NewStores() *store.Stores {
	sessions := NewSessionStore()
	dedupe := NewDedupeStore()
	return &store.Stores{
		Sessions: sessions,
		Dedupe:   dedupe,
		Profiles: NewProfileStore(),
		Turns:    NewTurnStore(),
		Audit:    NewAuditStore(),
		Sweepers: []store.Sweeper{sessions, dedupe},
	}
}

type sessionEntry struct {
	payload   []byte
	expiresAt time.Time
}

// SessionStore keeps session payloads in a map with TTL enforcement on read.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]sessionEntry
	now     func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{entries: map[string]sessionEntry{}, now: time.Now}
}

// WithClock overrides the TTL clock. Test hook.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

func (s *SessionStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, nil
}

func (s *SessionStore) Save(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.entries[key] = sessionEntry{payload: cp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

type dedupeEntry struct {
	marker    string
	expiresAt time.Time
}

// DedupeStore provides conditional-set markers with TTLs.
type DedupeStore struct {
	mu      sync.Mutex
	entries map[string]dedupeEntry
	now     func() time.Time
}

func NewDedupeStore() *DedupeStore {
	return &DedupeStore{entries: map[string]dedupeEntry{}, now: time.Now}
}

func (d *DedupeStore) WithClock(now func() time.Time) *DedupeStore {
	d.now = now
	return d
}

func (d *DedupeStore) SetIfAbsent(_ context.Context, key, marker string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok && d.now().Before(e.expiresAt) {
		return false, nil
	}
	d.entries[key] = dedupeEntry{marker: marker, expiresAt: d.now().Add(ttl)}
	return true, nil
}

func (d *DedupeStore) Set(_ context.Context, key, marker string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = dedupeEntry{marker: marker, expiresAt: d.now().Add(ttl)}
	return nil
}

func (d *DedupeStore) Get(_ context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok || d.now().After(e.expiresAt) {
		return "", store.ErrNotFound
	}
	return e.marker, nil
}

func (d *DedupeStore) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
	return nil
}

func (d *DedupeStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for k, e := range d.entries {
		if now.After(e.expiresAt) {
			delete(d.entries, k)
			n++
		}
	}
	return n, nil
}

func profileKey(tenant, senderHash string) string { return tenant + ":" + senderHash }

// ProfileStore keeps ContactCards per (tenant, sender hash).
type ProfileStore struct {
	mu    sync.Mutex
	cards map[string]*profile.ContactCard
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{cards: map[string]*profile.ContactCard{}}
}

func (p *ProfileStore) GetOrCreate(_ context.Context, tenant, senderHash string) (*profile.ContactCard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if card, ok := p.cards[profileKey(tenant, senderHash)]; ok {
		return card.Clone(), nil
	}
	card := &profile.ContactCard{CreatedAt: time.Now()}
	p.cards[profileKey(tenant, senderHash)] = card
	return card.Clone(), nil
}

func (p *ProfileStore) Upsert(_ context.Context, tenant, senderHash string, card *profile.ContactCard) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cards[profileKey(tenant, senderHash)] = card.Clone()
	return nil
}

// TurnStore keeps long-term history in order of arrival.
type TurnStore struct {
	mu    sync.Mutex
	turns map[string][]store.Turn
}

func NewTurnStore() *TurnStore {
	return &TurnStore{turns: map[string][]store.Turn{}}
}

func (t *TurnStore) Append(_ context.Context, tenant, senderHash string, turns []store.Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := profileKey(tenant, senderHash)
	t.turns[key] = append(t.turns[key], turns...)
	return nil
}

func (t *TurnStore) Recent(_ context.Context, tenant, senderHash string, limit int) ([]store.Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.turns[profileKey(tenant, senderHash)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]store.Turn, len(all))
	copy(out, all)
	return out, nil
}

// AuditStore collects records in memory; Records() exposes them to tests.
type AuditStore struct {
	mu      sync.Mutex
	records []store.AuditRecord
}

func NewAuditStore() *AuditStore { return &AuditStore{} }

func (a *AuditStore) Append(_ context.Context, rec store.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *AuditStore) Records() []store.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]store.AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}
