package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidelane/convocore/internal/fsm"
	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/store"
)

// Manager handles session lifecycle: resolve-or-create with best-effort
// recovery, persist with a sliding TTL, close on terminal state.
type Manager struct {
	sessions store.SessionStore
	profiles store.ProfileStore
	turns    store.TurnStore
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	Sessions store.SessionStore
	Profiles store.ProfileStore
	Turns    store.TurnStore
	TTL      time.Duration
	Clock    func() time.Time // nil = time.Now
	Logger   *slog.Logger     // nil = slog.Default
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		sessions: cfg.Sessions,
		profiles: cfg.Profiles,
		turns:    cfg.Turns,
		ttl:      cfg.TTL,
		now:      cfg.Clock,
		log:      cfg.Logger,
	}
}

// Key builds the session store key for a (tenant, sender hash) pair.
// Exactly one live session exists per key.
func Key(tenant, senderHash string) string {
	return fmt.Sprintf("session:%s:%s", tenant, senderHash)
}

// Resolve returns the live session for the sender, or a fresh one seeded
// from recovered profile and recent history. Store transport failures
// propagate; a malformed persisted payload recovers to an empty session.
func (m *Manager) Resolve(ctx context.Context, tenant, senderHash string) (*Session, error) {
	key := Key(tenant, senderHash)
	now := m.now()

	payload, err := m.sessions.Get(ctx, key)
	switch {
	case err == nil:
		var s Session
		if jsonErr := json.Unmarshal(payload, &s); jsonErr != nil {
			m.log.Warn("session.payload_malformed", "key", key, "error", jsonErr)
			break // fall through to recovery
		}
		if !s.Expired(now) {
			return &s, nil
		}
	case store.IsInfra(err):
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	s := newSession(senderHash, tenant, now, m.ttl)
	m.recover(ctx, s)
	return s, nil
}

// recover seeds a fresh session with the last known ContactCard and recent
// turns, fetched concurrently. Any recovery error degrades to an empty
// seed rather than failing the request.
func (m *Manager) recover(ctx context.Context, s *Session) {
	type cardResult struct {
		card *profile.ContactCard
		err  error
	}
	cardCh := make(chan cardResult, 1)
	turnsCh := make(chan []store.Turn, 1)

	go func() {
		card, err := m.profiles.GetOrCreate(ctx, s.Context.Tenant, s.SenderHash)
		cardCh <- cardResult{card: card, err: err}
	}()
	go func() {
		turns, err := m.turns.Recent(ctx, s.Context.Tenant, s.SenderHash, HistoryCap)
		if err != nil {
			m.log.Warn("session.recovery_turns_failed", "sender", s.SenderHash, "error", err)
			turnsCh <- nil
			return
		}
		turnsCh <- turns
	}()

	cr := <-cardCh
	if cr.err != nil {
		m.log.Warn("session.recovery_card_failed", "sender", s.SenderHash, "error", cr.err)
	} else if !cr.card.IsEmpty() {
		s.Card = cr.card
		if s.Card.Track != "" {
			s.Context.Track = s.Card.Track
		}
	}
	if turns := <-turnsCh; len(turns) > 0 {
		s.History = turns
	}
}

// Persist saves the session with a sliding TTL.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	now := m.now()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := m.sessions.Save(ctx, Key(s.Context.Tenant, s.SenderHash), payload, m.ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Close deletes the session. Called on terminal states or explicit request.
func (m *Manager) Close(ctx context.Context, s *Session) error {
	if err := m.sessions.Delete(ctx, Key(s.Context.Tenant, s.SenderHash)); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// Terminal reports whether the session has reached a terminal state.
func (m *Manager) Terminal(s *Session) bool { return fsm.IsTerminal(s.State) }

