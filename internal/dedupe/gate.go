// Package dedupe claims and finalizes message processing exactly once per
// message id under at-least-once channel delivery.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidelane/convocore/internal/store"
)

// Default marker TTLs. The processing TTL is short so a crashed worker
// does not block redelivery forever; the processed TTL covers the channel's
// redelivery horizon.
const (
	DefaultProcessingTTL = 2 * time.Minute
	DefaultProcessedTTL  = 24 * time.Hour
)

// Gate wraps a DedupeStore with the idempotency protocol: a "processing"
// marker claims in-flight work, a "processed" marker records completion,
// and either marker seen by a concurrent caller means duplicate.
type Gate struct {
	store         store.DedupeStore
	processingTTL time.Duration
	processedTTL  time.Duration
	log           *slog.Logger
}

// GateConfig configures a Gate; zero TTLs get defaults.
type GateConfig struct {
	Store         store.DedupeStore
	ProcessingTTL time.Duration
	ProcessedTTL  time.Duration
	Logger        *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = DefaultProcessingTTL
	}
	if cfg.ProcessedTTL <= 0 {
		cfg.ProcessedTTL = DefaultProcessedTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		store:         cfg.Store,
		processingTTL: cfg.ProcessingTTL,
		processedTTL:  cfg.ProcessedTTL,
		log:           cfg.Logger,
	}
}

func dedupeKey(messageID string) string { return "dedupe:" + messageID }

// IsDuplicate reports whether any live marker exists for the message id.
func (g *Gate) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	_, err := g.store.Get(ctx, dedupeKey(messageID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("dedupe lookup: %w", err)
}

// MarkProcessing claims the message for in-flight work. Returns false when
// another worker already holds a marker.
func (g *Gate) MarkProcessing(ctx context.Context, messageID string) (bool, error) {
	ok, err := g.store.SetIfAbsent(ctx, dedupeKey(messageID), store.MarkerProcessing, g.processingTTL)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return ok, nil
}

// MarkProcessed upgrades the claim to a completion marker with the long TTL.
// The upgrade is a single unconditional write: a redelivery racing with it
// sees either the live processing marker or the processed one, never a gap
// it could reclaim.
func (g *Gate) MarkProcessed(ctx context.Context, messageID string) error {
	if err := g.store.Set(ctx, dedupeKey(messageID), store.MarkerProcessed, g.processedTTL); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// UnmarkProcessing releases the in-flight claim so a later redelivery can
// retry. Used on unrecoverable processing failures; best-effort.
func (g *Gate) UnmarkProcessing(ctx context.Context, messageID string) {
	key := dedupeKey(messageID)
	marker, err := g.store.Get(ctx, key)
	if err != nil || marker != store.MarkerProcessing {
		return
	}
	if err := g.store.Delete(ctx, key); err != nil {
		g.log.Warn("dedupe.unmark_failed", "message_id", messageID, "error", err)
	}
}
