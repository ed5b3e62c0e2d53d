// Package senders adapts outbound payloads to channel APIs (Telegram,
// Discord, a WhatsApp bridge). Each sender paces per-chat sends with a rate
// limiter so a burst of replies does not trip channel flood control.
package senders

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tidelane/convocore/internal/bus"
	"github.com/tidelane/convocore/internal/store"
)

// Handler consumes one normalized inbound message. Listeners invoke it
// synchronously; the handler decides whether to fan work out.
type Handler func(ctx context.Context, msg bus.InboundMessage)

// chatLimiter hands out one token-bucket limiter per chat id.
type chatLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newChatLimiter(perSecond float64, burst int) *chatLimiter {
	return &chatLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (c *chatLimiter) wait(ctx context.Context, chatID string) error {
	c.mu.Lock()
	lim, ok := c.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(c.limit, c.burst)
		c.limiters[chatID] = lim
	}
	c.mu.Unlock()
	return lim.Wait(ctx)
}

// transient reports whether a send failure is worth a redelivery: network
// trouble and timeouts roll the idempotency marker back, channel-level
// rejections (blocked bot, dead chat) do not.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify wraps transient failures so the engine sees them as
// infrastructure errors.
func classify(op string, err error) error {
	if transient(err) {
		return fmt.Errorf("%s: %v: %w", op, err, store.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// failed builds the SendResult for an error outcome.
func failed(err error) bus.SendResult {
	return bus.SendResult{Sent: false, Err: err.Error()}
}
