package senders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidelane/convocore/internal/bus"
	"github.com/tidelane/convocore/internal/store"
)

// WhatsApp delivers payloads to a WhatsApp bridge over WebSocket. The
// bridge (whatsapp-web.js based) speaks the actual WhatsApp protocol; this
// sender just writes JSON frames and reconnects when the socket drops.
type WhatsApp struct {
	bridgeURL string
	limiter   *chatLimiter
	log       *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWhatsApp(bridgeURL string, log *slog.Logger) (*WhatsApp, error) {
	if bridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	w := &WhatsApp{
		bridgeURL: bridgeURL,
		limiter:   newChatLimiter(1, 3),
		log:       log,
	}
	if err := w.connect(); err != nil {
		// The first Send retries; a down bridge must not block startup.
		log.Warn("whatsapp.bridge_unreachable", "url", bridgeURL, "error", err)
	}
	return w, nil
}

type bridgeFrame struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

func (w *WhatsApp) Send(ctx context.Context, payload bus.OutboundPayload) (bus.SendResult, error) {
	if err := w.limiter.wait(ctx, payload.ChatID); err != nil {
		return failed(err), classify("whatsapp rate wait", err)
	}

	frame, err := json.Marshal(bridgeFrame{
		Type:    "message",
		To:      payload.ChatID,
		Content: payload.Text,
		ReplyTo: payload.ReplyTo,
	})
	if err != nil {
		return failed(err), fmt.Errorf("whatsapp frame: %w", err)
	}

	if err := w.write(frame); err != nil {
		// One reconnect attempt before giving up on this delivery.
		if rerr := w.connect(); rerr != nil {
			return failed(err), fmt.Errorf("whatsapp bridge down: %v: %w", rerr, store.ErrUnavailable)
		}
		if err = w.write(frame); err != nil {
			return failed(err), fmt.Errorf("whatsapp send: %v: %w", err, store.ErrUnavailable)
		}
	}
	return bus.SendResult{Sent: true}, nil
}

type bridgeInbound struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	From     string `json:"from"`
	Chat     string `json:"chat"`
	Content  string `json:"content"`
	FromName string `json:"from_name,omitempty"`
}

// Listen reads inbound frames from the bridge and hands each message to
// handle, reconnecting with backoff when the socket drops. Blocks until
// ctx is cancelled.
func (w *WhatsApp) Listen(ctx context.Context, tenant string, handle Handler) error {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		if conn == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if err := w.connect(); err != nil {
				w.log.Warn("whatsapp.reconnect_failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			w.log.Warn("whatsapp.read_error", "error", err)
			w.mu.Lock()
			if w.conn == conn {
				w.conn.Close()
				w.conn = nil
			}
			w.mu.Unlock()
			continue
		}

		var frame bridgeInbound
		if err := json.Unmarshal(data, &frame); err != nil {
			w.log.Warn("whatsapp.bad_frame", "error", err)
			continue
		}
		if frame.Type != "message" || frame.Content == "" {
			continue
		}
		handle(ctx, bus.InboundMessage{
			MessageID: "wa:" + frame.ID,
			Channel:   "whatsapp",
			SenderID:  frame.From,
			ChatID:    frame.Chat,
			Text:      frame.Content,
			Timestamp: time.Now(),
			Tenant:    tenant,
			Metadata:  map[string]string{"from_name": frame.FromName},
		})
	}
}

func (w *WhatsApp) write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func (w *WhatsApp) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(w.bridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", w.bridgeURL, err)
	}

	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = conn
	w.mu.Unlock()

	w.log.Info("whatsapp.bridge_connected", "url", w.bridgeURL)
	return nil
}

// Close shuts the bridge socket down.
func (w *WhatsApp) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}
