package senders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tidelane/convocore/internal/bus"
)

// Telegram delivers payloads through the Bot API.
type Telegram struct {
	bot     *telego.Bot
	limiter *chatLimiter
	log     *slog.Logger
}

func NewTelegram(token string, log *slog.Logger) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Telegram{
		bot: bot,
		// Bot API flood control allows roughly one message per second per chat.
		limiter: newChatLimiter(1, 3),
		log:     log,
	}, nil
}

func (t *Telegram) Send(ctx context.Context, payload bus.OutboundPayload) (bus.SendResult, error) {
	chatID, err := strconv.ParseInt(payload.ChatID, 10, 64)
	if err != nil {
		return failed(err), fmt.Errorf("telegram chat id %q: %w", payload.ChatID, err)
	}
	if err := t.limiter.wait(ctx, payload.ChatID); err != nil {
		return failed(err), classify("telegram rate wait", err)
	}

	msg := tu.Message(tu.ID(chatID), payload.Text)
	if payload.ReplyTo != "" {
		if replyID, err := strconv.Atoi(payload.ReplyTo); err == nil {
			msg.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
		}
	}

	sent, err := t.bot.SendMessage(ctx, msg)
	if err != nil {
		return failed(err), classify("telegram send", err)
	}
	t.log.Debug("telegram.sent", "chat_id", payload.ChatID, "message_id", sent.MessageID)
	return bus.SendResult{Sent: true, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Listen long-polls the Bot API and hands each text message to handle.
// Blocks until ctx is cancelled or polling fails to start.
func (t *Telegram) Listen(ctx context.Context, tenant string, handle Handler) error {
	updates, err := t.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}
	t.log.Info("telegram.listening", "username", t.bot.Username())

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				t.log.Info("telegram.updates_closed")
				return nil
			}
			m := update.Message
			if m == nil || m.From == nil || m.From.IsBot || m.Text == "" {
				continue
			}
			// Telegram message ids are only unique per chat.
			handle(ctx, bus.InboundMessage{
				MessageID: fmt.Sprintf("tg:%d:%d", m.Chat.ID, m.MessageID),
				Channel:   "telegram",
				SenderID:  strconv.FormatInt(m.From.ID, 10),
				ChatID:    strconv.FormatInt(m.Chat.ID, 10),
				Text:      m.Text,
				Timestamp: time.Unix(m.Date, 0),
				Tenant:    tenant,
			})
		}
	}
}
