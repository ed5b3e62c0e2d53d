package senders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/tidelane/convocore/internal/bus"
)

// Discord delivers payloads through a bot session. The session is opened
// lazily-free: discordgo's REST calls work without a gateway connection.
type Discord struct {
	session *discordgo.Session
	limiter *chatLimiter
	log     *slog.Logger
}

func NewDiscord(token string, log *slog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discord{
		session: session,
		limiter: newChatLimiter(2, 5),
		log:     log,
	}, nil
}

func (d *Discord) Send(ctx context.Context, payload bus.OutboundPayload) (bus.SendResult, error) {
	if err := d.limiter.wait(ctx, payload.ChatID); err != nil {
		return failed(err), classify("discord rate wait", err)
	}

	var (
		sent *discordgo.Message
		err  error
	)
	if payload.ReplyTo != "" {
		sent, err = d.session.ChannelMessageSendReply(payload.ChatID, payload.Text, &discordgo.MessageReference{
			MessageID: payload.ReplyTo,
			ChannelID: payload.ChatID,
		}, discordgo.WithContext(ctx))
	} else {
		sent, err = d.session.ChannelMessageSend(payload.ChatID, payload.Text, discordgo.WithContext(ctx))
	}
	if err != nil {
		return failed(err), classify("discord send", err)
	}
	d.log.Debug("discord.sent", "channel_id", payload.ChatID, "message_id", sent.ID)
	return bus.SendResult{Sent: true, MessageID: sent.ID}, nil
}

// Listen opens the gateway connection and hands each user message to
// handle. Blocks until ctx is cancelled.
func (d *Discord) Listen(ctx context.Context, tenant string, handle Handler) error {
	d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.Content == "" {
			return
		}
		handle(ctx, bus.InboundMessage{
			MessageID: "dc:" + m.ID,
			Channel:   "discord",
			SenderID:  m.Author.ID,
			ChatID:    m.ChannelID,
			Text:      m.Content,
			Timestamp: m.Timestamp,
			Tenant:    tenant,
		})
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	d.log.Info("discord.listening")

	<-ctx.Done()
	return d.session.Close()
}
