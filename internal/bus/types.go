package bus

import (
	"context"
	"time"
)

// InboundMessage represents one normalized message received from a channel
// (WhatsApp, Telegram, Discord, etc.). Produced by a channel-specific
// normalizer; immutable once constructed.
type InboundMessage struct {
	MessageID string            `json:"message_id"`
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Text      string            `json:"text"`
	Media     []string          `json:"media,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Tenant    string            `json:"tenant,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Message types for outbound payloads.
const (
	TypeText     = "text"
	TypeReaction = "reaction"
	TypeTemplate = "template"
)

// OutboundPayload is the wire-neutral reply handed to a Sender.
type OutboundPayload struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Text     string            `json:"text"`
	Type     string            `json:"type"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SendResult reports the outcome of a send attempt.
type SendResult struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"message_id,omitempty"`
	Err       string `json:"err,omitempty"`
}

// Sender delivers an outbound payload to its channel.
type Sender interface {
	Send(ctx context.Context, payload OutboundPayload) (SendResult, error)
}

// Normalizer turns a raw channel payload into ordered inbound messages.
// Implemented by channel adapters outside this module.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) ([]InboundMessage, error)
}

// BuildPayload constructs the outbound payload for a reply. A reaction
// reply without a message to react to degrades to plain text since most
// channels reject dangling reactions.
func BuildPayload(msg InboundMessage, text, msgType string) OutboundPayload {
	p := OutboundPayload{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Text:    text,
		Type:    msgType,
	}
	if p.Type == "" {
		p.Type = TypeText
	}
	if p.Type == TypeReaction {
		if msg.MessageID == "" {
			p.Type = TypeText
		} else {
			p.ReplyTo = msg.MessageID
		}
	}
	return p
}
