// Package chat defines the message contract between transports and the bot core.
package chat

import (
	"context"
	"time"
)

// SessionKey identifies one conversation: a user talking on one channel.
type SessionKey struct {
	UserID    string
	ChannelID string
}

// String returns the key in user:channel form.
func (k SessionKey) String() string {
	return k.UserID + ":" + k.ChannelID
}

// Inbound is a text message received from a user.
type Inbound struct {
	Key        SessionKey
	UserName   string
	Text       string
	ReceivedAt time.Time
}

// Reply is a text block sent back to a user, optionally with a reply keyboard.
type Reply struct {
	Text           string     `json:"text"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
}

// Outbound addresses a reply to a recipient channel.
type Outbound struct {
	Recipient string `json:"recipient"`
	Reply
}

// Sender delivers outbound messages. Delivery is fire-and-forget: a nil error
// means the transport accepted the message, not that the user read it.
type Sender interface {
	Send(ctx context.Context, msg Outbound) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Outbound) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Outbound) error {
	return f(ctx, msg)
}
