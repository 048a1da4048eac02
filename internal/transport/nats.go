package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/logfields"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "deadlinebot"

// natsInbound is the message an external chat gateway publishes on
// <prefix>.inbound.
type natsInbound struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	UserName  string `json:"user_name,omitempty"`
	Text      string `json:"text"`
}

// NATSBridge lets chat gateways talk to the bot over NATS. Inbound messages
// are handled like WebSocket messages; replies and pushes are published on
// <prefix>.outbound.<recipient>.
type NATSBridge struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	handler MessageHandler
	prefix  string
	now     func() time.Time
}

// NewNATSBridge connects to the NATS server at url.
func NewNATSBridge(url, prefix string, handler MessageHandler) (*NATSBridge, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	conn, err := nats.Connect(url,
		nats.Name("deadlinebot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := newBridge(handler, prefix)
	b.conn = conn
	slog.Info("NATS bridge connected", "url", url, "inbound_subject", b.InboundSubject())
	return b, nil
}

func newBridge(handler MessageHandler, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSBridge{handler: handler, prefix: prefix, now: time.Now}
}

// InboundSubject is the subject the bridge consumes.
func (b *NATSBridge) InboundSubject() string {
	return b.prefix + ".inbound"
}

// OutboundSubject is the subject messages for recipient are published on.
func (b *NATSBridge) OutboundSubject(recipient string) string {
	return b.prefix + ".outbound." + subjectToken(recipient)
}

// subjectToken maps a recipient onto a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Start subscribes to the inbound subject. Handling stops when ctx is done.
func (b *NATSBridge) Start(ctx context.Context) error {
	sub, err := b.conn.Subscribe(b.InboundSubject(), func(m *nats.Msg) {
		outs, err := b.handleInbound(ctx, m.Data)
		if err != nil {
			slog.Warn("Dropping NATS message", logfields.Error(err))
			return
		}
		for _, out := range outs {
			if err := b.Send(ctx, out); err != nil {
				slog.Warn("Failed to publish reply", logfields.Error(err), logfields.Recipient(out.Recipient))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.InboundSubject(), err)
	}
	b.sub = sub
	return nil
}

func (b *NATSBridge) handleInbound(ctx context.Context, data []byte) ([]chat.Outbound, error) {
	var msg natsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode inbound message: %w", err)
	}
	if msg.UserID == "" {
		return nil, errors.New("inbound message has no user_id")
	}
	if msg.ChannelID == "" {
		msg.ChannelID = msg.UserID
	}

	in := chat.Inbound{
		Key:        chat.SessionKey{UserID: msg.UserID, ChannelID: msg.ChannelID},
		UserName:   msg.UserName,
		Text:       msg.Text,
		ReceivedAt: b.now(),
	}
	replies, err := b.handler.Handle(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("handle message from %s: %w", in.Key, err)
	}

	outs := make([]chat.Outbound, 0, len(replies))
	for _, r := range replies {
		outs = append(outs, chat.Outbound{Recipient: msg.ChannelID, Reply: r})
	}
	return outs, nil
}

// Send publishes msg on the recipient's outbound subject.
func (b *NATSBridge) Send(ctx context.Context, msg chat.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	if err := b.conn.Publish(b.OutboundSubject(msg.Recipient), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (b *NATSBridge) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		slog.Debug("NATS drain failed", logfields.Error(err))
		b.conn.Close()
	}
}
