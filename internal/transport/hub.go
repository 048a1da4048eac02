// Package transport connects chat clients to the conversation engine and
// delivers outbound messages over WebSocket and NATS.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/logfields"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrRecipientOffline is returned when no live connection is registered for a
// recipient channel.
var ErrRecipientOffline = errors.New("recipient has no live connection")

// frame is the JSON envelope exchanged with WebSocket clients.
type frame struct {
	Type           string     `json:"type"`
	Text           string     `json:"text,omitempty"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
}

const (
	frameMessage = "message"
	frameReply   = "reply"
	framePing    = "ping"
	framePong    = "pong"
	frameError   = "error"
)

func replyFrame(r chat.Reply) frame {
	return frame{Type: frameReply, Text: r.Text, Keyboard: r.Keyboard, RemoveKeyboard: r.RemoveKeyboard}
}

// conn serializes writes to one WebSocket. Hub pushes and handler replies can
// race otherwise.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, v)
}

// Hub tracks live WebSocket connections per recipient channel. A channel may
// have several connections (browser tabs); all of them receive pushes.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[string]*conn)}
}

// register adds a connection for a channel. An existing connection with the
// same id is closed and replaced.
func (h *Hub) register(channelID, connID string, ws *websocket.Conn) *conn {
	c := &conn{ws: ws}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[channelID]; !ok {
		h.active[channelID] = make(map[string]*conn)
	}
	if existing, ok := h.active[channelID][connID]; ok && existing.ws != ws && existing.ws != nil {
		_ = existing.ws.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.active[channelID][connID] = c
	slog.Info("Chat connection registered", logfields.ChannelID(channelID), "conn_id", connID)
	return c
}

// unregister removes a connection if it is still the current one for its id.
func (h *Hub) unregister(channelID, connID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[channelID]
	if !ok {
		return
	}
	if current, exists := conns[connID]; exists && current == c {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.active, channelID)
		}
		slog.Info("Chat connection unregistered", logfields.ChannelID(channelID), "conn_id", connID)
	}
}

// Online reports how many connections a channel has.
func (h *Hub) Online(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[channelID])
}

func (h *Hub) snapshot(channelID string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*conn, 0, len(h.active[channelID]))
	for _, c := range h.active[channelID] {
		conns = append(conns, c)
	}
	return conns
}

// Send pushes msg to every live connection of its recipient. It succeeds if at
// least one connection accepted the frame.
func (h *Hub) Send(ctx context.Context, msg chat.Outbound) error {
	conns := h.snapshot(msg.Recipient)
	if len(conns) == 0 {
		return fmt.Errorf("%w: %s", ErrRecipientOffline, msg.Recipient)
	}

	var errs []error
	delivered := 0
	for _, c := range conns {
		if err := c.write(ctx, replyFrame(msg.Reply)); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("push to %s: %w", msg.Recipient, errors.Join(errs...))
	}
	return nil
}

// CloseAll closes every registered connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channelID, conns := range h.active {
		for _, c := range conns {
			if c.ws != nil {
				_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
			}
		}
		delete(h.active, channelID)
	}
}
