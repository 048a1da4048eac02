package transport

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/identity"
	"github.com/ashureev/deadlinebot/internal/logfields"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// MessageHandler processes one inbound message and returns the replies for
// the sender. conversation.Engine satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, in chat.Inbound) ([]chat.Reply, error)
}

// WebSocketHandler serves interactive chat sessions over WebSocket.
type WebSocketHandler struct {
	handler        MessageHandler
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	now            func() time.Time
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(handler MessageHandler, hub *Hub, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		handler:        handler,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		now:            time.Now,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	userName := identity.UserNameFromContext(r.Context())
	slog.Info("WebSocket connection request", logfields.UserID(key.UserID), logfields.ChannelID(key.ChannelID), "ip", identity.IPFromRequest(r))

	if key.UserID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", logfields.Error(err), logfields.UserID(key.UserID))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", logfields.Error(closeErr), logfields.UserID(key.UserID))
		}
	}()

	connID := uuid.NewString()
	c := h.hub.register(key.ChannelID, connID, ws)
	defer h.hub.unregister(key.ChannelID, connID, c)

	h.readLoop(r.Context(), c, key, userName)
	slog.Info("Chat session ended", logfields.UserID(key.UserID), logfields.ChannelID(key.ChannelID))
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, c *conn, key chat.SessionKey, userName string) {
	for {
		var msg frame
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", logfields.UserID(key.UserID))
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", logfields.Error(err), logfields.UserID(key.UserID))
			}
			return
		}

		switch msg.Type {
		case frameMessage:
			if !h.dispatch(ctx, c, chat.Inbound{Key: key, UserName: userName, Text: msg.Text, ReceivedAt: h.now()}) {
				return
			}
		case framePing:
			if err := c.write(ctx, frame{Type: framePong}); err != nil {
				slog.Debug("Failed to send pong", logfields.Error(err))
				return
			}
		default:
			slog.Debug("Ignoring unknown frame", "type", msg.Type, logfields.UserID(key.UserID))
		}
	}
}

// dispatch runs one message through the handler and writes the replies back
// on the originating connection. It returns false when the connection is dead.
func (h *WebSocketHandler) dispatch(ctx context.Context, c *conn, in chat.Inbound) bool {
	replies, err := h.handler.Handle(ctx, in)
	if err != nil {
		slog.Error("Message handling failed", logfields.Error(err), logfields.UserID(in.Key.UserID))
		if werr := c.write(ctx, frame{Type: frameError, Text: "message could not be processed"}); werr != nil {
			return false
		}
		return true
	}
	for _, reply := range replies {
		if err := c.write(ctx, replyFrame(reply)); err != nil {
			slog.Debug("Failed to write reply", logfields.Error(err), logfields.UserID(in.Key.UserID))
			return false
		}
	}
	return true
}
