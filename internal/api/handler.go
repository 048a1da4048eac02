// Package api provides HTTP handlers for the chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/identity"
	"github.com/ashureev/deadlinebot/internal/logfields"
	"github.com/ashureev/deadlinebot/internal/transport"
	"github.com/go-chi/chi/v5"
)

const maxMessageBytes = 4 << 10

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RowCounter reports the size of the shared deadline table.
type RowCounter interface {
	Len() int
	LoadedAt() time.Time
}

// Handler serves the chat HTTP endpoints.
type Handler struct {
	messages  transport.MessageHandler
	db        Pinger
	deadlines RowCounter
	now       func() time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(messages transport.MessageHandler, db Pinger, deadlines RowCounter) *Handler {
	return &Handler{
		messages:  messages,
		db:        db,
		deadlines: deadlines,
		now:       time.Now,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the identity-scoped API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Post("/messages", h.PostMessage)
	})
}

// GetMe returns the caller's chat identity.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	if key.UserID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"user_id":    key.UserID,
		"channel_id": key.ChannelID,
		"user_name":  identity.UserNameFromContext(r.Context()),
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Replies []chat.Reply `json:"replies"`
}

// PostMessage feeds one message into the conversation and returns the replies.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	if key.UserID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	replies, err := h.messages.Handle(r.Context(), chat.Inbound{
		Key:        key,
		UserName:   identity.UserNameFromContext(r.Context()),
		Text:       req.Text,
		ReceivedAt: h.now(),
	})
	if err != nil {
		slog.Error("Message handling failed", logfields.Error(err), logfields.UserID(key.UserID), logfields.ChannelID(key.ChannelID))
		Error(w, http.StatusInternalServerError, "message could not be processed")
		return
	}
	if replies == nil {
		replies = []chat.Reply{}
	}
	JSON(w, http.StatusOK, messageResponse{Replies: replies})
}

// Health reports database reachability and the shared deadline table size.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"status": "ok"}
	status := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			slog.Warn("Health check failed", logfields.Error(err))
			body["status"] = "degraded"
			body["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.deadlines != nil {
		body["deadlines"] = h.deadlines.Len()
		if loaded := h.deadlines.LoadedAt(); !loaded.IsZero() {
			body["deadlines_loaded_at"] = loaded.UTC().Format(time.RFC3339)
		}
	}
	JSON(w, status, body)
}
