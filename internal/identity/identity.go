// Package identity provides anonymous per-device chat identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
)

const (
	AnonCookieName    = "deadlinebot_anon_id"
	ChannelHeaderName = "X-Chat-Channel-ID"
	NameHeaderName    = "X-Chat-User-Name"
	anonCookieMaxAge  = 180 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	userNameKey
	channelIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UserNameFromContext extracts the display name from the request context.
func UserNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userNameKey).(string); ok {
		return v
	}
	return ""
}

// ChannelIDFromContext extracts the channel ID. It defaults to the user ID,
// the equivalent of a private chat.
func ChannelIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(channelIDKey).(string); ok && v != "" {
		return v
	}
	return UserIDFromContext(ctx)
}

// SessionKeyFromContext returns the conversation key of the request.
func SessionKeyFromContext(ctx context.Context) chat.SessionKey {
	return chat.SessionKey{UserID: UserIDFromContext(ctx), ChannelID: ChannelIDFromContext(ctx)}
}

// WithIdentity returns ctx carrying the given identity. Used by transports
// that authenticate outside HTTP and by tests.
func WithIdentity(ctx context.Context, userID, userName, channelID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, userNameKey, userName)
	return context.WithValue(ctx, channelIDKey, channelID)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// sanitizeChannelID returns "" for anything that is not a safe identifier.
func sanitizeChannelID(id string) string {
	id = strings.TrimSpace(id)
	if !channelIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func deriveUserName(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

func userNameFromRequest(r *http.Request, userID string) string {
	name := strings.TrimSpace(r.Header.Get(NameHeaderName))
	if name == "" || len(name) > 64 {
		return deriveUserName(userID)
	}
	return name
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func channelIDFromRequest(r *http.Request) string {
	cid := r.Header.Get(ChannelHeaderName)
	if cid == "" {
		cid = r.URL.Query().Get("channel")
	}
	return sanitizeChannelID(cid)
}

// Middleware injects an anonymous per-device user identity and the chat
// channel of the request.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), userID, userNameFromRequest(r, userID), channelIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
