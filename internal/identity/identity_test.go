package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/deadlinebot/internal/chat"
)

func serve(t *testing.T, req *http.Request) (chat.SessionKey, string, *httptest.ResponseRecorder) {
	t.Helper()
	var key chat.SessionKey
	var name string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		key = SessionKeyFromContext(r.Context())
		name = UserNameFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return key, name, rec
}

func TestMiddleware_IssuesAnonymousIdentity(t *testing.T) {
	t.Parallel()

	key, name, rec := serve(t, httptest.NewRequest(http.MethodGet, "/", nil))

	if !isValidAnonID(key.UserID) {
		t.Fatalf("expected generated anon id, got %q", key.UserID)
	}
	if key.ChannelID != key.UserID {
		t.Errorf("expected channel to default to user id, got %q", key.ChannelID)
	}
	if !strings.HasPrefix(name, "anon-") {
		t.Errorf("expected derived name, got %q", name)
	}
	if cookie := rec.Result().Cookies(); len(cookie) != 1 || cookie[0].Value != key.UserID {
		t.Errorf("expected identity cookie, got %+v", cookie)
	}
}

func TestMiddleware_ReusesCookieAndChannelHeader(t *testing.T) {
	t.Parallel()

	id := "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	req.Header.Set(ChannelHeaderName, "study-group")
	req.Header.Set(NameHeaderName, "Alice")

	key, name, _ := serve(t, req)
	if key.UserID != id || key.ChannelID != "study-group" || name != "Alice" {
		t.Errorf("unexpected identity %+v name=%q", key, name)
	}
}

func TestMiddleware_RejectsUnsafeChannel(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/?channel=bad%20channel%3B", nil)
	key, _, _ := serve(t, req)
	if key.ChannelID != key.UserID {
		t.Errorf("expected unsafe channel to fall back to user id, got %q", key.ChannelID)
	}
}

func TestInvalidCookieIsReplaced(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "forged"})
	key, _, _ := serve(t, req)
	if key.UserID == "forged" || !isValidAnonID(key.UserID) {
		t.Errorf("expected forged cookie replaced, got %q", key.UserID)
	}
}
