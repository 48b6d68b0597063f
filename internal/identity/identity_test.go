package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"toolhub/internal/security"
)

const testSecret = "test-jwt-secret"

func newTestContext(t *testing.T, headers map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/api/tools/summarizer", nil)
	c.Request.RemoteAddr = "203.0.113.7:54321"
	for key, value := range headers {
		c.Request.Header.Set(key, value)
	}
	return c, w
}

func TestResolveMintsSessionCookie(t *testing.T) {
	resolver := NewResolver(testSecret, false)
	c, w := newTestContext(t, nil)

	bundle := resolver.Resolve(c)
	if bundle.SessionID == "" {
		t.Fatalf("expected session id minted")
	}
	if bundle.UserID != nil {
		t.Fatalf("expected guest bundle, got user %v", *bundle.UserID)
	}

	cookies := w.Result().Cookies()
	var found *http.Cookie
	for _, ck := range cookies {
		if ck.Name == SessionCookieName {
			found = ck
		}
	}
	if found == nil {
		t.Fatalf("expected %s cookie set", SessionCookieName)
	}
	if found.Value != bundle.SessionID {
		t.Fatalf("expected cookie %q to match bundle session %q", found.Value, bundle.SessionID)
	}
	if !found.HttpOnly {
		t.Fatalf("expected httpOnly session cookie")
	}
}

func TestResolveKeepsExistingSession(t *testing.T) {
	resolver := NewResolver(testSecret, false)
	c, _ := newTestContext(t, nil)
	c.Request.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "existing-session"})

	bundle := resolver.Resolve(c)
	if bundle.SessionID != "existing-session" {
		t.Fatalf("expected existing session kept, got %q", bundle.SessionID)
	}
}

func TestResolveParsesBearerToken(t *testing.T) {
	resolver := NewResolver(testSecret, false)
	token, errToken := security.GenerateToken(testSecret, 42, "user@example.com", "user", time.Hour)
	if errToken != nil {
		t.Fatalf("expected token ok, got %v", errToken)
	}
	c, _ := newTestContext(t, map[string]string{"Authorization": "Bearer " + token})

	bundle := resolver.Resolve(c)
	if bundle.UserID == nil || *bundle.UserID != 42 {
		t.Fatalf("expected user 42, got %v", bundle.UserID)
	}
	if bundle.Role != "user" {
		t.Fatalf("expected role user, got %q", bundle.Role)
	}
	// IP collection does not stop for authenticated callers.
	if bundle.IPAddress != "203.0.113.7" {
		t.Fatalf("expected remote addr ip, got %q", bundle.IPAddress)
	}
}

func TestResolveInvalidTokenDegradesToGuest(t *testing.T) {
	resolver := NewResolver(testSecret, false)
	forged, errToken := security.GenerateToken("other-secret", 42, "user@example.com", "admin", time.Hour)
	if errToken != nil {
		t.Fatalf("expected token ok, got %v", errToken)
	}
	c, _ := newTestContext(t, map[string]string{"Authorization": "Bearer " + forged})

	bundle := resolver.Resolve(c)
	if bundle.UserID != nil {
		t.Fatalf("expected guest on forged token, got user %v", *bundle.UserID)
	}
	if bundle.SessionID == "" {
		t.Fatalf("expected session minted for degraded guest")
	}
}

func TestResolveCollectsFingerprint(t *testing.T) {
	resolver := NewResolver(testSecret, false)
	c, _ := newTestContext(t, map[string]string{FingerprintHeader: "  fp-abc123  "})

	bundle := resolver.Resolve(c)
	if bundle.DeviceFingerprint != "fp-abc123" {
		t.Fatalf("expected trimmed fingerprint, got %q", bundle.DeviceFingerprint)
	}
}

func TestClientIPPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "forwarded-for first hop wins",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1", "X-Real-IP": "198.51.100.9"},
			remote:  "10.0.0.2:1234",
			want:    "198.51.100.1",
		},
		{
			name:    "real-ip before cf",
			headers: map[string]string{"X-Real-IP": "198.51.100.9", "CF-Connecting-IP": "198.51.100.8"},
			remote:  "10.0.0.2:1234",
			want:    "198.51.100.9",
		},
		{
			name:    "cf-connecting-ip",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.8"},
			remote:  "10.0.0.2:1234",
			want:    "198.51.100.8",
		},
		{
			name:   "remote addr host",
			remote: "10.0.0.2:1234",
			want:   "10.0.0.2",
		},
		{
			name: "no source at all",
			want: "unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			if got := ClientIP(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestClientIPIgnoresEmptyForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", strings.Repeat(" ", 3))

	if got := ClientIP(req); got != "10.0.0.2" {
		t.Fatalf("expected fallthrough to remote addr, got %q", got)
	}
}
