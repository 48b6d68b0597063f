package identity

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"toolhub/internal/security"
)

const (
	// SessionCookieName is the guest session cookie.
	SessionCookieName = "th_session"
	// FingerprintHeader carries the client-computed device fingerprint.
	FingerprintHeader = "X-Device-Fingerprint"
	// sessionTTL is the rolling lifetime of the guest session cookie.
	sessionTTL = 24 * time.Hour
)

// Bundle is the per-request caller identity. It is never persisted; the
// usage ledger copies the fields it needs.
type Bundle struct {
	UserID            *uint  `json:"user_id,omitempty"`
	Role              string `json:"role,omitempty"`
	SessionID         string `json:"session_id"`
	IPAddress         string `json:"ip_address"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	UserAgent         string `json:"-"`
}

// Resolver derives a Bundle from an inbound request.
type Resolver struct {
	jwtSecret     string
	secureCookies bool
}

// NewResolver constructs a Resolver.
func NewResolver(jwtSecret string, secureCookies bool) *Resolver {
	return &Resolver{jwtSecret: jwtSecret, secureCookies: secureCookies}
}

// Resolve builds the identity bundle. An invalid bearer token degrades to a
// guest identity rather than failing; IP and fingerprint are always
// collected, even for authenticated users. A missing session cookie is
// minted on the spot (the cookie is refreshed on every request, giving the
// 24h rolling window).
func (r *Resolver) Resolve(c *gin.Context) Bundle {
	bundle := Bundle{
		IPAddress:         ClientIP(c.Request),
		DeviceFingerprint: strings.TrimSpace(c.GetHeader(FingerprintHeader)),
		UserAgent:         c.Request.UserAgent(),
	}

	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if claims, err := security.ParseToken(r.jwtSecret, tokenString); err == nil {
			userID := claims.UserID
			bundle.UserID = &userID
			bundle.Role = claims.Role
		}
	}

	sessionID, err := c.Cookie(SessionCookieName)
	if err != nil || sessionID == "" {
		sessionID = uuid.New().String()
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, sessionID, int(sessionTTL.Seconds()), "/", "", r.secureCookies, true)
	bundle.SessionID = sessionID

	return bundle
}

// ClientIP extracts the caller address: first X-Forwarded-For hop, then
// X-Real-IP, then CF-Connecting-IP, then the direct connection address.
// Never fails; returns "unknown" as a last resort.
func ClientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if cfIP := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if req.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && host != "" {
			return host
		}
		return req.RemoteAddr
	}
	return "unknown"
}
