package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/types"
)

const refreshCookieMaxAge = 30 * 24 * time.Hour

// ExtractSession reads credential material from a request. A bearer header
// takes precedence over the access cookie; the refresh token only ever comes
// from its cookie.
func ExtractSession(r *http.Request, cfg config.SessionConfig) types.Session {
	var s types.Session
	if c, err := r.Cookie(cfg.AccessCookie); err == nil {
		s.AccessToken = c.Value
	}
	if c, err := r.Cookie(cfg.RefreshCookie); err == nil {
		s.RefreshToken = c.Value
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		s.AccessToken = token
	}
	return s
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// SetSessionCookies writes a refreshed session back to the browser.
func SetSessionCookies(w http.ResponseWriter, s types.Session, cfg config.SessionConfig, now time.Time) {
	access := &http.Cookie{
		Name:     cfg.AccessCookie,
		Value:    s.AccessToken,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !s.Expiry.IsZero() {
		access.Expires = s.Expiry
		access.MaxAge = int(s.Expiry.Sub(now).Seconds())
		if access.MaxAge <= 0 {
			access.MaxAge = -1
		}
	}
	http.SetCookie(w, access)

	if s.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     cfg.RefreshCookie,
			Value:    s.RefreshToken,
			Path:     "/",
			Domain:   cfg.CookieDomain,
			HttpOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(refreshCookieMaxAge.Seconds()),
		})
	}
}

// ApplySession rewrites the inbound credentials so whatever the request is
// forwarded to sees the refreshed session instead of the stale one.
func ApplySession(r *http.Request, s types.Session, cfg config.SessionConfig) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")

	seenAccess, seenRefresh := false, false
	for _, c := range cookies {
		switch c.Name {
		case cfg.AccessCookie:
			c.Value = s.AccessToken
			seenAccess = true
		case cfg.RefreshCookie:
			if s.RefreshToken != "" {
				c.Value = s.RefreshToken
			}
			seenRefresh = true
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	if !seenAccess && s.AccessToken != "" {
		r.AddCookie(&http.Cookie{Name: cfg.AccessCookie, Value: s.AccessToken})
	}
	if !seenRefresh && s.RefreshToken != "" {
		r.AddCookie(&http.Cookie{Name: cfg.RefreshCookie, Value: s.RefreshToken})
	}

	if _, ok := bearerToken(r.Header.Get("Authorization")); ok {
		r.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}
}

// HashToken returns the SHA-256 hex digest of a token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}

// SafePrefix returns a log-safe fingerprint of a token (never the token).
func SafePrefix(token string) string {
	if token == "" {
		return ""
	}
	return HashToken(token)[:12]
}
