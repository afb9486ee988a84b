package tokengate

import (
	"net/http"
	"time"
)

// DefaultRefreshCookieName is used when CookieConfig.Name is empty.
const DefaultRefreshCookieName = "refreshToken"

// CookieName returns the configured cookie name or the default.
func (c CookieConfig) CookieName() string {
	if c.Name == "" {
		return DefaultRefreshCookieName
	}
	return c.Name
}

// RefreshCookie builds the cookie that carries a refresh token. Max-Age is
// the configured MaxAge, or ttl when none is configured.
func (c CookieConfig) RefreshCookie(token string, ttl time.Duration) *http.Cookie {
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = ttl
	}
	cookie := c.base()
	cookie.Value = token
	cookie.MaxAge = int(maxAge / time.Second)
	cookie.Expires = time.Now().Add(maxAge).UTC()
	return cookie
}

// ClearRefreshCookie builds an empty, already-expired cookie that makes the
// browser drop the refresh token.
func (c CookieConfig) ClearRefreshCookie() *http.Cookie {
	cookie := c.base()
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0).UTC()
	return cookie
}

func (c CookieConfig) base() *http.Cookie {
	sameSite, err := parseSameSite(c.SameSite)
	if err != nil {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     c.CookieName(),
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
	}
}
