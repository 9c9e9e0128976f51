package middleware

import (
	"net/http"
	"time"
)

// LoginCookie returns the credential cookie set on successful login:
// HttpOnly, SameSite=Strict, Path=/, Max-Age matching the token
// lifetime.
func LoginCookie(tokenStr string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     DefaultCookieName,
		Value:    tokenStr,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// LogoutCookie overwrites the credential cookie with an empty value and
// Max-Age=0, removing it from the client.
func LogoutCookie() *http.Cookie {
	return &http.Cookie{
		Name:     DefaultCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
