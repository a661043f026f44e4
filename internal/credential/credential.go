// Package credential implements the Credential Extractor (C8): locating
// the access token and refresh token in an inbound request, in the
// precedence order spec.md §4.2 fixes — Authorization header before
// cookie, and request body before cookie for the refresh token — for the
// Identity Authority's handlers. The Edge Gateway does not call this
// package; its own extractCredential applies the same header-then-cookie
// order to fiber requests.
package credential

import (
	"net/http"
	"strings"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

// AccessToken returns the bearer access token from r, preferring the
// Authorization header over the accessToken cookie. The returned bool is
// false if neither source carried one.
func AccessToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			token := strings.TrimSpace(header[len(prefix):])
			if token != "" {
				return token, true
			}
		}
	}
	if cookie, err := r.Cookie(accessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

// RefreshTokenFromCookie returns the refresh token carried in the
// refreshToken cookie, the fallback source when the caller didn't supply
// one in the request body.
func RefreshTokenFromCookie(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

// ResolveRefreshToken picks between a refresh token supplied in the parsed
// request body (bodyToken, possibly empty) and the cookie fallback,
// preferring the body per spec.md §4.2.
func ResolveRefreshToken(r *http.Request, bodyToken string) (string, bool) {
	if bodyToken != "" {
		return bodyToken, true
	}
	return RefreshTokenFromCookie(r)
}
