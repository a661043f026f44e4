package credential

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessTokenPrefersHeaderOverCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	r.AddCookie(&http.Cookie{Name: accessCookieName, Value: "cookie-token"})

	token, ok := AccessToken(r)
	assert.True(t, ok)
	assert.Equal(t, "header-token", token)
}

func TestAccessTokenFallsBackToCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: accessCookieName, Value: "cookie-token"})

	token, ok := AccessToken(r)
	assert.True(t, ok)
	assert.Equal(t, "cookie-token", token)
}

func TestAccessTokenAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := AccessToken(r)
	assert.False(t, ok)
}

func TestAccessTokenRejectsMalformedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic abc123")
	_, ok := AccessToken(r)
	assert.False(t, ok)
}

func TestResolveRefreshTokenPrefersBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "cookie-refresh"})

	token, ok := ResolveRefreshToken(r, "body-refresh")
	assert.True(t, ok)
	assert.Equal(t, "body-refresh", token)
}

func TestResolveRefreshTokenFallsBackToCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "cookie-refresh"})

	token, ok := ResolveRefreshToken(r, "")
	assert.True(t, ok)
	assert.Equal(t, "cookie-refresh", token)
}
