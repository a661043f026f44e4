package edge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesPublicPathExactAndWildcard(t *testing.T) {
	patterns := []string{"/auth/register", "/auth/login", "/health", "/health/*", "/.well-known/jwks.json"}

	assert.True(t, MatchesPublicPath(patterns, "/auth/register"))
	assert.True(t, MatchesPublicPath(patterns, "/health/ready"))
	assert.True(t, MatchesPublicPath(patterns, "/.well-known/jwks.json"))
	assert.False(t, MatchesPublicPath(patterns, "/auth/logout"))
	assert.False(t, MatchesPublicPath(patterns, "/api/v1/profile/me"))
}

func TestMatchesPublicPathDoubleStarCrossesSegments(t *testing.T) {
	patterns := []string{"/public/**"}

	assert.True(t, MatchesPublicPath(patterns, "/public/a/b/c"))
	assert.True(t, MatchesPublicPath(patterns, "/public"))
	assert.False(t, MatchesPublicPath(patterns, "/private/a"))
}

func TestNormalizePathStripsAndCleans(t *testing.T) {
	assert.Equal(t, "/health", normalizePath("health"))
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/a/b", normalizePath("/a//b/"))
}
