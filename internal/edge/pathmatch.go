package edge

import (
	"path"
	"strings"
)

// MatchesPublicPath reports whether normalizedPath matches any of the
// ant-style glob patterns (spec.md §4.9): "*" matches any run of
// non-separator characters within one path segment, "**" matches any
// number of segments.
func MatchesPublicPath(patterns []string, requestPath string) bool {
	normalized := normalizePath(requestPath)
	for _, pattern := range patterns {
		if antMatch(pattern, normalized) {
			return true
		}
	}
	return false
}

// normalizePath strips the query string (already done by net/http's URL
// parsing by the time Path is read) and ensures a leading slash.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// antMatch implements a minimal ant-style glob: "**" matches across
// segment boundaries, "*" matches within one segment, everything else is
// literal.
func antMatch(pattern, target string) bool {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	tSegs := strings.Split(strings.Trim(target, "/"), "/")
	return matchSegments(pSegs, tSegs)
}

func matchSegments(pattern, target []string) bool {
	if len(pattern) == 0 {
		return len(target) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], target) {
			return true
		}
		if len(target) == 0 {
			return false
		}
		return matchSegments(pattern, target[1:])
	}
	if len(target) == 0 {
		return false
	}
	if !segmentMatch(pattern[0], target[0]) {
		return false
	}
	return matchSegments(pattern[1:], target[1:])
}

// segmentMatch matches one path segment against one pattern segment,
// where "*" stands for any run of characters within the segment.
func segmentMatch(pattern, segment string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == segment
	}
	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(segment[pos:], part)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if parts[len(parts)-1] != "" && !strings.HasSuffix(segment, parts[len(parts)-1]) {
		return false
	}
	return true
}
