// Package pathutil validates and normalizes navigation paths.
package pathutil

import (
	"regexp"
	"strings"
)

// Root is the root navigation path.
const Root = "/"

// wildcardSuffix marks a prefix pattern such as "/user/*".
const wildcardSuffix = "/*"

var pathRegex = regexp.MustCompile(`^/[A-Za-z0-9/_-]*$`)

// Validate reports whether path is a well-formed navigation path.
//
// A valid path starts with "/", contains no "//", consists only of letters,
// digits, "/", "_" and "-", and does not end with "/" unless it is the root.
func Validate(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	if strings.Contains(path, "//") {
		return false
	}
	if !pathRegex.MatchString(path) {
		return false
	}
	if path != Root && strings.HasSuffix(path, "/") {
		return false
	}
	return true
}

// Normalize trims whitespace, forces a leading "/", collapses repeated
// slashes and strips a trailing slash (except for the root).
// Normalize does not strip characters that Validate rejects.
func Normalize(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return Root
	}

	var b strings.Builder
	b.Grow(len(p) + 1)
	if p[0] != '/' {
		b.WriteByte('/')
	}
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = out[:len(out)-1]
	}
	return out
}

// IsWildcard reports whether pattern is a prefix pattern ("/user/*").
func IsWildcard(pattern string) bool {
	return strings.HasSuffix(pattern, wildcardSuffix)
}

// ValidatePattern validates an exact path or a prefix pattern.
// "/*" on its own matches every path.
func ValidatePattern(pattern string) bool {
	if !IsWildcard(pattern) {
		return Validate(pattern)
	}
	base := WildcardBase(pattern)
	return base == Root || Validate(base)
}

// WildcardBase returns the path a prefix pattern is anchored at.
// "/user/*" yields "/user" and "/*" yields "/".
func WildcardBase(pattern string) string {
	if !IsWildcard(pattern) {
		return pattern
	}
	base := strings.TrimSuffix(pattern, wildcardSuffix)
	if base == "" {
		return Root
	}
	return base
}

// MatchPrefix reports whether path is matched by pattern. Non-wildcard
// patterns match only on equality; "/user/*" matches "/user" and every
// path below it.
func MatchPrefix(pattern, path string) bool {
	if !IsWildcard(pattern) {
		return pattern == path
	}
	base := WildcardBase(pattern)
	if base == Root {
		return strings.HasPrefix(path, "/")
	}
	return path == base || strings.HasPrefix(path, base+"/")
}
