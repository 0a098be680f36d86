// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net/url"
	"path"
	"strings"
)

// GlobMatch checks if a value matches a glob pattern.
// Patterns support these wildcards (path.Match semantics):
//   - "*" matches any sequence of non-separator characters
//   - "?" matches any single non-separator character
//   - "[...]" matches character classes
//
// Special cases:
//   - Pattern "*" matches everything
//   - Pattern without wildcards uses exact string matching
//   - Invalid patterns return false and the error
func GlobMatch(pattern, value string) (bool, error) {
	if pattern == "*" {
		return true, nil
	}
	if strings.ContainsAny(pattern, "*?[") {
		return path.Match(pattern, value)
	}
	return pattern == value, nil
}

// GlobMatchAny checks if any pattern in the list matches the value.
// Patterns that fail to parse are skipped.
func GlobMatchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if matched, _ := GlobMatch(pattern, value); matched {
			return true
		}
	}
	return false
}

// MatchPath matches a request path against a route pattern. A trailing "/**"
// matches the prefix itself and any subpath; every other segment follows
// GlobMatch, so "*" never crosses a "/".
//
//	MatchPath("/api/**", "/api")                → true
//	MatchPath("/api/**", "/api/admin/users")    → true
//	MatchPath("/api/**", "/apiary")             → false
//	MatchPath("/api/*/status", "/api/x/status") → true
func MatchPath(pattern, p string) bool {
	p = cleanPath(p)
	prefix, deep := strings.CutSuffix(pattern, "/**")
	if !deep {
		ok, _ := GlobMatch(pattern, p)
		return ok
	}
	if prefix == "" {
		return true
	}
	want := strings.Split(prefix, "/")
	got := strings.Split(p, "/")
	if len(got) < len(want) {
		return false
	}
	for i, w := range want {
		if ok, _ := GlobMatch(w, got[i]); !ok {
			return false
		}
	}
	return true
}

// CanonicalPath cleans p and lowercases it, so that route tables match the
// way case-insensitive upstream routers resolve a path.
func CanonicalPath(p string) string {
	return strings.ToLower(cleanPath(p))
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean(p)
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}

// MatchOrigin reports whether origin is allowed by pattern. A pattern of the
// form "https://*.example.com" admits any subdomain of example.com, but not
// example.com itself; other patterns must equal the origin's scheme and
// host. Only the scheme and host of origin are compared, so a Referer URL
// with a path can be passed directly.
func MatchOrigin(pattern, origin string) bool {
	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return false
	}
	p, err := url.Parse(strings.Replace(pattern, "*.", "wildcard.", 1))
	if err != nil || p.Scheme == "" || p.Host == "" {
		return false
	}
	if !strings.EqualFold(o.Scheme, p.Scheme) {
		return false
	}
	host := strings.ToLower(o.Host)
	want := strings.ToLower(p.Host)
	if suffix, ok := strings.CutPrefix(want, "wildcard."); ok && strings.Contains(pattern, "*.") {
		return strings.HasSuffix(host, "."+suffix)
	}
	return host == want
}

// MatchOriginAny reports whether any pattern admits origin.
func MatchOriginAny(patterns []string, origin string) bool {
	for _, p := range patterns {
		if MatchOrigin(p, origin) {
			return true
		}
	}
	return false
}
