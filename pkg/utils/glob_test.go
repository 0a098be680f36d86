// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		value     string
		wantMatch bool
		wantErr   bool
	}{
		{name: "star matches anything", pattern: "*", value: "anything", wantMatch: true},
		{name: "exact match", pattern: "/health", value: "/health", wantMatch: true},
		{name: "exact mismatch", pattern: "/health", value: "/healthz", wantMatch: false},
		{name: "segment wildcard", pattern: "/api/*", value: "/api/contact", wantMatch: true},
		{name: "segment wildcard does not cross slash", pattern: "/api/*", value: "/api/a/b", wantMatch: false},
		{name: "question mark", pattern: "/v?", value: "/v1", wantMatch: true},
		{name: "invalid pattern", pattern: "[invalid", value: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GlobMatch(tt.pattern, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, got)
		})
	}
}

func TestGlobMatchAny(t *testing.T) {
	assert.True(t, GlobMatchAny([]string{"[bad", "/api/*"}, "/api/x"))
	assert.False(t, GlobMatchAny(nil, "/api/x"))
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/**", "/api", true},
		{"/api/**", "/api/", true},
		{"/api/**", "/api/admin/blocked", true},
		{"/api/**", "/apiary", false},
		{"/api/**", "/", false},
		{"/**", "/anything/at/all", true},
		{"/api/*/status", "/api/x/status", true},
		{"/api/*/files/**", "/api/u1/files/a/b", true},
		{"/api/*/files/**", "/api/u1/other", false},
		{"/health", "/health", true},
		{"/health", "/health/../health", true},
		{"/api/admin/**", "/api/../api/admin/x", true},
		{"/api/admin/**", "/api/public/../../api/admin", true},
		{"/weather-icons/**", "/weather-icons/sun.svg", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPath(tt.pattern, tt.path))
		})
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"/API/GitHub/repos":      "/api/github/repos",
		"/api//admin/":           "/api/admin",
		"/api/x/../Admin":        "/api/admin",
		"":                       "/",
		"/weather-icons/Sun.svg": "/weather-icons/sun.svg",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern string
		origin  string
		want    bool
	}{
		{"https://example.com", "https://example.com", true},
		{"https://example.com", "https://EXAMPLE.com", true},
		{"https://example.com", "http://example.com", false},
		{"https://example.com", "https://example.com.evil.io", false},
		{"https://example.com", "https://example.com/some/page?q=1", true},
		{"https://*.example.com", "https://www.example.com", true},
		{"https://*.example.com", "https://a.b.example.com", true},
		{"https://*.example.com", "https://example.com", false},
		{"https://*.example.com", "https://evilexample.com", false},
		{"http://localhost:3000", "http://localhost:3000", true},
		{"http://localhost:3000", "http://localhost:3001", false},
		{"https://example.com", "not a url", false},
		{"https://example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchOrigin(tt.pattern, tt.origin))
		})
	}
	assert.True(t, MatchOriginAny([]string{"https://a.io", "https://*.b.io"}, "https://x.b.io"))
}
