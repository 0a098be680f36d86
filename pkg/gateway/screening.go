// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	headerInjectionPattern = regexp.MustCompile(`(?i)[\r\n]|<script|javascript:|vbscript:|onload=|onerror=`)
	scannerUserAgent       = regexp.MustCompile(`(?i)sqlmap|nmap|nikto|burp.*scanner|zap.*proxy|masscan|acunetix|nessus`)
)

// suspiciousHeaders are forwarding headers a browser never sets. They are
// reported but not denied.
var suspiciousHeaders = []string{
	"X-Forwarded-Host",
	"X-Originating-Ip",
	"X-Remote-Ip",
	"X-Remote-Addr",
}

// injectedHeader returns the name of the first header whose value looks like
// an injection attempt.
func injectedHeader(h http.Header) (string, bool) {
	for name, values := range h {
		for _, v := range values {
			if headerInjectionPattern.MatchString(v) {
				return name, true
			}
		}
	}
	return "", false
}

// nosqlQueryParam returns the first query parameter whose key or value
// carries an operator character.
func nosqlQueryParam(q url.Values) (string, bool) {
	for key, values := range q {
		if strings.ContainsAny(key, "${}") {
			return key, true
		}
		for _, v := range values {
			if strings.ContainsAny(v, "${}") {
				return key, true
			}
		}
	}
	return "", false
}

func isScanner(userAgent string) bool {
	return userAgent != "" && scannerUserAgent.MatchString(userAgent)
}

func presentSuspiciousHeaders(h http.Header) []string {
	var found []string
	for _, name := range suspiciousHeaders {
		if h.Get(name) != "" {
			found = append(found, strings.ToLower(name))
		}
	}
	return found
}

// ambiguousPath reports paths that a downstream router could resolve to a
// different route than the one the policy was chosen for: dot segments,
// backslashes, control bytes and encoded separators or dots.
func ambiguousPath(decoded, raw string) bool {
	if strings.ContainsAny(decoded, "%\\\x00") {
		return true
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." || seg == "." {
			return true
		}
	}
	lower := strings.ToLower(raw)
	for _, enc := range []string{"%2e", "%2f", "%5c", "%00"} {
		if strings.Contains(lower, enc) {
			return true
		}
	}
	return false
}
