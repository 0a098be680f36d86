// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EventType represents the type of security event.
type EventType string

const (
	// === Authentication (token verification outcomes) ===
	EventAuthSuccess        EventType = "auth.success"
	EventAuthMissingToken   EventType = "auth.missing_token"
	EventAuthMalformedToken EventType = "auth.malformed_token"
	EventAuthRevokedToken   EventType = "auth.revoked_token"
	EventAuthExpiredToken   EventType = "auth.expired_token"
	EventAuthInvalidToken   EventType = "auth.invalid_token"

	// === Token lifecycle ===
	EventTokenIssued  EventType = "token.issued"
	EventTokenRevoked EventType = "token.revoked"

	// === Authorization ===
	EventAuthzDenied          EventType = "authz.denied"
	EventAuthzUnauthenticated EventType = "authz.unauthenticated"

	// === Abuse control ===
	EventClientBlocked        EventType = "client.blocked"
	EventClientUnblocked      EventType = "client.unblocked"
	EventBlockedClientRequest EventType = "client.blocked_request"
	EventRateLimitExceeded    EventType = "ratelimit.exceeded"
	EventSlowDownApplied      EventType = "ratelimit.slowdown"

	// === Input integrity ===
	EventRequestSmuggling  EventType = "request.smuggling"
	EventPayloadTooLarge   EventType = "request.too_large"
	EventAmbiguousPath     EventType = "request.ambiguous_path"
	EventHeaderInjection   EventType = "request.header_injection"
	EventNoSQLInjection    EventType = "request.nosql_injection"
	EventMaliciousBot      EventType = "request.malicious_bot"
	EventSuspiciousHeaders EventType = "request.suspicious_headers"
	EventOriginMissing     EventType = "request.origin_missing"
	EventOriginRejected    EventType = "request.origin_rejected"
	EventAPIKeyMissing     EventType = "request.api_key_missing"
	EventAPIKeyInvalid     EventType = "request.api_key_invalid"
	EventSlowRequest       EventType = "request.slow"
	EventRouteNotFound     EventType = "request.not_found"
	EventInternalFailure   EventType = "request.internal_failure"

	// === Alerting and system ===
	EventAlertFired     EventType = "alert.fired"
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Severity represents the severity level of a security event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single security event. It never carries a raw token;
// TokenFingerprint holds a truncated hash instead.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Client describes the request that triggered the event
	Client ClientInfo `json:"client"`

	// Subject is the principal's subject when one is known
	Subject string `json:"subject,omitempty"`

	// TokenFingerprint identifies the presented token without revealing it
	TokenFingerprint string `json:"tokenFingerprint,omitempty"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`
}

// ClientInfo identifies the request origin.
type ClientInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	// Critical events - immediate attention required
	case EventClientBlocked, EventRequestSmuggling, EventAmbiguousPath, EventHeaderInjection,
		EventNoSQLInjection, EventAlertFired, EventInternalFailure:
		return SeverityCritical

	// Warning events - should be reviewed
	case EventAuthMalformedToken, EventAuthRevokedToken, EventAuthInvalidToken,
		EventAuthzDenied, EventBlockedClientRequest, EventRateLimitExceeded,
		EventPayloadTooLarge, EventMaliciousBot, EventSuspiciousHeaders,
		EventOriginMissing, EventOriginRejected, EventAPIKeyMissing,
		EventAPIKeyInvalid, EventSlowRequest, EventTokenRevoked:
		return SeverityWarning

	// Info events - normal operation
	default:
		return SeverityInfo
	}
}

// Fingerprint returns the first 16 hex characters of the SHA-256 of s. It is
// used to correlate tokens and other secrets in logs without storing them.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
