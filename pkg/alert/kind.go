// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies the events that feed alert thresholds.
type Kind int

const (
	KindUnknown Kind = iota
	KindBlockedIP
	KindInjectionAttempt
	KindRateLimitHit
	KindAuthFailure
	KindPrivilegeEscalation
	KindRequestSmuggling
	KindPayloadTooLarge
	KindOriginRejected
	KindAPIKeyRejected
	KindMaliciousBot
)

var kindNames = map[Kind]string{
	KindBlockedIP:           "BLOCKED_IP",
	KindInjectionAttempt:    "INJECTION_ATTEMPT",
	KindRateLimitHit:        "RATE_LIMIT_HIT",
	KindAuthFailure:         "AUTH_FAILURE",
	KindPrivilegeEscalation: "PRIVILEGE_ESCALATION",
	KindRequestSmuggling:    "REQUEST_SMUGGLING",
	KindPayloadTooLarge:     "PAYLOAD_TOO_LARGE",
	KindOriginRejected:      "ORIGIN_REJECTED",
	KindAPIKeyRejected:      "API_KEY_REJECTED",
	KindMaliciousBot:        "MALICIOUS_BOT",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseKind maps a wire name such as "BLOCKED_IP" (case-insensitive) to its
// Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown alert kind %q", s)
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindBlockedIP; k <= KindMaliciousBot; k++ {
		out = append(out, k)
	}
	return out
}

// Rule fires an alert once Threshold events of a kind fall within Window.
type Rule struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// DefaultRules returns the built-in thresholds. Kinds without a rule are
// counted but never alert.
func DefaultRules() map[Kind]Rule {
	return map[Kind]Rule{
		KindBlockedIP:        {Threshold: 10, Window: time.Hour},
		KindInjectionAttempt: {Threshold: 5, Window: 10 * time.Minute},
		KindRateLimitHit:     {Threshold: 50, Window: time.Hour},
	}
}
