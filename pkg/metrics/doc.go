// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines Prometheus metrics for the security gateway,
// covering pipeline decisions, security events, blocked clients, token
// revocations, alerting and background housekeeping.
package metrics
