// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package audit records security events for the gateway and forwards them to
// configurable sinks (log, rotating file, Kafka) with queued delivery for the
// remote ones.
package audit
