// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package mail sends notification e-mails over SMTP with retry and backoff,
// and renders the HTML body used for security alerts.
package mail
