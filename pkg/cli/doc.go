// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the portfolio-gateway command line: serve, token
// issue and version.
package cli
