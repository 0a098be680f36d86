// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package api implements the gin HTTP server in front of the gateway
// pipeline: security headers, CORS, the operator routes and the optional
// reverse proxy to the business backend.
package api
