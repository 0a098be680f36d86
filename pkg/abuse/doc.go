// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package abuse implements the adaptive abuse controls of the gateway: fixed
// window rate limiting per class, progressive slow-down and automatic
// blocking of clients that keep hammering protected routes.
//
// All state lives in window.Store instances, so every check-then-act step is
// a single atomic update on one key.
package abuse
