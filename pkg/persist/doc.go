// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package persist stores token revocations and client blocks outside the
// process so that both survive a restart. The in-memory sets owned by the
// token authority and the blocker stay authoritative; a store is written
// on every change and read once at startup. Async queues the writes of a
// remote backend so that requests never wait on it.
package persist
