// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package apiresponses provides the JSON response helpers shared by the
// gateway middleware and the operator API, including the denial body
// written for refused requests.
package apiresponses
