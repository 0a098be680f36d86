// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package utils provides the pattern matching helpers used for route
// policies and origin allow-lists.
package utils
