// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gateway configuration from a YAML file, applies
// environment overrides and validates the result.
package config
