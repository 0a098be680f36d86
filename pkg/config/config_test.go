// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/alert"
	"github.com/Kalypss/PortFolio/pkg/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name               string
		configContent      string
		path               string
		expectedListenAddr string
		expectError        bool
	}{
		{
			name: "full config",
			configContent: `
environment: production
server:
  listenAddress: ":9443"
  trustedProxies: ["10.0.0.0/8"]
token:
  secret: "` + testSecret + `"
  lifetime: 30m
rateLimits:
  strict:
    window: 5m
    max: 10
alerts:
  rules:
    auth_failure:
      threshold: 20
      window: 15m
`,
			expectedListenAddr: ":9443",
		},
		{
			name: "minimal config",
			configContent: `
token:
  secret: dev-secret
`,
			expectedListenAddr: ":8080",
		},
		{
			name:          "invalid YAML",
			configContent: `invalid: yaml: content [`,
			expectError:   true,
		},
		{
			name:        "file not found",
			path:        "/nonexistent/path/config.yaml",
			expectError: true,
		},
		{
			name: "missing secret",
			configContent: `
server:
  listenAddress: ":3000"
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if tt.configContent != "" {
				path = writeConfig(t, tt.configContent)
			}

			cfg, err := config.Load(path)
			if tt.expectError {
				if err == nil {
					t.Errorf("Load() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}
			if cfg.Server.ListenAddress != tt.expectedListenAddr {
				t.Errorf("Load() listenAddress = %v, want %v", cfg.Server.ListenAddress, tt.expectedListenAddr)
			}
		})
	}
}

func TestLoadMergesWithDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
token:
  secret: "`+testSecret+`"
  lifetime: 30m
rateLimits:
  strict:
    window: 5m
    max: 10
alerts:
  rules:
    auth_failure:
      threshold: 20
      window: 15m
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.True(t, cfg.Gateway.Production)
	assert.Equal(t, 30*time.Minute, cfg.Token.Lifetime)
	assert.Equal(t, "portfolio-backend", cfg.Token.Issuer)
	assert.Equal(t, abuse.Limit{Window: 5 * time.Minute, Max: 10}, cfg.RateLimits[abuse.ClassStrict])
	assert.Equal(t, abuse.DefaultLimits()[abuse.ClassGlobal], cfg.RateLimits[abuse.ClassGlobal])

	rules, err := cfg.AlertRules()
	require.NoError(t, err)
	assert.Equal(t, alert.Rule{Threshold: 20, Window: 15 * time.Minute}, rules[alert.KindAuthFailure])
	assert.Equal(t, alert.DefaultRules()[alert.KindInjectionAttempt], rules[alert.KindInjectionAttempt])
}

func TestLoadDefaultPathIsOptional(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"JWT_SECRET":             testSecret,
		"JWT_EXPIRES_IN":         "2h",
		"JWT_ISSUER":             "issuer",
		"JWT_AUDIENCE":           "audience",
		"VALID_API_KEYS":         "k1, k2,,",
		"ALLOWED_ORIGINS":        "https://a.example,https://*.b.example",
		"GATEWAY_ENV":            "Production",
		"GATEWAY_LISTEN_ADDRESS": ":7000",
		"REDIS_ADDR":             "redis:6379",
	}
	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, testSecret, cfg.Token.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Token.Lifetime)
	assert.Equal(t, "issuer", cfg.Token.Issuer)
	assert.Equal(t, "audience", cfg.Token.Audience)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Gateway.APIKeys)
	assert.Equal(t, []string{"https://a.example", "https://*.b.example"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, config.EnvironmentProduction, cfg.Environment)
	assert.Equal(t, ":7000", cfg.Server.ListenAddress)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.NoError(t, cfg.Validate())

	bad := config.Default()
	assert.Error(t, bad.ApplyEnv(func(k string) string {
		if k == "JWT_EXPIRES_IN" {
			return "a week"
		}
		return ""
	}))
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Token.Secret = testSecret
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing secret", func(c *config.Config) { c.Token.Secret = "" }},
		{"short secret in production", func(c *config.Config) {
			c.Environment = config.EnvironmentProduction
			c.Token.Secret = "short"
		}},
		{"unknown environment", func(c *config.Config) { c.Environment = "staging" }},
		{"zero window", func(c *config.Config) { c.RateLimits[abuse.ClassStrict] = abuse.Limit{Max: 5} }},
		{"zero max", func(c *config.Config) { c.RateLimits[abuse.ClassStrict] = abuse.Limit{Window: time.Minute} }},
		{"missing global class", func(c *config.Config) { delete(c.RateLimits, abuse.ClassGlobal) }},
		{"slow-down max below step", func(c *config.Config) { c.SlowDown.MaxDelay = time.Millisecond }},
		{"blocking threshold", func(c *config.Config) { c.Blocking.Threshold = 0 }},
		{"unknown alert kind", func(c *config.Config) {
			c.Alerts.Rules = map[string]alert.Rule{"LOUD_NOISES": {Threshold: 1, Window: time.Minute}}
		}},
		{"alert threshold", func(c *config.Config) {
			c.Alerts.Rules = map[string]alert.Rule{"BLOCKED_IP": {Window: time.Minute}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("short secret outside production", func(t *testing.T) {
		cfg := valid()
		cfg.Token.Secret = "short"
		assert.NoError(t, cfg.Validate())
	})
}
