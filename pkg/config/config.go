// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/alert"
	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/gateway"
	"github.com/Kalypss/PortFolio/pkg/mail"
	"github.com/Kalypss/PortFolio/pkg/persist"
	"github.com/Kalypss/PortFolio/pkg/token"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	// minProductionSecretBytes is the shortest signing secret accepted in
	// production.
	minProductionSecretBytes = 32
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers (e.g., ["10.0.0.0/8", "127.0.0.1"])
	// UpstreamURL receives every request that no operator route handles.
	// When empty such requests get a 404.
	UpstreamURL       string        `yaml:"upstreamURL"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type Log struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"`
}

type Audit struct {
	// File enables the rotating JSON-lines sink when Path is set.
	File  audit.FileSinkConfig   `yaml:"file"`
	Kafka audit.KafkaConfig      `yaml:"kafka"`
	Queue audit.QueuedSinkConfig `yaml:"queue"`
}

type Alerts struct {
	// Rules maps alert kind names (e.g. "INJECTION_ATTEMPT") to thresholds.
	// Entries override the built-in rules of the same kind.
	Rules      map[string]alert.Rule  `yaml:"rules"`
	Dispatcher alert.DispatcherConfig `yaml:"dispatcher"`
	Webhook    alert.WebhookConfig    `yaml:"webhook"`
	Mail       mail.Config            `yaml:"mail"`
	Kafka      audit.KafkaConfig      `yaml:"kafka"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Housekeeping struct {
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	Environment  string                      `yaml:"environment"`
	Server       Server                      `yaml:"server"`
	Log          Log                         `yaml:"log"`
	Token        token.Config                `yaml:"token"`
	Gateway      gateway.Config              `yaml:"gateway"`
	RateLimits   map[abuse.Class]abuse.Limit `yaml:"rateLimits"`
	SlowDown     abuse.SlowDownConfig        `yaml:"slowDown"`
	Blocking     abuse.BlockerConfig         `yaml:"blocking"`
	Alerts       Alerts                      `yaml:"alerts"`
	Audit        Audit                       `yaml:"audit"`
	Redis        persist.RedisConfig         `yaml:"redis"`
	Telemetry    Telemetry                   `yaml:"telemetry"`
	Housekeeping Housekeeping                `yaml:"housekeeping"`
}

// Default returns the configuration used for every field the file and the
// environment leave unset. The token secret has no default.
func Default() Config {
	return Config{
		Environment: EnvironmentDevelopment,
		Server: Server{
			ListenAddress:     ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Token:      token.DefaultConfig(),
		Gateway:    gateway.DefaultConfig(),
		RateLimits: abuse.DefaultLimits(),
		SlowDown:   abuse.DefaultSlowDownConfig(),
		Blocking:   abuse.DefaultBlockerConfig(),
		Alerts: Alerts{
			Dispatcher: alert.DefaultDispatcherConfig(),
		},
		Audit: Audit{
			Queue: audit.DefaultQueuedSinkConfig(),
		},
		Telemetry: Telemetry{
			Exporter:     "otlp",
			SamplingRate: 1.0,
		},
		Housekeeping: Housekeeping{Interval: 5 * time.Minute},
	}
}

// Production reports whether the gateway runs in production mode.
func (c Config) Production() bool {
	return c.Environment == EnvironmentProduction
}

// Load loads the gateway configuration from a file path.
// If configPath is empty, defaults to "./config.yaml"; a missing default file
// is not an error. The file is applied on top of Default, then environment
// overrides are applied and the result is validated.
func Load(configPath ...string) (Config, error) {
	var path string
	explicit := len(configPath) > 0 && configPath[0] != ""

	// Use provided path or fall back to default
	if explicit {
		path = configPath[0]
	} else {
		path = "./config.yaml"
	}

	config := Default()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return config, fmt.Errorf("trying to open gateway config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(os.Getenv); err != nil {
		return config, err
	}
	config.Gateway.Production = config.Production()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("JWT_SECRET"); v != "" {
		c.Token.Secret = v
	}
	if v := getenv("JWT_EXPIRES_IN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_EXPIRES_IN %q: %w", v, err)
		}
		c.Token.Lifetime = d
	}
	if v := getenv("JWT_ISSUER"); v != "" {
		c.Token.Issuer = v
	}
	if v := getenv("JWT_AUDIENCE"); v != "" {
		c.Token.Audience = v
	}
	if v := getenv("VALID_API_KEYS"); v != "" {
		c.Gateway.APIKeys = splitList(v)
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = splitList(v)
	}
	if v := getenv("GATEWAY_ENV"); v != "" {
		c.Environment = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getenv("GATEWAY_LISTEN_ADDRESS"); v != "" {
		c.Server.ListenAddress = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		errs = append(errs, fmt.Errorf("environment must be %q or %q, got %q", EnvironmentDevelopment, EnvironmentProduction, c.Environment))
	}

	if c.Token.Secret == "" {
		errs = append(errs, errors.New("token.secret (JWT_SECRET) is required"))
	} else if c.Production() && len(c.Token.Secret) < minProductionSecretBytes {
		errs = append(errs, fmt.Errorf("token.secret must be at least %d bytes in production", minProductionSecretBytes))
	}
	if c.Token.Lifetime <= 0 {
		errs = append(errs, errors.New("token.lifetime must be positive"))
	}

	if _, ok := c.RateLimits[abuse.ClassGlobal]; !ok {
		errs = append(errs, fmt.Errorf("rateLimits must define the %q class", abuse.ClassGlobal))
	}
	for class, l := range c.RateLimits {
		if l.Window <= 0 || l.Max <= 0 {
			errs = append(errs, fmt.Errorf("rateLimits.%s: window and max must be positive", class))
		}
	}

	if c.SlowDown.Window <= 0 {
		errs = append(errs, errors.New("slowDown.window must be positive"))
	}
	if c.SlowDown.MaxDelay < c.SlowDown.DelayStep {
		errs = append(errs, errors.New("slowDown.maxDelay must not be below slowDown.delayStep"))
	}

	if c.Blocking.Threshold < 1 {
		errs = append(errs, errors.New("blocking.threshold must be at least 1"))
	}
	if c.Blocking.Window <= 0 {
		errs = append(errs, errors.New("blocking.window must be positive"))
	}

	if _, err := c.AlertRules(); err != nil {
		errs = append(errs, err)
	}

	if c.Gateway.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("gateway.maxBodyBytes must be positive"))
	}

	return errors.Join(errs...)
}

// AlertRules returns the built-in rules overlaid with the configured ones.
func (c Config) AlertRules() (map[alert.Kind]alert.Rule, error) {
	out := alert.DefaultRules()
	for name, rule := range c.Alerts.Rules {
		kind, err := alert.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("alerts.rules: %w", err)
		}
		if rule.Threshold < 1 || rule.Window <= 0 {
			return nil, fmt.Errorf("alerts.rules.%s: threshold and window must be positive", name)
		}
		out[kind] = rule
	}
	return out, nil
}
