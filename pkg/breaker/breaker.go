// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package breaker implements a circuit breaker guarding best-effort delivery
// targets such as alert notifiers and remote security-event sinks.
package breaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// State is the breaker state.
type State int32

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until OpenTimeout has passed.
	Open
	// HalfOpen lets a limited number of trial calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow callers when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failureThreshold"`

	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	// Default: 1
	SuccessThreshold int `yaml:"successThreshold"`

	// OpenTimeout is how long the circuit stays open before a trial call.
	// Default: 30s
	OpenTimeout time.Duration `yaml:"openTimeout"`

	// HalfOpenMaxCalls bounds concurrent trial calls.
	// Default: 1
	HalfOpenMaxCalls int `yaml:"halfOpenMaxCalls"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name   string
	config Config
	clock  clock.PassiveClock
	logger *zap.SugaredLogger

	mu            sync.Mutex
	state         State
	fails         int
	successes     int
	halfOpenCalls int
	changedAt     time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config, clk clock.PassiveClock, logger *zap.SugaredLogger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Breaker{
		name:      name,
		config:    cfg,
		clock:     clk,
		logger:    logger.Named("breaker").With("target", name),
		changedAt: clk.Now(),
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by exactly one Done.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Since(b.changedAt) < b.config.OpenTimeout {
			return false
		}
		b.transition(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenCalls++
		return true
	}
	return false
}

// Done records the outcome of an allowed call.
func (b *Breaker) Done(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}

	if err == nil {
		b.fails = 0
		b.successes++
		if b.state == HalfOpen && b.successes >= b.config.SuccessThreshold {
			b.transition(Closed)
		}
		return
	}

	b.successes = 0
	b.fails++
	switch b.state {
	case Closed:
		if b.fails >= b.config.FailureThreshold {
			b.logger.Warnw("Circuit opened after consecutive failures", "failures", b.fails, "error", err)
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

// State returns the current state. An open breaker whose timeout has elapsed
// still reports Open until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Infow("Circuit breaker state changed", "from", b.state.String(), "to", to.String())
	b.state = to
	b.changedAt = b.clock.Now()
	b.fails = 0
	b.successes = 0
	b.halfOpenCalls = 0
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(to))
}
