// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package abuse

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/window"
)

// SlowDownConfig configures progressive response delays.
type SlowDownConfig struct {
	Window     time.Duration `yaml:"window"`
	DelayAfter int           `yaml:"delayAfter"`
	DelayStep  time.Duration `yaml:"delayStep"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
}

// DefaultSlowDownConfig returns the built-in slow-down policy: after 50
// requests in 15 minutes every further request waits 100ms longer, up to 20s.
func DefaultSlowDownConfig() SlowDownConfig {
	return SlowDownConfig{
		Window:     15 * time.Minute,
		DelayAfter: 50,
		DelayStep:  100 * time.Millisecond,
		MaxDelay:   20 * time.Second,
	}
}

// SlowDown computes the delay owed by a client. It only counts; sleeping is
// left to the caller.
type SlowDown struct {
	cfg     SlowDownConfig
	counter *window.Counter
}

// NewSlowDown creates a SlowDown with its own counters.
func NewSlowDown(cfg SlowDownConfig, clk clock.PassiveClock) *SlowDown {
	return &SlowDown{cfg: cfg, counter: window.NewCounter(clk)}
}

// Delay counts one request of ip and returns the delay to apply to it.
func (s *SlowDown) Delay(ip string) time.Duration {
	hit := s.counter.Hit(ip, s.cfg.Window)
	over := hit.Count - s.cfg.DelayAfter
	if over <= 0 {
		return 0
	}
	return min(time.Duration(over)*s.cfg.DelayStep, s.cfg.MaxDelay)
}

// Sweep drops elapsed windows.
func (s *SlowDown) Sweep() int {
	return s.counter.SweepExpired()
}
