// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package abuse

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/denial"
	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/window"
)

// Class names a rate-limit budget.
type Class string

const (
	ClassGlobal  Class = "global"
	ClassStrict  Class = "strict"
	ClassGitHub  Class = "github"
	ClassWeather Class = "weather"
)

// Limit is the budget of one class: at most Max requests per Window.
type Limit struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// DefaultLimits returns the built-in classes.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassGlobal:  {Window: 15 * time.Minute, Max: 200},
		ClassStrict:  {Window: 10 * time.Minute, Max: 20},
		ClassGitHub:  {Window: time.Hour, Max: 30},
		ClassWeather: {Window: 10 * time.Minute, Max: 50},
	}
}

// Info describes the state of a class budget after a request. It backs the
// X-RateLimit-* response headers.
type Info struct {
	Class      Class
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter enforces per-client fixed-window budgets.
type RateLimiter struct {
	limits  map[Class]Limit
	counter *window.Counter
	clock   clock.PassiveClock
}

// NewRateLimiter creates a limiter for the given classes. The map is copied;
// classes cannot be added later.
func NewRateLimiter(limits map[Class]Limit, clk clock.PassiveClock) *RateLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	own := make(map[Class]Limit, len(limits))
	for c, l := range limits {
		own[c] = l
	}
	return &RateLimiter{limits: own, counter: window.NewCounter(clk), clock: clk}
}

// Allow counts one request of client ip against class. It returns a
// RateLimitExceeded denial carrying the retry delay once the budget is spent.
// An unknown class denies with an internal error.
func (r *RateLimiter) Allow(ip string, class Class) (Info, error) {
	limit, ok := r.limits[class]
	if !ok {
		return Info{Class: class}, denial.Wrap(denial.ErrInternal, fmt.Errorf("unknown rate-limit class %q", class))
	}

	hit := r.counter.Hit(string(class)+"|"+ip, limit.Window)
	info := Info{
		Class:     class,
		Limit:     limit.Max,
		Remaining: max(limit.Max-hit.Count, 0),
		ResetAt:   hit.ResetAt,
	}
	if hit.Count <= limit.Max {
		return info, nil
	}

	info.RetryAfter = retryAfter(hit.ResetAt.Sub(r.clock.Now()))
	metrics.RateLimitHits.WithLabelValues(string(class)).Inc()
	return info, denial.RateLimited(info.RetryAfter)
}

// Limit returns the budget of class.
func (r *RateLimiter) Limit(class Class) (Limit, bool) {
	l, ok := r.limits[class]
	return l, ok
}

// Sweep drops elapsed windows.
func (r *RateLimiter) Sweep() int {
	return r.counter.SweepExpired()
}

// retryAfter rounds d up to whole seconds with a minimum of one second.
func retryAfter(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
