// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"time"

	"k8s.io/utils/clock"
)

// Hit is the state of a fixed window after one increment.
type Hit struct {
	Count   int
	ResetAt time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// Counter counts events per key inside fixed windows. A window starts with
// the first hit for a key and ends window later; the next hit after that
// starts a fresh window at 1.
type Counter struct {
	clock clock.PassiveClock
	store *Store[fixedWindow]
}

// NewCounter creates a Counter reading time from clk.
func NewCounter(clk clock.PassiveClock) *Counter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Counter{clock: clk, store: NewStore[fixedWindow](0)}
}

// Hit increments the counter for key and returns the resulting state. The
// expiry check and the increment are one atomic step.
func (c *Counter) Hit(key string, window time.Duration) Hit {
	now := c.clock.Now()
	w := c.store.Update(key, func(cur fixedWindow, ok bool) (fixedWindow, bool) {
		if !ok || !now.Before(cur.resetAt) {
			return fixedWindow{count: 1, resetAt: now.Add(window)}, true
		}
		cur.count++
		return cur, true
	})
	return Hit{Count: w.count, ResetAt: w.resetAt}
}

// Peek returns the current state for key without incrementing. An elapsed
// window reads as zero.
func (c *Counter) Peek(key string) Hit {
	w, ok := c.store.Get(key)
	if !ok || !c.clock.Now().Before(w.resetAt) {
		return Hit{}
	}
	return Hit{Count: w.count, ResetAt: w.resetAt}
}

// SweepExpired removes every elapsed window.
func (c *Counter) SweepExpired() int {
	now := c.clock.Now()
	return c.store.Sweep(func(_ string, w fixedWindow) bool {
		return !now.Before(w.resetAt)
	})
}

// Len returns the number of tracked windows.
func (c *Counter) Len() int {
	return c.store.Len()
}
