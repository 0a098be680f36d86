// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package housekeeping

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Kalypss/PortFolio/pkg/abuse"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunOnce(t *testing.T) {
	var calls []string
	j := New(nil, 0, zaptest.NewLogger(t).Sugar(),
		Task{Name: "a", Fn: func() int { calls = append(calls, "a"); return 2 }},
		Task{Name: "b", Fn: func() int { calls = append(calls, "b"); return 0 }},
	)
	assert.Equal(t, 2, j.RunOnce())
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, []string{"a", "b"}, j.Tasks())
}

func TestRunTicks(t *testing.T) {
	clk := testingclock.NewFakeClock(t0)
	var runs atomic.Int32
	j := New(clk, time.Minute, zaptest.NewLogger(t).Sugar(), Task{Name: "count", Fn: func() int {
		runs.Add(1)
		return 0
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	clk.Step(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestSweepsRateLimitWindows(t *testing.T) {
	clk := testingclock.NewFakeClock(t0)
	rl := abuse.NewRateLimiter(abuse.DefaultLimits(), clk)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		_, err := rl.Allow(ip, abuse.ClassStrict)
		require.NoError(t, err)
	}

	j := New(clk, time.Minute, nil, Task{Name: "ratelimit", Fn: rl.Sweep})
	assert.Zero(t, j.RunOnce())

	clk.SetTime(t0.Add(11 * time.Minute))
	assert.Equal(t, 2, j.RunOnce())
}
