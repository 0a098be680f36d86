// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package housekeeping runs the periodic sweeps that keep the gateway's
// in-memory windows bounded.
package housekeeping

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// DefaultInterval is how often the janitor runs when no interval is given.
const DefaultInterval = 5 * time.Minute

// Task is one sweep. Fn returns the number of entries it removed.
type Task struct {
	Name string
	Fn   func() int
}

// Janitor runs its tasks on a fixed interval.
type Janitor struct {
	clock    clock.WithTicker
	interval time.Duration
	tasks    []Task
	log      *zap.SugaredLogger
}

// New creates a Janitor. A nil clock selects the real clock.
func New(clk clock.WithTicker, interval time.Duration, log *zap.SugaredLogger, tasks ...Task) *Janitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Janitor{clock: clk, interval: interval, tasks: tasks, log: log.Named("housekeeping")}
}

// Tasks returns the registered task names.
func (j *Janitor) Tasks() []string {
	names := make([]string, 0, len(j.tasks))
	for _, t := range j.tasks {
		names = append(names, t.Name)
	}
	return names
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.Infow("Housekeeping started", "interval", j.interval, "tasks", j.Tasks())
	for {
		select {
		case <-ctx.Done():
			j.log.Info("Housekeeping stopped")
			return nil
		case <-ticker.C():
			j.RunOnce()
		}
	}
}

// RunOnce runs every task once and returns the total number of removed
// entries.
func (j *Janitor) RunOnce() int {
	total := 0
	for _, t := range j.tasks {
		n := t.Fn()
		total += n
		if n > 0 {
			metrics.HousekeepingRemoved.WithLabelValues(t.Name).Add(float64(n))
		}
		j.log.Debugw("Housekeeping task finished", "task", t.Name, "removed", n)
	}
	return total
}
