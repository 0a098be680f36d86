// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package alert turns streams of security events into threshold alerts and
// delivers them to operators without ever blocking the request path.
package alert

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/window"
)

// Alert is a fired threshold.
type Alert struct {
	ID      string
	Kind    Kind
	Count   int
	Window  time.Duration
	FiredAt time.Time
	Details map[string]interface{}
}

// Submitter accepts fired alerts for delivery. Submit must not block.
type Submitter interface {
	Submit(a Alert) bool
}

type record struct {
	mu  sync.Mutex
	log window.TimeLog
}

// Aggregator counts events per kind in sliding windows and fires an alert
// when a kind reaches its threshold. Each kind has its own lock, so kinds
// never contend with each other.
type Aggregator struct {
	rules     map[Kind]Rule
	records   map[Kind]*record
	clock     clock.PassiveClock
	submitter Submitter
	recorder  *audit.Recorder
	log       *zap.SugaredLogger
}

// NewAggregator creates an Aggregator. rules is copied and fixed for the
// lifetime of the Aggregator. submitter may be nil, in which case alerts are
// only recorded as security events.
func NewAggregator(rules map[Kind]Rule, submitter Submitter, recorder *audit.Recorder, clk clock.PassiveClock, log *zap.SugaredLogger) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Aggregator{
		rules:     maps.Clone(rules),
		records:   make(map[Kind]*record, len(rules)),
		clock:     clk,
		submitter: submitter,
		recorder:  recorder,
		log:       log.Named("alert"),
	}
	for k := range a.rules {
		a.records[k] = &record{}
	}
	return a
}

// RecordEvent counts one event of kind and reports whether it fired an
// alert. Firing clears the kind's window, so the next alert needs a full new
// burst.
func (a *Aggregator) RecordEvent(ctx context.Context, kind Kind, details map[string]interface{}) bool {
	rule, ok := a.rules[kind]
	if !ok {
		metrics.AlertEventsUnrated.WithLabelValues(kind.String()).Inc()
		a.log.Debugw("Event for kind without alert threshold", "kind", kind.String())
		return false
	}

	rec := a.records[kind]
	now := a.clock.Now()
	rec.mu.Lock()
	rec.log.Prune(now.Add(-rule.Window))
	rec.log.Add(now)
	count := rec.log.Len()
	fire := count >= rule.Threshold
	if fire {
		rec.log.Clear()
	}
	rec.mu.Unlock()

	if !fire {
		return false
	}

	alert := Alert{
		ID:      uuid.NewString(),
		Kind:    kind,
		Count:   count,
		Window:  rule.Window,
		FiredAt: now.UTC(),
		Details: maps.Clone(details),
	}
	metrics.AlertsFired.WithLabelValues(kind.String()).Inc()
	a.log.Warnw("Security alert fired", "kind", kind.String(), "count", count, "window", rule.Window, "alertId", alert.ID)
	a.recorder.Emit(ctx, audit.EventAlertFired, map[string]interface{}{
		"alertId": alert.ID,
		"kind":    kind.String(),
		"count":   count,
		"window":  rule.Window.String(),
	})
	if a.submitter != nil {
		a.submitter.Submit(alert)
	}
	return true
}

// Pending returns the number of events currently in kind's window.
func (a *Aggregator) Pending(kind Kind) int {
	rec, ok := a.records[kind]
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.log.Len()
}

// Prune drops timestamps that have left their window and returns how many
// were removed.
func (a *Aggregator) Prune() int {
	now := a.clock.Now()
	removed := 0
	for k, rec := range a.records {
		cutoff := now.Add(-a.rules[k].Window)
		rec.mu.Lock()
		removed += rec.log.Prune(cutoff)
		rec.mu.Unlock()
	}
	return removed
}

// Rules returns a copy of the configured rules.
func (a *Aggregator) Rules() map[Kind]Rule {
	return maps.Clone(a.rules)
}
