// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// Recorder is the entry point components use to emit security events.
//
// The primary sink is written synchronously before Record returns; it must be
// local (log, file) so a denial is never missing from the trail. Secondary
// sinks are expected to be QueuedSinks and never delay the caller.
type Recorder struct {
	primary   Sink
	secondary []Sink
	clock     clock.PassiveClock
	logger    *zap.Logger
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithSecondary adds best-effort sinks.
func WithSecondary(sinks ...Sink) RecorderOption {
	return func(r *Recorder) { r.secondary = append(r.secondary, sinks...) }
}

// WithClock sets the clock used to timestamp events.
func WithClock(clk clock.PassiveClock) RecorderOption {
	return func(r *Recorder) { r.clock = clk }
}

// NewRecorder creates a Recorder writing synchronously to primary.
func NewRecorder(primary Sink, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		primary: primary,
		clock:   clock.RealClock{},
		logger:  logger.Named("recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewEvent builds an event of type t attributed to the client stored in ctx.
func (r *Recorder) NewEvent(ctx context.Context, t EventType) *Event {
	now := clock.PassiveClock(clock.RealClock{})
	if r != nil && r.clock != nil {
		now = r.clock
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  SeverityForEventType(t),
		Timestamp: now.Now().UTC(),
		Client:    ClientFrom(ctx),
	}
}

// Emit builds and records an event in one call.
func (r *Recorder) Emit(ctx context.Context, t EventType, details map[string]interface{}) *Event {
	e := r.NewEvent(ctx, t)
	e.Details = details
	r.Record(ctx, e)
	return e
}

// Record writes event to the primary sink and hands it to every secondary
// sink. A nil Recorder discards events.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if r == nil || event == nil {
		return
	}
	metrics.SecurityEvents.WithLabelValues(string(event.Type), string(event.Severity)).Inc()

	if r.primary != nil {
		if err := r.primary.Write(ctx, event); err != nil {
			// Fall back to the process logger so the event is never lost silently.
			r.logger.Error("primary security sink failed",
				zap.String("sink", r.primary.Name()),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("client_ip", event.Client.IP),
				zap.Error(err))
		}
	}
	for _, s := range r.secondary {
		if err := s.Write(ctx, event); err != nil {
			r.logger.Debug("secondary security sink rejected event",
				zap.String("sink", s.Name()),
				zap.Error(err))
		}
	}
}

// Close closes the secondary sinks first, then the primary.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.secondary {
		errs = append(errs, s.Close())
	}
	if r.primary != nil {
		errs = append(errs, r.primary.Close())
	}
	return errors.Join(errs...)
}
