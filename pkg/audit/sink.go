// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink defines the interface for security event destinations.
type Sink interface {
	// Write sends a security event to the sink.
	Write(ctx context.Context, event *Event) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes security events to a structured logger. Critical events are
// logged at error level, warnings at warn level and the rest at info level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("security")}
}

// Write logs the security event.
func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
	}

	if event.Client.IP != "" {
		fields = append(fields, zap.String("client_ip", event.Client.IP))
	}
	if event.Client.Method != "" {
		fields = append(fields, zap.String("method", event.Client.Method))
	}
	if event.Client.Path != "" {
		fields = append(fields, zap.String("path", event.Client.Path))
	}
	if event.Client.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.Client.UserAgent))
	}
	if event.Subject != "" {
		fields = append(fields, zap.String("subject", event.Subject))
	}
	if event.TokenFingerprint != "" {
		fields = append(fields, zap.String("token_fingerprint", event.TokenFingerprint))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	level := zapcore.InfoLevel
	switch event.Severity {
	case SeverityCritical:
		level = zapcore.ErrorLevel
	case SeverityWarning:
		level = zapcore.WarnLevel
	}
	s.logger.Log(level, "security_event", fields...)
	return nil
}

// Close flushes the underlying logger.
func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// MultiSink writes to multiple sinks in order.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger,
	}
}

// Write sends the event to all sinks and returns the last error.
func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.logger.Warn("security sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}

// MemorySink keeps events in memory. It backs the admin event listing in
// tests and local development.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, event *Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

func (s *MemorySink) Name() string { return "memory" }

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the recorded event types in order.
func (s *MemorySink) Types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// Count returns how many events of type t were recorded.
func (s *MemorySink) Count(t EventType) int {
	n := 0
	for _, typ := range s.Types() {
		if typ == t {
			n++
		}
	}
	return n
}
