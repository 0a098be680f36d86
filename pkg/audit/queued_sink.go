// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/breaker"
	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// QueuedSinkConfig configures a QueuedSink.
type QueuedSinkConfig struct {
	// QueueSize is the size of the async event queue.
	// Default: 10000
	QueueSize int `yaml:"queueSize"`

	// WorkerCount is the number of async processing workers.
	// Default: 2
	WorkerCount int `yaml:"workerCount"`

	// WriteTimeout is the timeout for writing to the underlying sink.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// Breaker configures the circuit breaker in front of the sink.
	Breaker breaker.Config `yaml:"breaker"`
}

// DefaultQueuedSinkConfig returns sensible defaults for a queued sink.
func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:    10000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
		Breaker:      breaker.DefaultConfig(),
	}
}

// QueuedSinkStats is a snapshot of a queued sink's counters.
type QueuedSinkStats struct {
	Name            string `json:"name"`
	QueueLength     int    `json:"queueLength"`
	QueueCapacity   int    `json:"queueCapacity"`
	DroppedEvents   int64  `json:"droppedEvents"`
	ProcessedEvents int64  `json:"processedEvents"`
	FailedEvents    int64  `json:"failedEvents"`
	CircuitState    string `json:"circuitState"`
}

// QueuedSink wraps a Sink with its own queue so that a slow or failing remote
// destination never delays the caller. Write never blocks: when the queue is
// full or the circuit is open the event is dropped and counted.
type QueuedSink struct {
	sink    Sink
	queue   chan *Event
	config  QueuedSinkConfig
	logger  *zap.Logger
	breaker *breaker.Breaker

	droppedEvents   atomic.Int64
	processedEvents atomic.Int64
	failedEvents    atomic.Int64

	mu     sync.RWMutex
	wg     sync.WaitGroup
	closed bool
}

// NewQueuedSink creates a new QueuedSink wrapper around an existing sink and
// starts its workers.
func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	def := DefaultQueuedSinkConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	qs := &QueuedSink{
		sink:    sink,
		queue:   make(chan *Event, cfg.QueueSize),
		config:  cfg,
		logger:  logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
		breaker: breaker.New("sink-"+sink.Name(), cfg.Breaker, nil, logger.Sugar()),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		qs.wg.Add(1)
		go qs.processQueue(i)
	}

	qs.logger.Info("queued sink started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("write_timeout", cfg.WriteTimeout))

	return qs
}

// Write enqueues an event for async processing (non-blocking).
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if qs.closed {
		return fmt.Errorf("queued sink %s is closed", qs.sink.Name())
	}

	select {
	case qs.queue <- event:
		return nil
	default:
		qs.droppedEvents.Add(1)
		metrics.SecurityEventsDropped.WithLabelValues(qs.sink.Name(), "queue_full").Inc()
		return nil
	}
}

func (qs *QueuedSink) processQueue(workerID int) {
	defer qs.wg.Done()

	for event := range qs.queue {
		if !qs.breaker.Allow() {
			qs.droppedEvents.Add(1)
			metrics.SecurityEventsDropped.WithLabelValues(qs.sink.Name(), "circuit_open").Inc()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), qs.config.WriteTimeout)
		err := qs.sink.Write(ctx, event)
		cancel()
		qs.breaker.Done(err)

		if err != nil {
			qs.failedEvents.Add(1)
			qs.logger.Warn("failed to write security event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("error", err.Error()))
			continue
		}
		qs.processedEvents.Add(1)
	}
}

// Stats returns the current counters of this sink.
func (qs *QueuedSink) Stats() QueuedSinkStats {
	return QueuedSinkStats{
		Name:            qs.sink.Name(),
		QueueLength:     len(qs.queue),
		QueueCapacity:   cap(qs.queue),
		DroppedEvents:   qs.droppedEvents.Load(),
		ProcessedEvents: qs.processedEvents.Load(),
		FailedEvents:    qs.failedEvents.Load(),
		CircuitState:    qs.breaker.State().String(),
	}
}

// Close stops accepting events, drains the queue and closes the wrapped sink.
func (qs *QueuedSink) Close() error {
	qs.mu.Lock()
	if qs.closed {
		qs.mu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.mu.Unlock()

	qs.wg.Wait()
	return qs.sink.Close()
}

// Name returns the underlying sink's name.
func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}
