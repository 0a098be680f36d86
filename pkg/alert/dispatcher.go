// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kalypss/PortFolio/pkg/breaker"
	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// DispatcherConfig configures asynchronous alert delivery.
type DispatcherConfig struct {
	// QueueSize bounds the number of undelivered alerts. Default: 100
	QueueSize int `yaml:"queueSize"`
	// Workers is the number of delivery goroutines. Default: 2
	Workers int `yaml:"workers"`
	// RatePerSecond caps deliveries across all workers. Default: 1
	RatePerSecond float64 `yaml:"ratePerSecond"`
	// Burst is the limiter burst. Default: 5
	Burst int `yaml:"burst"`
	// NotifyTimeout bounds a single notifier call. Default: 10s
	NotifyTimeout time.Duration `yaml:"notifyTimeout"`
	// DrainTimeout bounds Close. Default: 5s
	DrainTimeout time.Duration `yaml:"drainTimeout"`
	// Breaker guards each notifier.
	Breaker breaker.Config `yaml:"breaker"`
}

// DefaultDispatcherConfig returns the default delivery settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     100,
		Workers:       2,
		RatePerSecond: 1,
		Burst:         5,
		NotifyTimeout: 10 * time.Second,
		DrainTimeout:  5 * time.Second,
		Breaker:       breaker.DefaultConfig(),
	}
}

type target struct {
	notifier Notifier
	breaker  *breaker.Breaker
}

// Dispatcher delivers alerts to notifiers in the background. Submit never
// blocks: a full queue drops the alert and counts it.
type Dispatcher struct {
	cfg     DispatcherConfig
	targets []target
	queue   chan Alert
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers delivering to notifiers.
func NewDispatcher(cfg DispatcherConfig, log *zap.SugaredLogger, notifiers ...Notifier) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("alert-dispatcher")

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		queue:   make(chan Alert, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, n := range notifiers {
		d.targets = append(d.targets, target{
			notifier: n,
			breaker:  breaker.New("alert-"+n.Name(), cfg.Breaker, nil, log),
		})
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	log.Infow("Alert dispatcher started", "queueSize", cfg.QueueSize, "workers", cfg.Workers, "notifiers", len(d.targets))
	return d
}

// Submit enqueues a for delivery. It reports false when the alert was
// dropped.
func (d *Dispatcher) Submit(a Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.AlertNotificationsDropped.WithLabelValues("closed").Inc()
		return false
	}
	select {
	case d.queue <- a:
		return true
	default:
		metrics.AlertNotificationsDropped.WithLabelValues("queue_full").Inc()
		d.log.Warnw("Alert queue full, dropping alert", "kind", a.Kind.String(), "alertId", a.ID)
		return false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for a := range d.queue {
		if err := d.limiter.Wait(d.ctx); err != nil {
			metrics.AlertNotificationsDropped.WithLabelValues("shutdown").Inc()
			continue
		}
		d.deliver(id, a)
	}
}

func (d *Dispatcher) deliver(worker int, a Alert) {
	for _, t := range d.targets {
		name := t.notifier.Name()
		if !t.breaker.Allow() {
			metrics.AlertNotifications.WithLabelValues(name, "circuit_open").Inc()
			continue
		}
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.NotifyTimeout)
		err := t.notifier.Notify(ctx, a)
		cancel()
		t.breaker.Done(err)
		if err != nil {
			metrics.AlertNotifications.WithLabelValues(name, "error").Inc()
			d.log.Warnw("Alert notification failed", "worker", worker, "notifier", name, "alertId", a.ID, "error", err)
			continue
		}
		metrics.AlertNotifications.WithLabelValues(name, "success").Inc()
	}
}

// Len returns the number of queued alerts.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Close stops accepting alerts and waits up to DrainTimeout for the queue to
// drain. Alerts still queued after that are dropped, and in-flight
// deliveries are cancelled and given one more DrainTimeout to return. A
// notifier that ignores cancellation is abandoned with an error.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.DrainTimeout):
		d.log.Warnw("Alert queue not drained before timeout", "remaining", len(d.queue))
		d.cancel()
		select {
		case <-done:
		case <-time.After(d.cfg.DrainTimeout):
			d.log.Errorw("Alert workers did not stop after cancellation")
			return errors.New("alert dispatcher: workers still delivering after drain timeout")
		}
	}
	d.cancel()
	return nil
}
