// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// AsyncConfig configures an Async writer.
type AsyncConfig struct {
	// QueueSize is the number of pending writes kept before new ones are
	// dropped.
	// Default: 1000
	QueueSize int `yaml:"queueSize"`

	// WriteTimeout bounds a single backend write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// DrainTimeout bounds how long Close waits for pending writes.
	// Default: 10s
	DrainTimeout time.Duration `yaml:"drainTimeout"`
}

// DefaultAsyncConfig returns the default queue settings.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		QueueSize:    1000,
		WriteTimeout: 5 * time.Second,
		DrainTimeout: 10 * time.Second,
	}
}

// Backend is a store that an Async writer can front.
type Backend interface {
	SaveRevocation(ctx context.Context, hash string, expiresAt time.Time) error
	LoadRevocations(ctx context.Context) (map[string]time.Time, error)
	SaveBlock(ctx context.Context, b abuse.BlockedClient) error
	DeleteBlock(ctx context.Context, ip string) error
	LoadBlocks(ctx context.Context) ([]abuse.BlockedClient, error)
	Close() error
}

type write struct {
	op string
	fn func(ctx context.Context) error
}

// Async queues writes for a Backend and applies them in order on a single
// worker, so callers never wait on the backend. Loads are passed through
// and only happen at startup. A full queue drops the write and counts it.
type Async struct {
	backend Backend
	queue   chan write
	cfg     AsyncConfig
	log     *zap.SugaredLogger

	dropped atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the writer for backend.
func NewAsync(backend Backend, cfg AsyncConfig, log *zap.SugaredLogger) *Async {
	def := DefaultAsyncConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Async{
		backend: backend,
		queue:   make(chan write, cfg.QueueSize),
		cfg:     cfg,
		log:     log.Named("persist"),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for w := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
		err := w.fn(ctx)
		cancel()
		if err != nil {
			a.failed.Add(1)
			metrics.PersistenceErrors.WithLabelValues(w.op).Inc()
			a.log.Warnw("Failed to persist gateway state", "op", w.op, "error", err)
		}
	}
}

func (a *Async) enqueue(w write) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		metrics.PersistenceErrors.WithLabelValues("closed").Inc()
		return
	}
	select {
	case a.queue <- w:
	default:
		a.dropped.Add(1)
		metrics.PersistenceErrors.WithLabelValues("queue_full").Inc()
		a.log.Warnw("Persistence queue full, dropping write", "op", w.op)
	}
}

// SaveRevocation queues the write and returns immediately.
func (a *Async) SaveRevocation(_ context.Context, hash string, expiresAt time.Time) error {
	a.enqueue(write{op: "save_revocation", fn: func(ctx context.Context) error {
		return a.backend.SaveRevocation(ctx, hash, expiresAt)
	}})
	return nil
}

// SaveBlock queues the write and returns immediately.
func (a *Async) SaveBlock(_ context.Context, b abuse.BlockedClient) error {
	a.enqueue(write{op: "save_block", fn: func(ctx context.Context) error {
		return a.backend.SaveBlock(ctx, b)
	}})
	return nil
}

// DeleteBlock queues the delete and returns immediately.
func (a *Async) DeleteBlock(_ context.Context, ip string) error {
	a.enqueue(write{op: "delete_block", fn: func(ctx context.Context) error {
		return a.backend.DeleteBlock(ctx, ip)
	}})
	return nil
}

func (a *Async) LoadRevocations(ctx context.Context) (map[string]time.Time, error) {
	return a.backend.LoadRevocations(ctx)
}

func (a *Async) LoadBlocks(ctx context.Context) ([]abuse.BlockedClient, error) {
	return a.backend.LoadBlocks(ctx)
}

// Dropped returns the number of writes that never reached the backend
// queue.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Failed returns the number of writes the backend rejected.
func (a *Async) Failed() int64 {
	return a.failed.Load()
}

// Close stops accepting writes, waits up to the drain timeout for pending
// ones and closes the backend.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	var errs []error
	timer := time.NewTimer(a.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		errs = append(errs, errors.New("timed out draining persistence queue"))
		a.log.Warnw("Persistence queue not drained before timeout", "pending", len(a.queue))
	}
	errs = append(errs, a.backend.Close())
	return errors.Join(errs...)
}
