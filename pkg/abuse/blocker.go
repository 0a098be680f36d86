// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package abuse

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/window"
)

// BlockerConfig configures automatic blocking.
type BlockerConfig struct {
	// Threshold is the number of suspicious requests tolerated per Window.
	// The request after that blocks the client.
	Threshold int `yaml:"threshold"`
	// Window is the idle period after which the suspicion count restarts.
	Window time.Duration `yaml:"window"`
}

// DefaultBlockerConfig blocks a client after more than 100 requests to
// protected routes within an hour of each other.
func DefaultBlockerConfig() BlockerConfig {
	return BlockerConfig{Threshold: 100, Window: time.Hour}
}

// BlockedClient is an entry of the blocked set.
type BlockedClient struct {
	IP        string    `json:"ip"`
	BlockedAt time.Time `json:"blockedAt"`
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
}

// BlockStore persists the blocked set across restarts. The in-memory set
// stays authoritative.
type BlockStore interface {
	SaveBlock(ctx context.Context, b BlockedClient) error
	DeleteBlock(ctx context.Context, ip string) error
	LoadBlocks(ctx context.Context) ([]BlockedClient, error)
}

type suspicion struct {
	count    int
	lastSeen time.Time
}

// Blocker tracks suspicious activity per client and keeps the blocked set.
// Blocks never expire on their own; only Unblock lifts them.
type Blocker struct {
	cfg       BlockerConfig
	clock     clock.PassiveClock
	suspicion *window.Store[suspicion]
	blocked   *window.Store[BlockedClient]
	store     BlockStore
	recorder  *audit.Recorder
	log       *zap.SugaredLogger
}

// BlockerOption customises a Blocker.
type BlockerOption func(*Blocker)

// WithBlockStore persists blocks to store.
func WithBlockStore(store BlockStore) BlockerOption {
	return func(b *Blocker) { b.store = store }
}

// WithBlockerLogger sets the logger.
func WithBlockerLogger(log *zap.SugaredLogger) BlockerOption {
	return func(b *Blocker) { b.log = log }
}

// NewBlocker creates a Blocker.
func NewBlocker(cfg BlockerConfig, recorder *audit.Recorder, clk clock.PassiveClock, opts ...BlockerOption) *Blocker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	b := &Blocker{
		cfg:       cfg,
		clock:     clk,
		suspicion: window.NewStore[suspicion](0),
		blocked:   window.NewStore[BlockedClient](0),
		recorder:  recorder,
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsBlocked reports whether ip is in the blocked set.
func (b *Blocker) IsBlocked(ip string) bool {
	_, ok := b.blocked.Get(ip)
	return ok
}

// Track counts one suspicious request from ip and blocks it once the count
// exceeds the threshold. It returns the count and whether ip is now blocked.
func (b *Blocker) Track(ctx context.Context, ip string) (int, bool) {
	now := b.clock.Now()
	s := b.suspicion.Update(ip, func(cur suspicion, ok bool) (suspicion, bool) {
		if !ok || now.Sub(cur.lastSeen) > b.cfg.Window {
			cur.count = 0
		}
		cur.count++
		cur.lastSeen = now
		return cur, true
	})
	if s.count <= b.cfg.Threshold {
		return s.count, false
	}

	b.block(ctx, ip, "suspicious activity threshold exceeded", s.count)
	b.suspicion.Delete(ip)
	return s.count, true
}

// Block adds ip to the blocked set.
func (b *Blocker) Block(ctx context.Context, ip, reason string) {
	s, _ := b.suspicion.Get(ip)
	b.block(ctx, ip, reason, s.count)
}

func (b *Blocker) block(ctx context.Context, ip, reason string, count int) {
	entry := BlockedClient{IP: ip, BlockedAt: b.clock.Now().UTC(), Reason: reason, Count: count}
	added := false
	b.blocked.Update(ip, func(cur BlockedClient, ok bool) (BlockedClient, bool) {
		if ok {
			return cur, true
		}
		added = true
		return entry, true
	})
	if !added {
		return
	}

	metrics.BlockedClients.Set(float64(b.blocked.Len()))
	b.log.Warnw("Client blocked", "ip", ip, "reason", reason, "count", count)
	b.recorder.Emit(ctx, audit.EventClientBlocked, map[string]interface{}{
		"ip":     ip,
		"reason": reason,
		"count":  count,
	})
	if b.store != nil {
		if err := b.store.SaveBlock(ctx, entry); err != nil {
			metrics.PersistenceErrors.WithLabelValues("save_block").Inc()
			b.log.Warnw("Failed to persist client block", "ip", ip, "error", err)
		}
	}
}

// Unblock removes ip from the blocked set and resets its suspicion count.
// It reports whether ip was blocked.
func (b *Blocker) Unblock(ctx context.Context, ip string) bool {
	b.suspicion.Delete(ip)
	if !b.blocked.Delete(ip) {
		return false
	}
	metrics.BlockedClients.Set(float64(b.blocked.Len()))
	b.log.Infow("Client unblocked", "ip", ip)
	b.recorder.Emit(ctx, audit.EventClientUnblocked, map[string]interface{}{"ip": ip})
	if b.store != nil {
		if err := b.store.DeleteBlock(ctx, ip); err != nil {
			metrics.PersistenceErrors.WithLabelValues("delete_block").Inc()
			b.log.Warnw("Failed to delete persisted client block", "ip", ip, "error", err)
		}
	}
	return true
}

// Blocked returns the blocked set ordered by block time.
func (b *Blocker) Blocked() []BlockedClient {
	var out []BlockedClient
	b.blocked.Range(func(_ string, c BlockedClient) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].IP < out[j].IP
		}
		return out[i].BlockedAt.Before(out[j].BlockedAt)
	})
	return out
}

// SweepIdle removes suspicion counters idle for longer than the window.
// Blocked clients are not touched.
func (b *Blocker) SweepIdle() int {
	now := b.clock.Now()
	return b.suspicion.Sweep(func(_ string, s suspicion) bool {
		return now.Sub(s.lastSeen) > b.cfg.Window
	})
}

// Restore loads persisted blocks into memory.
func (b *Blocker) Restore(ctx context.Context) (int, error) {
	if b.store == nil {
		return 0, nil
	}
	entries, err := b.store.LoadBlocks(ctx)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("load_blocks").Inc()
		return 0, err
	}
	for _, e := range entries {
		b.blocked.Set(e.IP, e)
	}
	metrics.BlockedClients.Set(float64(b.blocked.Len()))
	b.log.Infow("Restored blocked clients", "count", len(entries))
	return len(entries), nil
}
