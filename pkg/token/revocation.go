// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/metrics"
	"github.com/Kalypss/PortFolio/pkg/window"
)

// RevocationStore persists revocations across restarts. The in-memory set
// stays authoritative: a failed store write never un-revokes a token.
type RevocationStore interface {
	SaveRevocation(ctx context.Context, hash string, expiresAt time.Time) error
	LoadRevocations(ctx context.Context) (map[string]time.Time, error)
}

type revocationSet struct {
	entries *window.Store[time.Time]
	store   RevocationStore
	log     *zap.SugaredLogger
}

func newRevocationSet() *revocationSet {
	return &revocationSet{entries: window.NewStore[time.Time](0), log: zap.NewNop().Sugar()}
}

func (r *revocationSet) add(ctx context.Context, hash string, expiresAt time.Time) {
	r.entries.Set(hash, expiresAt)
	if r.store == nil {
		return
	}
	if err := r.store.SaveRevocation(ctx, hash, expiresAt); err != nil {
		metrics.PersistenceErrors.WithLabelValues("save_revocation").Inc()
		r.log.Warnw("Failed to persist token revocation", "error", err)
	}
}

func (r *revocationSet) contains(hash string) bool {
	_, ok := r.entries.Get(hash)
	return ok
}

func (r *revocationSet) len() int {
	return r.entries.Len()
}

func (r *revocationSet) sweep(now time.Time) int {
	return r.entries.Sweep(func(_ string, expiresAt time.Time) bool {
		return expiresAt.Before(now)
	})
}

func (r *revocationSet) restore(ctx context.Context, now time.Time) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	loaded, err := r.store.LoadRevocations(ctx)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("load_revocations").Inc()
		return 0, err
	}
	n := 0
	for hash, expiresAt := range loaded {
		if expiresAt.Before(now) {
			continue
		}
		r.entries.Set(hash, expiresAt)
		n++
	}
	r.log.Infow("Restored token revocations", "count", n)
	return n, nil
}
