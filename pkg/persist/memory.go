// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/token"
)

// Memory is a process-local store. It keeps nothing across restarts and
// serves the default wiring and tests.
type Memory struct {
	mu          sync.Mutex
	revocations map[string]time.Time
	blocks      map[string]abuse.BlockedClient
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		revocations: make(map[string]time.Time),
		blocks:      make(map[string]abuse.BlockedClient),
	}
}

func (m *Memory) SaveRevocation(_ context.Context, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revocations[hash] = expiresAt
	return nil
}

func (m *Memory) LoadRevocations(context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.revocations), nil
}

func (m *Memory) SaveBlock(_ context.Context, b abuse.BlockedClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.IP] = b
	return nil
}

func (m *Memory) DeleteBlock(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, ip)
	return nil
}

func (m *Memory) LoadBlocks(context.Context) ([]abuse.BlockedClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]abuse.BlockedClient, 0, len(m.blocks))
	for _, b := range m.blocks {
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

var (
	_ token.RevocationStore = (*Memory)(nil)
	_ token.RevocationStore = (*Redis)(nil)
	_ abuse.BlockStore      = (*Memory)(nil)
	_ abuse.BlockStore      = (*Redis)(nil)
)
