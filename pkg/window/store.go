// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package window provides the concurrency-safe keyed state and time-window
// counters shared by the token, abuse and alert components.
package window

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by NewStore when zero is passed.
const DefaultShards = 32

// Store is a sharded map guarded by one mutex per shard. Unrelated keys only
// contend when they hash to the same shard.
type Store[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// NewStore creates a store with n shards (DefaultShards if n <= 0).
func NewStore[V any](n int) *Store[V] {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Store[V]{shards: make([]*shard[V], n)}
	for i := range s.shards {
		s.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return s
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Update runs fn under the key's shard lock and stores the value it returns.
// fn receives the current value and whether it exists; returning keep=false
// deletes the key. The read-modify-write is atomic with respect to every
// other operation on the same key.
func (s *Store[V]) Update(key string, fn func(cur V, ok bool) (next V, keep bool)) V {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.items[key]
	next, keep := fn(cur, ok)
	if keep {
		sh.items[key] = next
	} else {
		delete(sh.items, key)
	}
	return next
}

// Get returns the value stored under key.
func (s *Store[V]) Get(key string) (V, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.items[key]
	return v, ok
}

// Set stores v under key, replacing any previous value.
func (s *Store[V]) Set(key string, v V) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = v
	sh.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.items[key]
	delete(sh.items, key)
	return ok
}

// Len returns the number of keys. The result is a sum over shards taken one
// at a time, so it is approximate under concurrent writes.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Range calls fn for every entry, one shard at a time. fn must not call back
// into the store.
func (s *Store[V]) Range(fn func(key string, v V) bool) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, v := range sh.items {
			if !fn(k, v) {
				sh.mu.Unlock()
				return
			}
		}
		sh.mu.Unlock()
	}
}

// Sweep deletes every entry for which remove returns true and returns the
// number of deleted entries. Only one shard is locked at a time.
func (s *Store[V]) Sweep(remove func(key string, v V) bool) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, v := range sh.items {
			if remove(k, v) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
