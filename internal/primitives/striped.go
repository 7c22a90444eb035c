// Package primitives provides the low-level concurrency building blocks
// shared by every other subsystem: a striped concurrent map, two wait
// strategies (condvar slots and adaptive spin; there is no futex-based
// strategy), an RCU cell, a seqlock, and a bump arena.
package primitives

import (
	"hash/maphash"
	"sync"
)

// stripeCount picks the smallest power of two >= cpu*multiplier, clamped
// to [8, 512], per spec DESIGN NOTES.
func stripeCount(cpu, multiplier int) int {
	target := cpu * multiplier
	if target < 8 {
		target = 8
	}
	if target > 512 {
		target = 512
	}
	n := 1
	for n < target {
		n <<= 1
	}
	if n > 512 {
		n = 512
	}
	return n
}

var seed = maphash.MakeSeed()

func hashKey(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	_, _ = h.WriteString(key)
	return h.Sum64()
}

// StripedMap is an N-shard concurrent map keyed by string, each shard
// protected by its own RWMutex. Shard selection is hash(key) % N.
type StripedMap[V any] struct {
	shards []*mapShard[V]
	mask   uint64
}

type mapShard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// NewStripedMap creates a striped map with nShards rounded up to a power
// of two. nShards <= 0 selects a default sized for typical hardware
// concurrency (8 shards).
func NewStripedMap[V any](nShards int) *StripedMap[V] {
	if nShards <= 0 {
		nShards = stripeCount(4, 2)
	}
	n := 1
	for n < nShards {
		n <<= 1
	}
	shards := make([]*mapShard[V], n)
	for i := range shards {
		shards[i] = &mapShard[V]{m: make(map[string]V)}
	}
	return &StripedMap[V]{shards: shards, mask: uint64(n - 1)}
}

func (s *StripedMap[V]) shardFor(key string) *mapShard[V] {
	return s.shards[hashKey(key)&s.mask]
}

// Get returns the value for key and whether it was present.
func (s *StripedMap[V]) Get(key string) (V, bool) {
	shard := s.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	v, ok := shard.m[key]
	return v, ok
}

// Set stores value under key.
func (s *StripedMap[V]) Set(key string, value V) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.m[key] = value
}

// Delete removes key, a no-op if absent.
func (s *StripedMap[V]) Delete(key string) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.m, key)
}

// Len acquires every shard and sums their sizes; use sparingly.
func (s *StripedMap[V]) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.m)
		shard.mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry, acquiring each shard's read lock in
// turn. fn must not call back into the map.
func (s *StripedMap[V]) Range(fn func(key string, value V) bool) {
	for _, shard := range s.shards {
		shard.mu.RLock()
		for k, v := range shard.m {
			if !fn(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Update atomically reads and rewrites the value under key. If the key is
// absent, fn receives the zero value and ok=false; returning ok=false
// from fn leaves the map unmodified.
func (s *StripedMap[V]) Update(key string, fn func(V, bool) (V, bool)) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	cur, ok := shard.m[key]
	next, keep := fn(cur, ok)
	if keep {
		shard.m[key] = next
	} else {
		delete(shard.m, key)
	}
}
