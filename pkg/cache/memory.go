package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxEntries bounds the in-process cache. Four concerns per active
// user means this covers roughly sixteen thousand users before eviction.
const DefaultMaxEntries = 65536

// Memory is a process-local Store backed by a bounded expirable LRU.
// Expired entries are misses at read time; the LRU also reclaims them in
// the background, which does not change read semantics.
type Memory struct {
	lru *expirable.LRU[string, []byte]
	ttl time.Duration
}

// NewMemory creates an in-process cache store. A non-positive ttl falls
// back to DefaultTTL, a non-positive maxEntries to DefaultMaxEntries.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
		ttl: ttl,
	}
}

// Get returns the cached value or ErrMiss for absent/expired keys.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return value, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.lru.Add(key, value)
	return nil
}

// Delete removes the given keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.lru.Remove(key)
	}
	return nil
}

// Clear removes every entry.
func (m *Memory) Clear(_ context.Context) error {
	m.lru.Purge()
	return nil
}

// TTL reports the store's time-to-live.
func (m *Memory) TTL() time.Duration {
	return m.ttl
}

// Len reports the current number of entries, for metrics.
func (m *Memory) Len() int {
	return m.lru.Len()
}
