// Package cache provides a small bounded TTL cache for query results.
//
// Entries are immutable after insertion and expire lazily: an expired entry
// behaves exactly like a miss and is removed by the read that discovers it.
// There is no background eviction goroutine.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the result-cache lifetime used across the application.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds a cache when no explicit capacity is given.
const DefaultMaxEntries = 256

type entry[T any] struct {
	value      T
	capturedAt time.Time
}

// Cache is a bounded TTL cache keyed by deterministic query signatures.
type Cache[T any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry[T]
	now        func() time.Time
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithClock overrides the time source. Intended for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

// New creates a cache whose entries are valid for ttl and which holds at most
// maxEntries entries. Non-positive arguments fall back to the defaults.
func New[T any](ttl time.Duration, maxEntries int, opts ...Option[T]) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache[T]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry[T]),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives a deterministic cache key from the full set of query
// parameters. Parts are joined with a separator that cannot appear in
// timestamps or day strings, so distinct queries never collide.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Get returns the value stored under key if it is still within TTL. An
// expired entry is deleted and reported as a miss.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if c.now().Sub(e.capturedAt) >= c.ttl {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Put stores value under key with the current capture timestamp, overwriting
// any previous entry. When the cache is full, the entry with the oldest
// capture timestamp is evicted first.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[T]{value: value, capturedAt: c.now()}
}

// Len returns the number of stored entries, including any not yet observed
// as expired.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.capturedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.capturedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
