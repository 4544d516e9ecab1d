// Package cache deduplicates checks by cache key. The first caller to claim
// a key owns the check; everyone else waits on the entry until the owner
// publishes the result.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotClaimed is returned when publishing a key nobody claimed, or one
// that was already published.
var ErrNotClaimed = errors.New("cache key not claimed")

// Entry holds the result for one key once it is published.
type Entry[T any] struct {
	done  chan struct{}
	value T
}

// Wait blocks until the entry is published or ctx ends.
func (e *Entry[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-e.done:
		return e.value, nil
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("wait for cached result: %w", ctx.Err())
	}
}

// Ready reports whether the entry was published.
func (e *Entry[T]) Ready() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Cache is a process-scoped result cache. Entries are never evicted.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
}

// New returns an empty cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[string]*Entry[T])}
}

// Claim looks key up and inserts a placeholder when it is missing. owner is
// true for exactly one caller per key; that caller must Publish.
func (c *Cache[T]) Claim(key string) (entry *Entry[T], owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e, false
	}
	e := &Entry[T]{done: make(chan struct{})}
	c.entries[key] = e
	return e, true
}

// Publish stores the owner's result and releases all waiters.
func (c *Cache[T]) Publish(key string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.Ready() {
		return fmt.Errorf("%w: %s", ErrNotClaimed, key)
	}
	e.value = value
	close(e.done)
	return nil
}

// Lookup returns the published result for key.
func (c *Cache[T]) Lookup(key string) (T, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok || !e.Ready() {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Has reports whether key has a published result.
func (c *Cache[T]) Has(key string) bool {
	_, ok := c.Lookup(key)
	return ok
}

// Len returns the number of claimed keys.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
