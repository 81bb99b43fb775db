// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"sync"

	"github.com/bureau-foundation/helpdesk/lib/ref"
)

// dedupCache is a bounded most-recent-first list of processed event
// IDs. The homeserver can redeliver events after reconnects; the cache
// rejects them idempotently. Capacity is fixed at construction; the
// oldest entries fall off when it is exceeded.
type dedupCache struct {
	mu       sync.Mutex
	capacity int
	order    []ref.EventID
	index    map[ref.EventID]struct{}
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{
		capacity: capacity,
		index:    make(map[ref.EventID]struct{}, capacity),
	}
}

// Seen records the event ID and reports whether it had been recorded
// before. A true return means the event is a redelivery and must be
// dropped.
func (c *dedupCache) Seen(eventID ref.EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[eventID]; ok {
		return true
	}
	c.index[eventID] = struct{}{}
	c.order = append([]ref.EventID{eventID}, c.order...)
	for len(c.order) > c.capacity {
		oldest := c.order[len(c.order)-1]
		c.order = c.order[:len(c.order)-1]
		delete(c.index, oldest)
	}
	return false
}

// Len returns the number of cached event IDs.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// entityCache is a bounded get-or-load cache keyed by entity ID.
// Lifecycle operations invalidate entries on close and delete so
// routing decisions never act on a stale status.
type entityCache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[int64]V
	order    []int64
}

func newEntityCache[V any](capacity int) *entityCache[V] {
	return &entityCache[V]{
		capacity: capacity,
		entries:  make(map[int64]V, capacity),
	}
}

// GetOrLoad returns the cached value for id, or invokes load and
// caches its result. Load errors are not cached.
func (c *entityCache[V]) GetOrLoad(id int64, load func() (V, error)) (V, error) {
	c.mu.Lock()
	if value, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	value, err := load()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		c.entries[id] = value
		c.order = append(c.order, id)
		for len(c.order) > c.capacity {
			evicted := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, evicted)
		}
	}
	return value, nil
}

// Invalidate drops the cached value for id.
func (c *entityCache[V]) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return
	}
	delete(c.entries, id)
	for i, cached := range c.order {
		if cached == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
