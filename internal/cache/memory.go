// Package cache provides the two-tier pattern cache: a bounded in-process
// LRU with TTL expiry in front of an optional shared distributed tier, with
// the store as system-of-record behind both.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// sweepEvery is the number of writes between expired-entry sweeps. Expired
// entries are also dropped lazily on access, so the sweep only bounds how
// long untouched garbage can linger.
const sweepEvery = 256

type entry struct {
	expiresAt  time.Time
	accessedAt time.Time
	key        string
	value      any
}

// memoryCache is the in-process tier: LRU eviction at maxEntries, per-entry
// TTL. A single mutex guards the map and recency list; every critical
// section is O(1) except the periodic sweep.
type memoryCache struct {
	clock      func() time.Time
	items      map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	writes     int
	mu         sync.Mutex
}

func newMemoryCache(maxEntries int, ttl time.Duration, clock func() time.Time) *memoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &memoryCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// get returns the cached value and refreshes its recency. Expired entries
// are removed and reported as misses.
func (m *memoryCache) get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry)
	now := m.clock()
	if now.After(e.expiresAt) {
		m.removeElement(elem)
		return nil, false
	}
	e.accessedAt = now
	m.order.MoveToFront(elem)
	return e.value, true
}

// set inserts or replaces a value, evicting from the cold end when full.
func (m *memoryCache) set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if elem, ok := m.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.accessedAt = now
		e.expiresAt = now.Add(m.ttl)
		m.order.MoveToFront(elem)
		return
	}

	e := &entry{
		key:        key,
		value:      value,
		accessedAt: now,
		expiresAt:  now.Add(m.ttl),
	}
	m.items[key] = m.order.PushFront(e)

	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		if oldest := m.order.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}

	m.writes++
	if m.writes >= sweepEvery {
		m.writes = 0
		m.sweep(now)
	}
}

func (m *memoryCache) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// deletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (m *memoryCache) deletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if len(e.key) >= len(prefix) && e.key[:len(prefix)] == prefix {
			m.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

func (m *memoryCache) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
}

func (m *memoryCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// sweep drops expired entries. Caller must hold the mutex.
func (m *memoryCache) sweep(now time.Time) {
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*entry).expiresAt) {
			m.removeElement(elem)
		}
		elem = next
	}
}

// removeElement must be called with the mutex held.
func (m *memoryCache) removeElement(elem *list.Element) {
	m.order.Remove(elem)
	delete(m.items, elem.Value.(*entry).key)
}
