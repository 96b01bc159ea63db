package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryBackend is a thread-safe in-process backend with TTL
// expiration and LRU eviction. It suits single-node deployments where
// invalidation happens in the same process as mutation.
type MemoryBackend struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List // front = most recently used
	maxSize  int

	hits      int64
	misses    int64
	evictions int64
}

type memoryEntry struct {
	key       string
	bits      uint64
	expiresAt time.Time
}

// NewMemoryBackend creates a memory backend holding at most maxSize
// entries. A non-positive maxSize selects a default of 10000.
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryBackend{
		items:    make(map[string]*list.Element, maxSize),
		eviction: list.New(),
		maxSize:  maxSize,
	}
}

// Get retrieves a cached value. Returns found=false on miss or expiry.
func (m *MemoryBackend) Get(_ context.Context, key string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.misses++
		return 0, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeLocked(elem)
		m.misses++
		return 0, false, nil
	}

	m.eviction.MoveToFront(elem)
	m.hits++
	return entry.bits, true, nil
}

// Set stores a value with the given TTL.
func (m *MemoryBackend) Set(_ context.Context, key string, bits uint64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.bits = bits
		entry.expiresAt = time.Now().Add(ttl)
		m.eviction.MoveToFront(elem)
		return nil
	}

	for m.eviction.Len() >= m.maxSize {
		back := m.eviction.Back()
		if back == nil {
			break
		}
		m.removeLocked(back)
		m.evictions++
	}

	elem := m.eviction.PushFront(&memoryEntry{
		key:       key,
		bits:      bits,
		expiresAt: time.Now().Add(ttl),
	})
	m.items[key] = elem
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

// Len returns the number of entries, including expired but unevicted.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eviction.Len()
}

// Stats returns hit/miss/eviction counters.
func (m *MemoryBackend) Stats() (hits, misses, evictions int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, m.evictions
}

func (m *MemoryBackend) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(m.items, entry.key)
	m.eviction.Remove(elem)
}
