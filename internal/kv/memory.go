package kv

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds a stored value with its expiration.
type memoryEntry struct {
	Value      []byte
	Expiration time.Time
}

// MemoryStore is a thread-safe in-process Store with TTL. State does not
// survive a restart and is not shared between replicas, so it is only suitable
// for local development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store that evaluates TTLs against now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		now:   now,
	}
}

// Get retrieves a value if it exists and hasn't expired.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(entry.Value), nil
}

// Put stores a value with the given TTL. A non-positive TTL stores nothing.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.items, key)
		return nil
	}
	m.items[key] = memoryEntry{
		Value:      cloneBytes(value),
		Expiration: m.now().Add(ttl),
	}
	return nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// Take deletes key and returns its previous value under a single lock.
func (m *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	delete(m.items, key)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.items {
		if _, ok := m.lookup(key); ok {
			n++
		}
	}
	return n
}

// lookup returns a live entry, purging it if expired. Callers hold m.mu.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(entry.Expiration) {
		delete(m.items, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
