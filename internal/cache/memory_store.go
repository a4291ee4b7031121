package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and as a fallback when the
// cache database cannot be opened.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		return "", false
	}
	return e.value, true
}

// MGet implements Store.
func (m *MemoryStore) MGet(ctx context.Context, keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := m.Get(ctx, key); ok {
			result[key] = v
		}
	}
	return result
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	return m.MSet(ctx, []Item{{Key: key, Value: value, TTL: ttl}})
}

// MSet implements Store.
func (m *MemoryStore) MSet(_ context.Context, items []Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		e := memoryEntry{value: item.Value}
		if item.TTL > 0 {
			e.expiresAt = time.Now().Add(item.TTL)
		}
		m.entries[item.Key] = e
	}
	return true
}

// Del implements Store.
func (m *MemoryStore) Del(_ context.Context, keys ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return true
}

// FlushAll implements Store.
func (m *MemoryStore) FlushAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Entries: int64(len(m.entries)), Available: true}
}

// Available implements Store.
func (m *MemoryStore) Available() bool {
	return true
}
