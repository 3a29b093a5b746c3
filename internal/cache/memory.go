package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryTier is a pure in-memory SharedTier. It backs deployments without a
// memcached cluster and serves as the transparent fallback when the cluster
// is unreachable. Same lazy-expiry discipline as the fast tier.
type MemoryTier struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryTier creates an empty MemoryTier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{data: make(map[string]memoryEntry)}
}

// Get implements SharedTier. Never returns an error.
func (m *MemoryTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements SharedTier.
func (m *MemoryTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete implements SharedTier.
func (m *MemoryTier) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Ping implements SharedTier.
func (m *MemoryTier) Ping() error { return nil }
