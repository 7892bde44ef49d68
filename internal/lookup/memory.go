package lookup

import (
	"sync"
	"time"

	"github.com/storeward/tenant-edge/internal/core"
)

// memoryCache is the in-process tier: a TTL map read by every request
// worker. Entries expire lazily on read; writers hold the lock briefly.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	info      *core.TenantInfo
	negative  bool
	expiresAt time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the cached tenant, whether the entry is a cached negative
// result, and whether a live entry existed at all.
func (m *memoryCache) Get(key string) (*core.TenantInfo, bool, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, false
	}

	if time.Now().After(entry.expiresAt) {
		m.Remove(key)
		return nil, false, false
	}

	return entry.info, entry.negative, true
}

func (m *memoryCache) Set(key string, info *core.TenantInfo, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{info: info, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

func (m *memoryCache) SetNegative(key string, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{negative: true, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

func (m *memoryCache) Remove(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}
