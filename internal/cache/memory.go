package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MMatviiuk/medtrack/internal/clock"
)

// sweepInterval bounds how often Set scans for expired entries.
const sweepInterval = time.Minute

// MemoryKVStore is a process-local KVStore used when Redis is not configured.
// Expired entries are dropped on read and by a periodic sweep on write, so
// keys that are never read again do not pile up.
type MemoryKVStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	data      map[string]memoryItem
	lastSweep time.Time
}

type memoryItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func NewMemoryKVStore(c clock.Clock) *MemoryKVStore {
	if c == nil {
		c = clock.New()
	}
	return &MemoryKVStore{
		clock:     c,
		data:      make(map[string]memoryItem),
		lastSweep: c.Now(),
	}
}

func (m *MemoryKVStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !item.expires.IsZero() && !m.clock.Now().Before(item.expires) {
		delete(m.data, key)
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (m *MemoryKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if now.Sub(m.lastSweep) >= sweepInterval {
		m.sweep(now)
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.data[key] = memoryItem{value: value, expires: exp}
	return nil
}

func (m *MemoryKVStore) sweep(now time.Time) {
	for key, item := range m.data {
		if !item.expires.IsZero() && !now.Before(item.expires) {
			delete(m.data, key)
		}
	}
	m.lastSweep = now
}
