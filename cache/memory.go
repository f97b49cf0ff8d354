package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxEntries = 4096

type memoryEntry struct {
	value      []byte
	generation uint64
	expiresAt  time.Time
}

// MemoryBackend is an in-process Backend on an expirable LRU. Generation
// counters are kept outside the LRU so eviction never resets them.
type MemoryBackend struct {
	mu    sync.Mutex
	lru   *lru.LRU[string, memoryEntry]
	gens  map[string]uint64
	clock func() time.Time
}

// NewMemoryBackend creates a memory backend holding at most maxEntries
// values. maxEntries <= 0 selects a default of 4096. A nil clock uses
// time.Now.
func NewMemoryBackend(maxEntries int, clock func() time.Time) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryBackend{
		// Per-key TTLs are enforced on read; the LRU's own TTL is only a
		// backstop for entries nobody reads again.
		lru:   lru.NewLRU[string, memoryEntry](maxEntries, nil, time.Hour),
		gens:  make(map[string]uint64),
		clock: clock,
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.lru.Get(key)
	if !ok {
		return Entry{Generation: m.gens[key]}, false, nil
	}
	if m.clock().After(ent.expiresAt) {
		m.lru.Remove(key)
		return Entry{Generation: m.gens[key]}, false, nil
	}
	return Entry{Value: ent.value, Generation: ent.generation}, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.gens[key] + 1
	m.gens[key] = gen
	m.lru.Add(key, memoryEntry{
		value:      value,
		generation: gen,
		expiresAt:  m.clock().Add(ttl),
	})
	return Entry{Value: value, Generation: gen}, nil
}

func (m *MemoryBackend) CompareAndSet(_ context.Context, key string, value []byte, ttl time.Duration, expect uint64) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gens[key] != expect {
		return Entry{}, false, nil
	}
	gen := expect + 1
	m.gens[key] = gen
	m.lru.Add(key, memoryEntry{
		value:      value,
		generation: gen,
		expiresAt:  m.clock().Add(ttl),
	})
	return Entry{Value: value, Generation: gen}, true, nil
}

// Delete advances the generation even when the key holds no value, so a
// conditional write stamped before the eviction cannot land afterward.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[key]++
	m.lru.Remove(key)
	return nil
}

// Flush drops all values. Generation counters survive so post-flush
// writes keep monotonic stamps.
func (m *MemoryBackend) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	return nil
}
