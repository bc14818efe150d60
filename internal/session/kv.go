// Package session persists the cross-turn continuity state: the last
// response id per conversation and the thought signatures attached to tool
// calls. All persistence is best-effort; a failing or absent backend never
// affects the client response.
package session

import (
	"context"
	"sync"
	"time"
)

// KV is the byte-addressable cache capability the stores are built on.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// memoryEntry is one value with its expiry deadline.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKV is the default in-process backend: a TTL map with an
// opportunistic expiry sweep on write.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	writes  int
}

// NewMemoryKV returns an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: map[string]memoryEntry{}}
}

// Get returns the stored value unless it has expired.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Put stores a whole-value replacement; every 64th write sweeps expired
// entries so an idle key set does not grow unbounded.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.writes++
	if m.writes%64 == 0 {
		now := time.Now()
		for k, e := range m.entries {
			if now.After(e.expiresAt) {
				delete(m.entries, k)
			}
		}
	}
	return nil
}

// NoopKV is the stateless-mode backend: all gets miss, all puts succeed
// without storing anything.
type NoopKV struct{}

func (NoopKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NoopKV) Put(context.Context, string, []byte, time.Duration) error { return nil }
