package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/phrazzld/cadence-api/internal/store"
)

// State is a key/value store whose entries carry a revision used as an
// etag. Missing keys yield store.ErrNotFound and stale etags
// store.ErrConflict.
type State interface {
	Get(ctx context.Context, key string) ([]byte, uint64, error)

	// Save writes unconditionally when etag is zero.
	Save(ctx context.Context, key string, value []byte, etag uint64) (uint64, error)

	// Create fails with store.ErrConflict when key exists.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Delete is conditional when etag is non-zero.
	Delete(ctx context.Context, key string, etag uint64) error

	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryState is an in-process State with the same revision semantics as a
// JetStream KV bucket.
type MemoryState struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	rev     uint64
}

type memoryEntry struct {
	value []byte
	rev   uint64
}

// NewMemoryState creates an empty MemoryState.
func NewMemoryState() *MemoryState {
	return &MemoryState{entries: make(map[string]memoryEntry)}
}

var _ State = (*MemoryState)(nil)

// Get implements State.
func (m *MemoryState) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, 0, fmt.Errorf("get %s: %w", key, store.ErrNotFound)
	}
	return append([]byte(nil), e.value...), e.rev, nil
}

// Save implements State.
func (m *MemoryState) Save(ctx context.Context, key string, value []byte, etag uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if etag != 0 {
		e, ok := m.entries[key]
		if !ok || e.rev != etag {
			return 0, fmt.Errorf("save %s: %w", key, store.ErrConflict)
		}
	}
	return m.put(key, value), nil
}

// Create implements State.
func (m *MemoryState) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return 0, fmt.Errorf("create %s: %w", key, store.ErrConflict)
	}
	return m.put(key, value), nil
}

// Delete implements State.
func (m *MemoryState) Delete(ctx context.Context, key string, etag uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if etag != 0 && (!ok || e.rev != etag) {
		return fmt.Errorf("delete %s: %w", key, store.ErrConflict)
	}
	delete(m.entries, key)
	return nil
}

// Keys implements State.
func (m *MemoryState) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryState) put(key string, value []byte) uint64 {
	m.rev++
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), rev: m.rev}
	return m.rev
}
