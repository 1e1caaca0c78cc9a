package credential

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps entries in process memory. Nothing survives a restart;
// it backs --ephemeral runs and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// Read implements Backend.
func (m *MemoryBackend) Read(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}

	e.Blob = slices.Clone(e.Blob)

	return e, nil
}

// Write implements Backend.
func (m *MemoryBackend) Write(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.Blob = slices.Clone(e.Blob)
	m.entries[key] = e

	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
