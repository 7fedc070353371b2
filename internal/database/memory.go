package database

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Nothing survives a restart;
// used in tests and for throwaway sessions.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) DatabaseType() string { return "Memory" }

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
