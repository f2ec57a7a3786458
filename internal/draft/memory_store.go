package draft

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It does not survive restarts and is
// meant for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[Key]Record{}}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Answers = rec.Answers.Clone()
	return &rec, nil
}

func (m *MemoryStore) Merge(_ context.Context, key Key, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[key]
	patch.Apply(&rec, time.Now())
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
