package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a map-backed VectorStore for tests and single-process
// development.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]Record)}
}

// BulkRead implements VectorStore.
func (m *Memory) BulkRead(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements VectorStore.
func (m *Memory) Get(ctx context.Context, id string) (*Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok {
		return nil, false, nil
	}
	c := r.Clone()
	return &c, true, nil
}

// Upsert implements VectorStore.
func (m *Memory) Upsert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec.Clone()
	return nil
}

// Delete implements VectorStore.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
