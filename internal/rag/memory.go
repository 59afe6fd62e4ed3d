package rag

import (
	"context"
	"sync"
)

// MemoryStore keeps cases in process memory. Used in tests and when no
// durable backend is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	cases []HistoricalCase
	dim   int
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of the case.
func (m *MemoryStore) Append(_ context.Context, c HistoricalCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim != 0 && len(c.Embedding) != m.dim {
		return ErrDimensionMismatch
	}
	m.dim = len(c.Embedding)
	c.Embedding = append([]float32(nil), c.Embedding...)
	m.cases = append(m.cases, c)
	return nil
}

// Query ranks matching cases by cosine distance.
func (m *MemoryStore) Query(_ context.Context, embedding []float32, filter Filter, k int) ([]Match, error) {
	m.mu.RLock()
	candidates := make([]HistoricalCase, 0, len(m.cases))
	for _, c := range m.cases {
		if filter.District != "" && c.Metadata.District != filter.District {
			continue
		}
		candidates = append(candidates, c)
	}
	m.mu.RUnlock()
	return rankByDistance(embedding, candidates, k)
}

// Count returns the number of stored cases.
func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases), nil
}

func (m *MemoryStore) Location() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }
