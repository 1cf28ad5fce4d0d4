package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryIndex is an in-memory implementation of the Index interface.
// Used when caching is disabled: entries only live as long as the process.
type MemoryIndex struct {
	data map[Key]Record
	mu   sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		data: make(map[Key]Record),
	}
}

// Get retrieves the record for key
func (m *MemoryIndex) Get(ctx context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	rec, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrCacheNotFound
	}
	return &rec, nil
}

// Upsert stores rec, replacing any record with the same key
func (m *MemoryIndex) Upsert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[rec.Key] = rec
	return nil
}

// SelectOlderThan returns the records written at or before cutoff
func (m *MemoryIndex) SelectOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.data {
		if !rec.WrittenAt.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete removes records whose timestamp still matches
func (m *MemoryIndex) Delete(ctx context.Context, records []Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for _, rec := range records {
		current, exists := m.data[rec.Key]
		if exists && current.WrittenAt.Equal(rec.WrittenAt) {
			delete(m.data, rec.Key)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op
func (m *MemoryIndex) Close() error {
	return nil
}
