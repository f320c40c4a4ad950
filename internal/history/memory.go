package history

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Append(_ context.Context, studentID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[studentID] = append(m.entries[studentID], e)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, studentID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry{}, m.entries[studentID]...), nil
}

func (m *MemoryStore) Purge(_ context.Context, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[studentID]
	delete(m.entries, studentID)
	return ok, nil
}

func (m *MemoryStore) Students(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.entries))
	for id, es := range m.entries {
		s := Summary{StudentID: id, Count: len(es)}
		if len(es) > 0 {
			s.Last = es[len(es)-1].Timestamp
		}
		out = append(out, s)
	}
	sortSummaries(out)
	return out, nil
}
