package store

import "sync"

// Memory is a volatile store. It satisfies the durability contract only for
// the lifetime of the process; intended for tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Load(name string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	return rec, ok, nil
}

func (m *Memory) Save(name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = rec
	return nil
}

func (m *Memory) Flush() error { return nil }

func (m *Memory) Close() error { return nil }
