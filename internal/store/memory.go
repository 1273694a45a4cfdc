package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryKV is an in-process ordered KV used by tests and ephemeral chains.
type MemoryKV struct {
	mu     sync.RWMutex
	keys   [][]byte
	values map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (m *MemoryKV) Set(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	if _, ok := m.values[k]; !ok {
		idx := m.search(key)
		m.keys = append(m.keys, nil)
		copy(m.keys[idx+1:], m.keys[idx:])
		m.keys[idx] = bytes.Clone(key)
	}
	m.values[k] = bytes.Clone(value)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	if _, ok := m.values[k]; !ok {
		return nil
	}
	delete(m.values, k)
	idx := m.search(key)
	if idx < len(m.keys) && bytes.Equal(m.keys[idx], key) {
		m.keys = append(m.keys[:idx], m.keys[idx+1:]...)
	}
	return nil
}

func (m *MemoryKV) Iterator(_ context.Context, start, end []byte, order Order) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo := 0
	if start != nil {
		lo = m.search(start)
	}
	hi := len(m.keys)
	if end != nil {
		hi = m.search(end)
	}
	it := &sliceIterator{}
	if lo >= hi {
		return it, nil
	}
	n := hi - lo
	it.keys = make([][]byte, 0, n)
	it.values = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		idx := lo + i
		if order == Descending {
			idx = hi - 1 - i
		}
		key := m.keys[idx]
		it.keys = append(it.keys, bytes.Clone(key))
		it.values = append(it.values, bytes.Clone(m.values[string(key)]))
	}
	return it, nil
}

// Len reports the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

func (m *MemoryKV) search(key []byte) int {
	return sort.Search(len(m.keys), func(i int) bool {
		return bytes.Compare(m.keys[i], key) >= 0
	})
}
