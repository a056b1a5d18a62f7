package store

import (
	"context"
	"errors"
	"sync"
)

// NewMemory returns a collection held in process memory
func NewMemory(name string) *Collection {
	return newCollection(name, &memoryDriver{
		docs: make(map[string][]byte),
	})
}

type memoryDriver struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	order  []string
	closed bool
}

func (m *memoryDriver) list(_ context.Context, _ map[string]any) ([]stored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}

	rows := make([]stored, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, stored{id: id, raw: m.docs[id]})
	}
	return rows, nil
}

func (m *memoryDriver) get(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, errClosed
	}

	raw, ok := m.docs[id]
	return raw, ok, nil
}

func (m *memoryDriver) insert(_ context.Context, id string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	if _, exists := m.docs[id]; exists {
		return ErrConflict
	}

	m.docs[id] = raw
	m.order = append(m.order, id)
	return nil
}

func (m *memoryDriver) put(_ context.Context, id string, raw []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errClosed
	}

	_, exists := m.docs[id]
	m.docs[id] = raw
	if !exists {
		m.order = append(m.order, id)
	}
	return !exists, nil
}

func (m *memoryDriver) delete(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errClosed
	}

	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, exists := m.docs[id]; exists {
			delete(m.docs, id)
			removed[id] = true
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	order := m.order[:0]
	for _, id := range m.order {
		if !removed[id] {
			order = append(order, id)
		}
	}
	m.order = order
	return len(removed), nil
}

func (m *memoryDriver) ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errClosed
	}
	return nil
}

func (m *memoryDriver) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.docs = nil
	m.order = nil
	return nil
}

var errClosed = errors.New("collection is closed")
