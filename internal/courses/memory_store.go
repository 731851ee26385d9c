package courses

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory course store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	courses map[string]*Course
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{courses: make(map[string]*Course)}
}

func (m *MemoryStore) Get(ctx context.Context, courseID string) (*Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[courseID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, c *Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.CourseID] = c.Clone()
	return nil
}

var _ Store = (*MemoryStore)(nil)
