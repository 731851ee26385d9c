package escrow

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows     map[string]*Escrow
	receipts    map[string]*PaymentReceipt // courseID + "\x00" + idempotencyKey
	submissions map[string]*Submission
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows:     make(map[string]*Escrow),
		receipts:    make(map[string]*PaymentReceipt),
		submissions: make(map[string]*Submission),
	}
}

func receiptKey(courseID, idempotencyKey string) string {
	return courseID + "\x00" + idempotencyKey
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.CourseID]; ok {
		return ErrAlreadyExists
	}
	m.escrows[e.CourseID] = e.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, courseID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[courseID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e)
}

func (m *MemoryStore) updateLocked(e *Escrow) error {
	stored, ok := m.escrows[e.CourseID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != e.Version {
		return ErrVersionConflict
	}
	cp := e.Clone()
	cp.Version++
	m.escrows[e.CourseID] = cp
	e.Version = cp.Version
	return nil
}

func (m *MemoryStore) UpdateWithReceipt(ctx context.Context, e *Escrow, r *PaymentReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.updateLocked(e); err != nil {
		return err
	}
	cp := *r
	m.receipts[receiptKey(r.CourseID, r.IdempotencyKey)] = &cp
	return nil
}

func (m *MemoryStore) GetReceipt(ctx context.Context, courseID, idempotencyKey string) (*PaymentReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.receipts[receiptKey(courseID, idempotencyKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sub
	m.submissions[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateSubmission(ctx context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.submissions[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.submissions[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) ListSubmissions(ctx context.Context, courseID string) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Submission
	for _, sub := range m.submissions {
		if sub.CourseID == courseID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListPendingSubmissions(ctx context.Context, limit int) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Submission
	for _, sub := range m.submissions {
		if sub.State == SubmissionPending {
			cp := *sub
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
