package reconciler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nmwade/edupay/internal/idgen"
)

// Manual is an in-process reconciler for demo/development mode. It
// derives the same deterministic script addresses as the chain
// reconciler but settles instructions instantly in memory.
type Manual struct {
	mu   sync.Mutex
	txs  map[string]ConfirmStatus
	next ConfirmStatus // outcome assigned to the next submission
}

// NewManual creates a manual reconciler that confirms everything.
func NewManual() *Manual {
	return &Manual{
		txs:  make(map[string]ConfirmStatus),
		next: Confirmed,
	}
}

// SetNextOutcome overrides the status given to subsequent submissions.
// Used to exercise pending/failed paths without a chain.
func (m *Manual) SetNextOutcome(s ConfirmStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = s
}

// Settle forces a known submission to a terminal status.
func (m *Manual) Settle(txRef string, s ConfirmStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[txRef]; ok {
		m.txs[txRef] = s
	}
}

func (m *Manual) EnsureScript(ctx context.Context, courseID string) (string, error) {
	return DeriveScriptAddress(courseID), nil
}

func (m *Manual) SubmitRelease(ctx context.Context, scriptAddress, amount, payoutKey string) (string, error) {
	return m.submit(), nil
}

func (m *Manual) SubmitRefund(ctx context.Context, scriptAddress, payerKey string) (string, error) {
	return m.submit(), nil
}

func (m *Manual) submit() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := idgen.WithPrefix("tx_")
	m.txs[ref] = m.next
	return ref
}

func (m *Manual) Confirm(ctx context.Context, txRef string) (ConfirmStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.txs[txRef]
	if !ok {
		return Failed, fmt.Errorf("unknown txRef %s", txRef)
	}
	return s, nil
}

// DeriveScriptAddress maps a course to its value-holding script address
// deterministically, so every component agrees without coordination.
func DeriveScriptAddress(courseID string) string {
	h := crypto.Keccak256([]byte("edupay.script.v1:" + courseID))
	return fmt.Sprintf("0x%x", h[12:])
}

var _ Reconciler = (*Manual)(nil)
