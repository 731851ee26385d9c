// Package escrow implements milestone-based settlement for course payments.
//
// Flow:
//  1. Payer funds a course → payment accumulates in the escrow record
//  2. Learners watch, rate, comment → engagement signals gate milestones
//  3. Milestones eligible → release instructions submitted to the ledger
//  4. Submission confirmed → milestone committed, paidOut advances
//  5. Dispute window elapses → final release via explicit resolution
//  6. Dispute raised in window → refund path until resolved
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("escrow not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAlreadyExists      = errors.New("escrow already exists for this course")
	ErrAlreadyResolved    = errors.New("escrow already resolved")
	ErrResolutionConflict = errors.New("conflicting resolution for resolved escrow")
	ErrWindowClosed       = errors.New("dispute window has closed")
	ErrAlreadyDisputed    = errors.New("escrow is already disputed")
	ErrUnauthorized       = errors.New("not authorized for this escrow operation")
	ErrVersionConflict    = errors.New("escrow was modified concurrently")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusPending  Status = "PENDING"  // Created, no funds locked yet
	StatusActive   Status = "ACTIVE"   // Funds locked at the script address
	StatusDisputed Status = "DISPUTED" // Dispute open, milestone evaluation halted
	StatusReleased Status = "RELEASED" // Final release committed, terminal
	StatusRefunded Status = "REFUNDED" // Refund committed, terminal
)

// Escrow is the off-chain record mirroring value locked at a
// distributed-ledger script address for one course.
//
// NetTotal and PaidOut are base-unit integer strings and only ever grow.
type Escrow struct {
	CourseID      string `json:"courseId"`
	PayoutKey     string `json:"payoutKey"`
	OracleKey     string `json:"oracleKey"`
	PayerKey      string `json:"payerKey,omitempty"`
	ScriptAddress string `json:"scriptAddress,omitempty"`

	NetTotal  string `json:"netTotal"`
	PaidOut   string `json:"paidOut"`
	PaidCount int    `json:"paidCount"`

	Released30    bool `json:"released30"`
	Released40    bool `json:"released40"`
	ReleasedFinal bool `json:"releasedFinal"`

	Comments    int                `json:"comments"`
	RatingSum   int                `json:"ratingSum"`
	RatingCount int                `json:"ratingCount"`
	Watchers    map[string]float64 `json:"watchers,omitempty"`
	AllWatchMet bool               `json:"allWatchMet"`

	FirstWatch *time.Time `json:"firstWatch,omitempty"`
	DisputeBy  *time.Time `json:"disputeBy,omitempty"`

	Status        Status     `json:"status"`
	DisputeReason string     `json:"disputeReason,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusReleased || e.Status == StatusRefunded
}

// Clone returns a deep copy safe to hand across goroutines.
func (e *Escrow) Clone() *Escrow {
	cp := *e
	if e.Watchers != nil {
		cp.Watchers = make(map[string]float64, len(e.Watchers))
		for k, v := range e.Watchers {
			cp.Watchers[k] = v
		}
	}
	return &cp
}

// SubmissionState tracks a ledger submission through its lifecycle.
type SubmissionState string

const (
	SubmissionPending   SubmissionState = "pending"
	SubmissionConfirmed SubmissionState = "confirmed"
	SubmissionFailed    SubmissionState = "failed"
)

// Submission is a durable record of one release/refund instruction sent
// to the ledger. The escrow's milestone booleans and paidOut advance only
// when the submission confirms; failed submissions stay for audit and the
// milestone becomes eligible again on the next evaluation.
type Submission struct {
	ID          string          `json:"id"`
	CourseID    string          `json:"courseId"`
	Kind        string          `json:"kind"` // "release" or "refund"
	Milestone   Milestone       `json:"milestone,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	TxRef       string          `json:"txRef,omitempty"`
	State       SubmissionState `json:"state"`
	LastError   string          `json:"lastError,omitempty"`
	Attempts    int             `json:"attempts"`
	NextCheckAt time.Time       `json:"nextCheckAt"`
	ReportedAt  *time.Time      `json:"reportedAt,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	ConfirmedAt *time.Time      `json:"confirmedAt,omitempty"`
}

// PaymentReceipt records the outcome of an accepted or replayed payment
// event, keyed by idempotency key. Replays return the stored receipt
// without touching the escrow.
type PaymentReceipt struct {
	CourseID       string    `json:"courseId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Amount         string    `json:"amount"`
	NetTotal       string    `json:"netTotal"` // netTotal after this payment applied
	PaidOut        string    `json:"paidOut"`  // paidOut at the time of acceptance
	PaidCount      int       `json:"paidCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists escrow data.
//
// Update and UpdateWithReceipt check the escrow's version against the
// stored row and return ErrVersionConflict on mismatch; on success the
// stored version is incremented. UpdateWithReceipt writes the escrow row
// and the payment receipt atomically.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, courseID string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	UpdateWithReceipt(ctx context.Context, e *Escrow, r *PaymentReceipt) error
	GetReceipt(ctx context.Context, courseID, idempotencyKey string) (*PaymentReceipt, error)

	CreateSubmission(ctx context.Context, sub *Submission) error
	UpdateSubmission(ctx context.Context, sub *Submission) error
	ListSubmissions(ctx context.Context, courseID string) ([]*Submission, error)
	ListPendingSubmissions(ctx context.Context, limit int) ([]*Submission, error)
}

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	CourseID      string `json:"courseId" binding:"required"`
	PayoutKey     string `json:"payoutKey" binding:"required"`
	OracleKey     string `json:"oracleKey" binding:"required"`
	PayerKey      string `json:"payerKey"`
	InitialAmount string `json:"initialAmount"`
	WatchMet      bool   `json:"watchMet"`
	RatingX10     int    `json:"ratingX10"`
	Commented     bool   `json:"commented"`
	FirstWatchAt  string `json:"firstWatchAt"` // RFC 3339
}

// AddPaymentRequest contains the parameters for a payment event.
// The engagement fields piggyback on the payment the way the platform
// webhook delivers them; the engagement endpoint accepts them separately.
type AddPaymentRequest struct {
	CourseID       string `json:"courseId" binding:"required"`
	GrossAmount    string `json:"grossAmount" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
	WatchMet       bool   `json:"watchMet"`
	RatingX10      int    `json:"ratingX10"`
	Commented      bool   `json:"commented"`
	FirstWatchAt   string `json:"firstWatchAt"`
}

// PaymentResult is the outcome of one add-payment call.
type PaymentResult struct {
	Accepted           bool        `json:"accepted"`
	Duplicate          bool        `json:"duplicate,omitempty"`
	NetTotal           string      `json:"netTotal"`
	PaidOut            string      `json:"paidOut"`
	MilestonesReleased []Milestone `json:"milestonesReleased"`
	ImmediatePayout    string      `json:"immediatePayout"`
	PendingMilestones  []Milestone `json:"pendingMilestones,omitempty"`
}

// DisputeRequest contains the parameters for opening a dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest contains the parameters for terminal resolution.
type ResolveRequest struct {
	Action   string `json:"action" binding:"required"` // "release" or "refund"
	Override bool   `json:"override"`                  // admin-only: release before final preconditions
}

// Authority is the verified caller identity behind a dispute/resolve call.
type Authority struct {
	Key   string
	Admin bool
}
