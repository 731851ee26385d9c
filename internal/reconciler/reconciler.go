// Package reconciler is the boundary to the distributed ledger that
// actually moves funds.
//
// The escrow engine never trusts a submission until Confirm reports it
// confirmed; until then the corresponding milestone stays uncommitted.
// A failed submission is dropped (never partially applied) so the
// milestone becomes eligible again and can be retried.
package reconciler

import (
	"context"
	"errors"
)

// ErrUnavailable marks the ledger or its RPC endpoint as unreachable.
// Callers should treat it as retryable, unlike business errors.
var ErrUnavailable = errors.New("ledger upstream unavailable")

// ConfirmStatus is the terminality of a submitted instruction.
type ConfirmStatus string

const (
	Confirmed ConfirmStatus = "confirmed"
	Pending   ConfirmStatus = "pending"
	Failed    ConfirmStatus = "failed"
)

// Reconciler submits release/refund instructions to the value-holding
// script and reconciles their confirmation status.
//
// A submission cannot be canceled once broadcast; Confirm may report
// Pending indefinitely and the caller decides when to alert an operator.
type Reconciler interface {
	// EnsureScript returns the script address holding the course's funds,
	// deriving it on first use.
	EnsureScript(ctx context.Context, courseID string) (string, error)

	// SubmitRelease instructs the script to pay amount (base units) to
	// the payout key. Returns an opaque transaction reference.
	SubmitRelease(ctx context.Context, scriptAddress, amount, payoutKey string) (string, error)

	// SubmitRefund instructs the script to return its balance to the
	// payer. An empty payerKey defers to the script's own payer record.
	SubmitRefund(ctx context.Context, scriptAddress, payerKey string) (string, error)

	// Confirm reports the current status of a submitted instruction.
	Confirm(ctx context.Context, txRef string) (ConfirmStatus, error)
}
