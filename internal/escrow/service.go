package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/nmwade/edupay/internal/circuitbreaker"
	"github.com/nmwade/edupay/internal/idgen"
	"github.com/nmwade/edupay/internal/logging"
	"github.com/nmwade/edupay/internal/metrics"
	"github.com/nmwade/edupay/internal/money"
	"github.com/nmwade/edupay/internal/reconciler"
	"github.com/nmwade/edupay/internal/retry"
	"github.com/nmwade/edupay/internal/traces"
)

// ErrUpstreamUnavailable surfaces a ledger/database outage distinctly
// from business errors so callers retry instead of giving up.
var ErrUpstreamUnavailable = reconciler.ErrUnavailable

// breakerKey groups all ledger submissions under one circuit.
const breakerKey = "ledger"

// EventPublisher pushes lifecycle events to subscribed clients.
type EventPublisher interface {
	Publish(eventType, courseID string, data map[string]any)
}

// Service orchestrates the escrow lifecycle: payment accumulation,
// engagement tracking, milestone settlement, disputes, and resolution.
//
// All mutations on one escrow are serialized through a per-course mutex;
// the lock is never held across a ledger submission. Submissions persist
// as pending rows and commit only once the reconciler confirms them.
type Service struct {
	store   Store
	rec     reconciler.Reconciler
	policy  Policy
	breaker *circuitbreaker.Breaker
	events  EventPublisher
	locks   sync.Map // per-course ID locks
	now     func() time.Time
}

// NewService creates a new escrow service.
func NewService(store Store, rec reconciler.Reconciler, policy Policy) *Service {
	return &Service{
		store:  store,
		rec:    rec,
		policy: policy,
		now:    time.Now,
	}
}

// WithBreaker adds a circuit breaker in front of ledger submissions.
func (s *Service) WithBreaker(b *circuitbreaker.Breaker) *Service {
	s.breaker = b
	return s
}

// WithEvents adds a lifecycle event publisher.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// courseLock returns a mutex for the given course ID.
// This prevents concurrent transitions (e.g. payment + resolve racing).
func (s *Service) courseLock(courseID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(courseID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) publish(eventType, courseID string, data map[string]any) {
	if s.events != nil {
		s.events.Publish(eventType, courseID, data)
	}
}

// Create creates the escrow for a course. Fails with ErrAlreadyExists if
// one exists. An initial amount, when present, is applied as the first
// payment with a creation-scoped idempotency key.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.CourseID(req.CourseID))
	defer span.End()

	now := s.now()
	e := &Escrow{
		CourseID:  req.CourseID,
		PayoutKey: strings.ToLower(req.PayoutKey),
		OracleKey: strings.ToLower(req.OracleKey),
		PayerKey:  strings.ToLower(req.PayerKey),
		NetTotal:  "0",
		PaidOut:   "0",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.applyEngagementFields(e, req.WatchMet, req.RatingX10, req.Commented, req.FirstWatchAt)

	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	s.publish("escrow.created", e.CourseID, map[string]any{"status": e.Status})

	if amount, ok := money.Parse(req.InitialAmount); ok && amount.Sign() > 0 {
		if _, err := s.AddPayment(ctx, AddPaymentRequest{
			CourseID:       req.CourseID,
			GrossAmount:    req.InitialAmount,
			IdempotencyKey: "create:" + req.CourseID,
		}); err != nil {
			return nil, fmt.Errorf("initial payment: %w", err)
		}
	}

	return s.store.Get(ctx, req.CourseID)
}

// AddPayment records a payment event and settles any milestones it makes
// eligible. Replays with a seen idempotency key return the stored receipt
// without mutating anything.
func (s *Service) AddPayment(ctx context.Context, req AddPaymentRequest) (*PaymentResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.AddPayment",
		traces.CourseID(req.CourseID), traces.Amount(req.GrossAmount))
	defer span.End()

	amount, ok := money.Parse(req.GrossAmount)
	if !ok || amount.Sign() <= 0 {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: grossAmount must be a positive base-unit integer", ErrInvalidAmount)
	}

	mu := s.courseLock(req.CourseID)
	mu.Lock()

	e, err := s.store.Get(ctx, req.CourseID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	// Replay of a delivery we already accepted. Checked before the
	// terminal gate: redeliveries keep arriving after resolution and
	// must still get the stored result back.
	if r, err := s.store.GetReceipt(ctx, req.CourseID, req.IdempotencyKey); err == nil {
		mu.Unlock()
		metrics.PaymentsTotal.WithLabelValues("duplicate").Inc()
		return &PaymentResult{
			Accepted:        true,
			Duplicate:       true,
			NetTotal:        r.NetTotal,
			PaidOut:         r.PaidOut,
			ImmediatePayout: "0",
		}, nil
	} else if !errors.Is(err, ErrNotFound) {
		mu.Unlock()
		return nil, err
	}

	if e.IsTerminal() {
		mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	// A broadcast refund or final release cannot be canceled; taking
	// more money while one is in flight would strand the difference
	// on the script.
	if prev, err := s.pendingResolution(ctx, req.CourseID); err != nil {
		mu.Unlock()
		return nil, err
	} else if prev != nil {
		mu.Unlock()
		return nil, fmt.Errorf("%w: %s submission pending ledger confirmation", ErrResolutionConflict, prev.Kind)
	}

	if e.ScriptAddress == "" {
		addr, err := s.rec.EnsureScript(ctx, e.CourseID)
		if err != nil {
			mu.Unlock()
			return nil, fmt.Errorf("ensure script: %w", err)
		}
		e.ScriptAddress = addr
	}

	s.applyEngagementFields(e, req.WatchMet, req.RatingX10, req.Commented, req.FirstWatchAt)

	netTotal, _ := money.Parse(e.NetTotal)
	netTotal.Add(netTotal, amount)
	e.NetTotal = money.Format(netTotal)
	e.PaidCount++
	if e.Status == StatusPending {
		e.Status = StatusActive
	}
	e.UpdatedAt = s.now()

	receipt := &PaymentReceipt{
		CourseID:       e.CourseID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         money.Format(amount),
		NetTotal:       e.NetTotal,
		PaidOut:        e.PaidOut,
		PaidCount:      e.PaidCount,
		CreatedAt:      e.UpdatedAt,
	}
	if err := s.store.UpdateWithReceipt(ctx, e, receipt); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("persist payment: %w", err)
	}
	mu.Unlock()

	metrics.PaymentsTotal.WithLabelValues("accepted").Inc()
	s.publish("payment.accepted", e.CourseID, map[string]any{
		"amount": money.Format(amount), "netTotal": e.NetTotal,
	})

	released, pending := s.settle(ctx, req.CourseID)

	fresh, err := s.store.Get(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{
		Accepted:           true,
		NetTotal:           fresh.NetTotal,
		PaidOut:            fresh.PaidOut,
		MilestonesReleased: released,
		ImmediatePayout:    money.Format(payoutDelta(e.PaidOut, fresh.PaidOut)),
		PendingMilestones:  pending,
	}, nil
}

// payoutDelta returns after-before for two base-unit strings.
func payoutDelta(before, after string) *big.Int {
	b, _ := money.Parse(before)
	a, _ := money.Parse(after)
	return money.ClampSub(a, b)
}

// RecordWatch records a learner's completion ratio and settles.
func (s *Service) RecordWatch(ctx context.Context, courseID, watcherRef string, ratio float64, at *time.Time) (*Escrow, error) {
	e, err := s.mutate(ctx, courseID, func(e *Escrow) error {
		t := s.now()
		if at != nil {
			t = *at
		}
		e.applyWatch(watcherRef, ratio, t, s.policy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.settle(ctx, courseID)
	return e, nil
}

// RecordRating records a fixed-point x10 rating and settles.
func (s *Service) RecordRating(ctx context.Context, courseID string, valueX10 int) (*Escrow, error) {
	e, err := s.mutate(ctx, courseID, func(e *Escrow) error {
		e.applyRating(valueX10)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.settle(ctx, courseID)
	return e, nil
}

// RecordComment records a comment event and settles.
func (s *Service) RecordComment(ctx context.Context, courseID string) (*Escrow, error) {
	e, err := s.mutate(ctx, courseID, func(e *Escrow) error {
		e.applyComment()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.settle(ctx, courseID)
	return e, nil
}

// OpenDispute opens a dispute within the window. Milestone evaluation
// halts until the dispute is resolved. allowAfterWindow is the admin
// grace override.
func (s *Service) OpenDispute(ctx context.Context, courseID, reason string, allowAfterWindow bool) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.OpenDispute", traces.CourseID(courseID))
	defer span.End()

	e, err := s.mutate(ctx, courseID, func(e *Escrow) error {
		if e.Status == StatusDisputed {
			return ErrAlreadyDisputed
		}
		if e.DisputeBy != nil && s.now().After(*e.DisputeBy) && !allowAfterWindow {
			return ErrWindowClosed
		}
		e.Status = StatusDisputed
		e.DisputeReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesOpenedTotal.Inc()
	s.publish("dispute.opened", courseID, map[string]any{"reason": reason})
	return e, nil
}

// Resolve moves the escrow to a terminal state. The authority must be
// the escrow's oracle key or a platform admin. Re-invoking the same
// action on a resolved escrow returns the terminal snapshot; a
// conflicting action fails.
func (s *Service) Resolve(ctx context.Context, courseID string, req ResolveRequest, auth Authority) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Resolve", traces.CourseID(courseID))
	defer span.End()

	mu := s.courseLock(courseID)
	mu.Lock()

	e, err := s.store.Get(ctx, courseID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	if !auth.Admin && !strings.EqualFold(auth.Key, e.OracleKey) {
		mu.Unlock()
		return nil, ErrUnauthorized
	}

	if e.IsTerminal() {
		mu.Unlock()
		if (e.Status == StatusReleased && req.Action == "release") ||
			(e.Status == StatusRefunded && req.Action == "refund") {
			return e, nil
		}
		return nil, fmt.Errorf("%w: escrow is %s", ErrResolutionConflict, e.Status)
	}

	// An earlier resolution may still be awaiting ledger confirmation.
	// Its instruction is already broadcast and cannot be canceled, so
	// never stage a second one.
	if prev, err := s.pendingResolution(ctx, courseID); err != nil {
		mu.Unlock()
		return nil, err
	} else if prev != nil && (req.Action == "release" || req.Action == "refund") {
		mu.Unlock()
		if prev.Kind == req.Action {
			// Same action: the poller commits it once confirmed.
			return e, nil
		}
		return nil, fmt.Errorf("%w: %s submission pending ledger confirmation", ErrResolutionConflict, prev.Kind)
	}

	var sub *Submission
	switch req.Action {
	case "release":
		ready := e.Released40 && e.DisputeBy != nil && s.now().After(*e.DisputeBy) && e.Status != StatusDisputed
		if !ready && !(auth.Admin && req.Override) {
			mu.Unlock()
			return nil, fmt.Errorf("%w: final release preconditions not met", ErrResolutionConflict)
		}
		netTotal, _ := money.Parse(e.NetTotal)
		paidOut, _ := money.Parse(e.PaidOut)
		delta := money.ClampSub(netTotal, paidOut)
		if delta.Sign() == 0 {
			// Nothing left to move, commit directly
			s.commitRelease(e, MilestoneFinal, "0")
			err := s.store.Update(ctx, e)
			mu.Unlock()
			if err != nil {
				return nil, err
			}
			s.afterResolve(e, "release")
			return e, nil
		}
		sub = s.newSubmission(e, "release", MilestoneFinal, money.Format(delta))
	case "refund":
		allowed := e.Status == StatusDisputed || (!e.Released30 && (e.Status == StatusActive || e.Status == StatusPending))
		if !allowed {
			mu.Unlock()
			return nil, fmt.Errorf("%w: refund not permitted from %s after release", ErrResolutionConflict, e.Status)
		}
		sub = s.newSubmission(e, "refund", "", "")
	default:
		mu.Unlock()
		return nil, fmt.Errorf("invalid resolution action %q", req.Action)
	}

	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		mu.Unlock()
		return nil, err
	}
	script, payout, payer := e.ScriptAddress, e.PayoutKey, e.PayerKey
	mu.Unlock()

	status, err := s.submitAndConfirmOnce(ctx, sub, script, payout, payer)
	if err != nil {
		return nil, err
	}
	switch status {
	case reconciler.Confirmed:
		if err := s.commitSubmission(ctx, sub); err != nil {
			return nil, err
		}
	case reconciler.Pending:
		logging.L(ctx).Info("resolution pending ledger confirmation",
			"courseId", courseID, "submissionId", sub.ID, "txRef", sub.TxRef)
	case reconciler.Failed:
		return nil, fmt.Errorf("%w: ledger rejected %s submission", ErrUpstreamUnavailable, sub.Kind)
	}

	return s.store.Get(ctx, courseID)
}

// Get returns an escrow snapshot by course ID.
func (s *Service) Get(ctx context.Context, courseID string) (*Escrow, error) {
	return s.store.Get(ctx, courseID)
}

// ListSubmissions returns the ledger submissions for a course, pending
// ones included, so accepted-but-unconfirmed releases are never hidden.
func (s *Service) ListSubmissions(ctx context.Context, courseID string) ([]*Submission, error) {
	if _, err := s.store.Get(ctx, courseID); err != nil {
		return nil, err
	}
	return s.store.ListSubmissions(ctx, courseID)
}

// mutate runs fn on the escrow under the course lock and persists it,
// retrying version conflicts from out-of-process writers.
func (s *Service) mutate(ctx context.Context, courseID string, fn func(*Escrow) error) (*Escrow, error) {
	mu := s.courseLock(courseID)
	mu.Lock()
	defer mu.Unlock()

	var out *Escrow
	err := retry.Do(ctx, 3, 25*time.Millisecond, func() error {
		e, err := s.store.Get(ctx, courseID)
		if err != nil {
			return retry.Permanent(err)
		}
		if e.IsTerminal() {
			return retry.Permanent(ErrAlreadyResolved)
		}
		if err := fn(e); err != nil {
			return retry.Permanent(err)
		}
		e.UpdatedAt = s.now()
		if err := s.store.Update(ctx, e); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		out = e
		return nil
	})
	return out, err
}

// settle drives milestone releases one at a time: evaluate, submit the
// first eligible milestone, and continue only once it confirms, so a
// later milestone can never commit ahead of an earlier one. The final
// milestone is excluded; it settles through Resolve.
func (s *Service) settle(ctx context.Context, courseID string) (released, pending []Milestone) {
	for {
		mu := s.courseLock(courseID)
		mu.Lock()

		e, err := s.store.Get(ctx, courseID)
		if err != nil {
			mu.Unlock()
			return released, pending
		}

		m, sub := s.stageNextMilestone(ctx, e)
		if m == "" {
			mu.Unlock()
			return released, pending
		}
		if sub == nil {
			// Zero delta: nothing to move on the ledger, flip in place
			s.commitRelease(e, m, "0")
			if err := s.store.Update(ctx, e); err != nil {
				mu.Unlock()
				return released, pending
			}
			mu.Unlock()
			released = append(released, m)
			metrics.MilestonesReleasedTotal.WithLabelValues(string(m)).Inc()
			continue
		}
		if err := s.store.CreateSubmission(ctx, sub); err != nil {
			mu.Unlock()
			return released, pending
		}
		script, payout := e.ScriptAddress, e.PayoutKey
		mu.Unlock()

		status, err := s.submitAndConfirmOnce(ctx, sub, script, payout, "")
		if err != nil {
			logging.L(ctx).Warn("milestone submission failed, will retry on next event",
				"courseId", courseID, "milestone", m, "error", err)
			return released, pending
		}
		switch status {
		case reconciler.Confirmed:
			if err := s.commitSubmission(ctx, sub); err != nil {
				return released, pending
			}
			released = append(released, m)
		case reconciler.Pending:
			pending = append(pending, m)
			return released, pending
		case reconciler.Failed:
			return released, pending
		}
	}
}

// stageNextMilestone picks the first eligible non-final milestone that
// has no pending submission. A nil submission with a non-empty milestone
// means the delta is zero and the boolean can flip without the ledger.
// Caller holds the course lock.
func (s *Service) stageNextMilestone(ctx context.Context, e *Escrow) (Milestone, *Submission) {
	eligible := s.policy.Eligible(e, s.now())
	if len(eligible) == 0 || eligible[0] == MilestoneFinal {
		return "", nil
	}
	m := eligible[0]

	subs, err := s.store.ListSubmissions(ctx, e.CourseID)
	if err != nil {
		return "", nil
	}
	for _, sub := range subs {
		if sub.State != SubmissionPending {
			continue
		}
		if sub.Milestone == m {
			return "", nil // already in flight
		}
		if sub.Kind == "refund" || sub.Milestone == MilestoneFinal {
			return "", nil // resolution in flight, nothing else moves
		}
	}

	netTotal, _ := money.Parse(e.NetTotal)
	paidOut, _ := money.Parse(e.PaidOut)
	delta := s.policy.Delta(m, netTotal, paidOut)
	if delta.Sign() == 0 {
		return m, nil
	}
	return m, s.newSubmission(e, "release", m, money.Format(delta))
}

// pendingResolution returns the in-flight refund or final-release
// submission for the course, if any. Caller holds the course lock.
func (s *Service) pendingResolution(ctx context.Context, courseID string) (*Submission, error) {
	subs, err := s.store.ListSubmissions(ctx, courseID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.State != SubmissionPending {
			continue
		}
		if sub.Kind == "refund" || sub.Milestone == MilestoneFinal {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *Service) newSubmission(e *Escrow, kind string, m Milestone, amount string) *Submission {
	now := s.now()
	return &Submission{
		ID:          idgen.WithPrefix("sub_"),
		CourseID:    e.CourseID,
		Kind:        kind,
		Milestone:   m,
		Amount:      amount,
		State:       SubmissionPending,
		SubmittedAt: now,
		NextCheckAt: now,
	}
}

// submitAndConfirmOnce broadcasts the submission and polls once. No
// course lock is held here; confirmation may take minutes and the
// poller owns the slow path.
func (s *Service) submitAndConfirmOnce(ctx context.Context, sub *Submission, script, payoutKey, payerKey string) (reconciler.ConfirmStatus, error) {
	if s.breaker != nil && !s.breaker.Allow(breakerKey) {
		s.markSubmissionFailed(ctx, sub, "circuit open")
		return reconciler.Failed, fmt.Errorf("%w: circuit open", ErrUpstreamUnavailable)
	}

	var txRef string
	var err error
	if sub.Kind == "refund" {
		txRef, err = s.rec.SubmitRefund(ctx, script, payerKey)
	} else {
		txRef, err = s.rec.SubmitRelease(ctx, script, sub.Amount, payoutKey)
	}
	if err != nil {
		if s.breaker != nil {
			s.breaker.RecordFailure(breakerKey)
		}
		metrics.SubmissionsTotal.WithLabelValues(sub.Kind, "error").Inc()
		s.markSubmissionFailed(ctx, sub, err.Error())
		return reconciler.Failed, fmt.Errorf("submit %s: %w", sub.Kind, err)
	}
	if s.breaker != nil {
		s.breaker.RecordSuccess(breakerKey)
	}
	metrics.SubmissionsTotal.WithLabelValues(sub.Kind, "submitted").Inc()

	sub.TxRef = txRef
	sub.Attempts = 1
	sub.NextCheckAt = s.now().Add(2 * time.Second)
	if err := s.store.UpdateSubmission(ctx, sub); err != nil {
		return reconciler.Pending, nil
	}

	status, err := s.rec.Confirm(ctx, txRef)
	if err != nil {
		// Broadcast went out; the poller picks it up from here
		return reconciler.Pending, nil
	}
	if status == reconciler.Failed {
		s.markSubmissionFailed(ctx, sub, "ledger rejected instruction")
	}
	return status, nil
}

func (s *Service) markSubmissionFailed(ctx context.Context, sub *Submission, reason string) {
	sub.State = SubmissionFailed
	sub.LastError = reason
	metrics.SubmissionsTotal.WithLabelValues(sub.Kind, "failed").Inc()
	if err := s.store.UpdateSubmission(ctx, sub); err != nil {
		logging.L(ctx).Error("failed to persist failed submission",
			"submissionId", sub.ID, "error", err)
	}
}

// commitSubmission applies a confirmed submission to the escrow under
// the course lock: milestone booleans flip, paidOut advances, terminal
// submissions close out the escrow.
func (s *Service) commitSubmission(ctx context.Context, sub *Submission) error {
	mu := s.courseLock(sub.CourseID)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, sub.CourseID)
	if err != nil {
		return err
	}

	switch {
	case sub.Kind == "refund":
		if e.IsTerminal() {
			break // already closed, just settle the submission row
		}
		e.Status = StatusRefunded
		e.Resolution = "refund"
		now := s.now()
		e.ResolvedAt = &now
	default:
		s.commitRelease(e, sub.Milestone, sub.Amount)
	}
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		return err
	}

	now := s.now()
	sub.State = SubmissionConfirmed
	sub.ConfirmedAt = &now
	if err := s.store.UpdateSubmission(ctx, sub); err != nil {
		return err
	}

	metrics.SubmissionsTotal.WithLabelValues(sub.Kind, "confirmed").Inc()
	if sub.Milestone != "" {
		metrics.MilestonesReleasedTotal.WithLabelValues(string(sub.Milestone)).Inc()
		s.publish("milestone.released", e.CourseID, map[string]any{
			"milestone": sub.Milestone, "amount": sub.Amount, "paidOut": e.PaidOut,
		})
	}
	if e.IsTerminal() {
		s.afterResolve(e, e.Resolution)
	}
	return nil
}

// commitRelease flips a milestone boolean and advances paidOut. Order is
// preserved by construction: settle stages milestones one at a time and
// the final milestone forces the earlier booleans.
func (s *Service) commitRelease(e *Escrow, m Milestone, amount string) {
	paidOut, _ := money.Parse(e.PaidOut)
	delta, _ := money.Parse(amount)
	paidOut.Add(paidOut, delta)

	switch m {
	case Milestone30:
		e.Released30 = true
	case Milestone40:
		e.Released30 = true
		e.Released40 = true
	case MilestoneFinal:
		e.Released30 = true
		e.Released40 = true
		e.ReleasedFinal = true
		e.Status = StatusReleased
		e.Resolution = "release"
		now := s.now()
		e.ResolvedAt = &now
	}
	e.PaidOut = money.Format(paidOut)
}

func (s *Service) afterResolve(e *Escrow, action string) {
	metrics.ResolutionsTotal.WithLabelValues(action).Inc()
	metrics.SettleDuration.Observe(s.now().Sub(e.CreatedAt).Seconds())
	s.publish("escrow.resolved", e.CourseID, map[string]any{
		"status": e.Status, "releasedFinal": e.ReleasedFinal, "paidOut": e.PaidOut,
	})
}

// applyEngagementFields maps the flat engagement flags carried on
// create/payment requests onto the escrow.
func (s *Service) applyEngagementFields(e *Escrow, watchMet bool, ratingX10 int, commented bool, firstWatchAt string) {
	at := s.now()
	if firstWatchAt != "" {
		if t, err := time.Parse(time.RFC3339, firstWatchAt); err == nil {
			at = t
		}
	}
	if watchMet {
		e.markWatchMet(at, s.policy)
	}
	if ratingX10 > 0 {
		e.applyRating(ratingX10)
	}
	if commented {
		e.applyComment()
	}
}
