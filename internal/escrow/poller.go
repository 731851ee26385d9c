package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nmwade/edupay/internal/metrics"
	"github.com/nmwade/edupay/internal/reconciler"
)

// Poller periodically confirms pending ledger submissions and commits
// the ones the ledger settled. Confirmation checks back off per
// submission; one unresolved past the report bound is flagged for an
// operator, never silently retried forever.
type Poller struct {
	service     *Service
	store       Store
	rec         reconciler.Reconciler
	interval    time.Duration
	reportAfter time.Duration
	logger      *slog.Logger
	stop        chan struct{}
	running     atomic.Bool
}

// NewPoller creates a submission confirmation poller.
func NewPoller(service *Service, store Store, rec reconciler.Reconciler, interval, reportAfter time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		service:     service,
		store:       store,
		rec:         rec,
		interval:    interval,
		reportAfter: reportAfter,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Running reports whether the poller loop is actively running.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Start begins the confirmation loop. Call in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.safeConfirmPending(ctx)
		}
	}
}

// Stop signals the poller to stop.
func (p *Poller) Stop() {
	select {
	case p.stop <- struct{}{}:
	default:
	}
}

func (p *Poller) safeConfirmPending(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in submission poller", "panic", fmt.Sprint(r))
		}
	}()
	p.confirmPending(ctx)
}

func (p *Poller) confirmPending(ctx context.Context) {
	now := time.Now()

	pending, err := p.store.ListPendingSubmissions(ctx, 100)
	if err != nil {
		p.logger.Warn("failed to list pending submissions", "error", err)
		return
	}
	metrics.SubmissionsPending.Set(float64(len(pending)))

	for _, sub := range pending {
		if sub.TxRef == "" || now.Before(sub.NextCheckAt) {
			continue
		}

		status, err := p.rec.Confirm(ctx, sub.TxRef)
		if err != nil {
			p.logger.Warn("confirm poll failed", "submissionId", sub.ID, "txRef", sub.TxRef, "error", err)
			p.backoff(ctx, sub, now)
			continue
		}

		switch status {
		case reconciler.Confirmed:
			if err := p.service.commitSubmission(ctx, sub); err != nil {
				p.logger.Error("failed to commit confirmed submission",
					"submissionId", sub.ID, "courseId", sub.CourseID, "error", err)
				continue
			}
			p.logger.Info("submission confirmed",
				"submissionId", sub.ID, "courseId", sub.CourseID,
				"kind", sub.Kind, "milestone", sub.Milestone, "amount", sub.Amount)
			// A committed milestone may make the next one eligible
			p.service.settle(ctx, sub.CourseID)
		case reconciler.Failed:
			p.service.markSubmissionFailed(ctx, sub, "ledger rejected instruction")
			p.logger.Warn("submission failed on ledger, milestone eligible for retry",
				"submissionId", sub.ID, "courseId", sub.CourseID, "milestone", sub.Milestone)
		case reconciler.Pending:
			p.backoff(ctx, sub, now)
			p.reportIfOverdue(ctx, sub, now)
		}
	}
}

// backoff doubles the check interval per attempt, capped at ~10 minutes.
func (p *Poller) backoff(ctx context.Context, sub *Submission, now time.Time) {
	sub.Attempts++
	delay := p.interval << uint(min(sub.Attempts, 6))
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	sub.NextCheckAt = now.Add(delay)
	if err := p.store.UpdateSubmission(ctx, sub); err != nil {
		p.logger.Warn("failed to persist submission backoff", "submissionId", sub.ID, "error", err)
	}
}

func (p *Poller) reportIfOverdue(ctx context.Context, sub *Submission, now time.Time) {
	if sub.ReportedAt != nil || now.Sub(sub.SubmittedAt) < p.reportAfter {
		return
	}
	sub.ReportedAt = &now
	if err := p.store.UpdateSubmission(ctx, sub); err != nil {
		p.logger.Warn("failed to persist overdue report", "submissionId", sub.ID, "error", err)
	}
	metrics.SubmissionsOverdueTotal.Inc()
	p.logger.Error("submission unresolved past report bound, operator attention required",
		"submissionId", sub.ID, "courseId", sub.CourseID, "txRef", sub.TxRef,
		"submittedAt", sub.SubmittedAt, "kind", sub.Kind, "amount", sub.Amount)
}
