package escrow

import (
	"math/big"
	"time"

	"github.com/nmwade/edupay/internal/money"
)

// Milestone identifies a partial-release threshold.
type Milestone string

const (
	Milestone30    Milestone = "release30"
	Milestone40    Milestone = "release40"
	MilestoneFinal Milestone = "final"
)

// Policy holds the config-driven release parameters. Fractions are
// cumulative basis points of netTotal, not increments.
type Policy struct {
	Release30Bps   int64
	Release40Bps   int64
	WatchThreshold float64
	DisputeWindow  time.Duration
}

// Fraction returns the cumulative basis points the milestone entitles.
func (p Policy) Fraction(m Milestone) int64 {
	switch m {
	case Milestone30:
		return p.Release30Bps
	case Milestone40:
		return p.Release40Bps
	case MilestoneFinal:
		return 10_000
	}
	return 0
}

// Eligible is a pure function of an escrow snapshot returning the
// milestones currently satisfiable, in release order.
//
//   - release30: at least one payment accepted and the watch threshold met.
//   - release40: release30 committed plus any engagement signal beyond
//     watching (a rating or a comment).
//   - final: release40 committed, the dispute window elapsed, and no
//     dispute open. Final is executed by resolution, never by a payment.
func (p Policy) Eligible(e *Escrow, now time.Time) []Milestone {
	if e.IsTerminal() || e.Status == StatusDisputed {
		return nil
	}

	var out []Milestone
	if !e.Released30 && e.PaidCount >= 1 && e.AllWatchMet {
		out = append(out, Milestone30)
	}
	released30 := e.Released30 || len(out) > 0
	if !e.Released40 && released30 && (e.RatingCount >= 1 || e.Comments >= 1) {
		out = append(out, Milestone40)
	}
	released40 := e.Released40 || (len(out) > 0 && out[len(out)-1] == Milestone40)
	if !e.ReleasedFinal && released40 && e.DisputeBy != nil && now.After(*e.DisputeBy) {
		out = append(out, MilestoneFinal)
	}
	return out
}

// Delta computes the amount a milestone releases right now:
// fraction × netTotal − paidOut, clamped to zero. Paid-out is passed
// explicitly so a chain of milestones in one evaluation compounds.
func (p Policy) Delta(m Milestone, netTotal, paidOut *big.Int) *big.Int {
	entitled := money.Fraction(netTotal, p.Fraction(m))
	return money.ClampSub(entitled, paidOut)
}
