package escrow

import "time"

// Engagement mutators. All run under the service's per-course lock and
// only ever move signals forward: ratios never decrease, counters never
// reset, allWatchMet never flips back to false.

// applyWatch records a learner's completion ratio (latest wins, never
// decreasing) and flips allWatchMet once the aggregate completion across
// tracked watchers reaches the threshold. The first watch event starts
// the dispute window.
func (e *Escrow) applyWatch(watcherRef string, ratio float64, at time.Time, p Policy) {
	if e.Watchers == nil {
		e.Watchers = make(map[string]float64)
	}
	if ratio > e.Watchers[watcherRef] {
		e.Watchers[watcherRef] = ratio
	}
	e.markFirstWatch(at, p)

	if !e.AllWatchMet && e.aggregateCompletion() >= p.WatchThreshold {
		e.AllWatchMet = true
	}
}

// markWatchMet is the oracle-attested shortcut carried on payment events:
// the platform already decided the threshold is satisfied.
func (e *Escrow) markWatchMet(at time.Time, p Policy) {
	e.markFirstWatch(at, p)
	e.AllWatchMet = true
}

func (e *Escrow) markFirstWatch(at time.Time, p Policy) {
	if e.FirstWatch != nil {
		return
	}
	t := at
	e.FirstWatch = &t
	by := t.Add(p.DisputeWindow)
	e.DisputeBy = &by
}

// aggregateCompletion is the mean completion ratio across tracked
// watchers; zero when nobody has watched.
func (e *Escrow) aggregateCompletion() float64 {
	if len(e.Watchers) == 0 {
		return 0
	}
	var sum float64
	for _, r := range e.Watchers {
		sum += r
	}
	return sum / float64(len(e.Watchers))
}

// applyRating accumulates a fixed-point x10 rating (45 = 4.5 stars).
func (e *Escrow) applyRating(valueX10 int) {
	e.RatingSum += valueX10
	e.RatingCount++
}

// applyComment counts a comment event.
func (e *Escrow) applyComment() {
	e.Comments++
}

// AverageRatingX10 returns the mean rating in x10 fixed point, or 0
// when no rating has been recorded.
func (e *Escrow) AverageRatingX10() int {
	if e.RatingCount == 0 {
		return 0
	}
	return e.RatingSum / e.RatingCount
}
