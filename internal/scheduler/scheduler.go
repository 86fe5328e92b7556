// Package scheduler recomputes range priority from live throughput and
// coverage signals, emits operational recommendations, selects the next
// ranges to activate, and splits ranges for parallelism. All scoring runs
// on ledger snapshots and never blocks writers.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
)

// Scoring and rule defaults. The rate thresholds are in keys/sec and sized
// for GPU scanners: a healthy card sustains around 1e9.
const (
	baseScore = 50

	defaultHighRateThreshold = 1e9
	defaultSlowRateFloor     = 1e8
	defaultStalenessWindow   = 2 * time.Hour

	// Ranges at or above this priority form the high-priority band.
	defaultHighPriorityMin = 80

	// A band range at or beyond this percentage counts as exhausted.
	exhaustedPct = 95.0

	// SelectNext returns at most this many ranges.
	selectLimit = 3
)

// Scheduler scores and selects ranges from a ledger. It holds no state of
// its own beyond configuration; every method works on a fresh snapshot.
type Scheduler struct {
	ledger *ledger.Ledger

	highRateThreshold float64
	slowRateFloor     float64
	stalenessWindow   time.Duration
	highPriorityMin   int
	clock             func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHighRateThreshold sets the keys/sec above which a range earns the
// high-throughput score bonus.
func WithHighRateThreshold(rate float64) Option {
	return func(s *Scheduler) { s.highRateThreshold = rate }
}

// WithSlowRateFloor sets the keys/sec below which a range is flagged slow.
func WithSlowRateFloor(rate float64) Option {
	return func(s *Scheduler) { s.slowRateFloor = rate }
}

// WithStalenessWindow sets how long a range may go without a progress
// report before it is flagged stalled.
func WithStalenessWindow(d time.Duration) Option {
	return func(s *Scheduler) { s.stalenessWindow = d }
}

// WithHighPriorityMin sets the priority at which ranges count as the
// high-priority band.
func WithHighPriorityMin(p int) Option {
	return func(s *Scheduler) { s.highPriorityMin = p }
}

// WithClock injects a time source. Tests use this to simulate staleness.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates a Scheduler reading from the given ledger.
func New(l *ledger.Ledger, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger:            l,
		highRateThreshold: defaultHighRateThreshold,
		slowRateFloor:     defaultSlowRateFloor,
		stalenessWindow:   defaultStalenessWindow,
		highPriorityMin:   defaultHighPriorityMin,
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the scheduling priority of a record on a 0-100 scale.
// Deterministic and side-effect-free: base 50, +20 for high throughput,
// -30 beyond 75% complete, -15 between 50% and 75%.
func (s *Scheduler) Score(rec ledger.Record) int {
	score := baseScore
	if rec.SearchRate > s.highRateThreshold {
		score += 20
	}
	switch {
	case rec.PercentComplete > 75:
		score -= 30
	case rec.PercentComplete > 50:
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Recommendations evaluates the independent operational rules against the
// current ledger snapshot and returns one message per firing rule.
func (s *Scheduler) Recommendations() []string {
	snap := s.ledger.Snapshot()
	now := s.clock()
	var out []string

	if s.highBandExhausted(snap) {
		out = append(out, "high-priority ranges are effectively complete (>=95%); activate fallback ranges")
	}

	for _, rec := range snap {
		if rec.Range.Status.IsTerminal() || rec.IsSuperseded() {
			continue
		}
		if rec.SearchRate > 0 && rec.SearchRate < s.slowRateFloor {
			out = append(out, fmt.Sprintf("range %s is slow: %.2e keys/sec is below the %.0e floor; consider reassigning to faster hardware",
				rec.RangeID(), rec.SearchRate, s.slowRateFloor))
		}
		if rec.Range.Status == keyspace.StatusActive && now.Sub(rec.LastUpdate) > s.stalenessWindow {
			out = append(out, fmt.Sprintf("range %s stalled: no progress report for %s; its assignment is eligible for reassignment",
				rec.RangeID(), now.Sub(rec.LastUpdate).Round(time.Minute)))
		}
	}

	cov := s.ledger.AggregateCoverage()
	switch {
	case cov.PercentComplete > 90:
		out = append(out, fmt.Sprintf("keyspace coverage at %.2f%%: the target is overwhelmingly likely in the remaining ranges", cov.PercentComplete))
	case cov.PercentComplete > 50:
		out = append(out, fmt.Sprintf("keyspace coverage passed 50%% (%.2f%%)", cov.PercentComplete))
	case cov.PercentComplete < 10:
		out = append(out, fmt.Sprintf("keyspace coverage at %.2f%%: early days, expect a long haul", cov.PercentComplete))
	}

	return out
}

// SelectNext returns up to three pending ranges to activate, sorted by
// descending priority with ledger insertion order breaking ties. While
// the high-priority band still has work, only band ranges are offered;
// once every band range is effectively exhausted (>=95% searched), the
// unclaimed fallbacks open up.
func (s *Scheduler) SelectNext() []keyspace.Range {
	snap := s.ledger.Snapshot()
	bandExhausted := s.highBandExhausted(snap)

	var candidates []ledger.Record
	for _, rec := range snap {
		if rec.Range.Status != keyspace.StatusPending || rec.IsSuperseded() {
			continue
		}
		inBand := rec.Range.Priority >= s.highPriorityMin
		if bandExhausted && !inBand {
			candidates = append(candidates, rec)
		} else if !bandExhausted && inBand {
			candidates = append(candidates, rec)
		}
	}

	// Stable sort: equal priorities keep snapshot (insertion) order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Range.Priority > candidates[j].Range.Priority
	})

	n := len(candidates)
	if n > selectLimit {
		n = selectLimit
	}
	out := make([]keyspace.Range, 0, n)
	for _, rec := range candidates[:n] {
		out = append(out, rec.Range)
	}
	return out
}

// SplitRange splits a range into n contiguous children and installs them
// in the ledger, superseding the parent. Children of an active parent
// inherit a slightly elevated priority so they are picked up first.
func (s *Scheduler) SplitRange(rangeID string, n int) ([]keyspace.Range, error) {
	if n < 2 {
		return nil, errors.NewValidationError("split needs at least two children").
			WithField("count").WithValue(n)
	}

	rec, err := s.ledger.Get(rangeID)
	if err != nil {
		return nil, err
	}

	priority := rec.Range.Priority
	if rec.Range.Status == keyspace.StatusActive {
		priority += 5
		if priority > 100 {
			priority = 100
		}
	}

	children, err := rec.Range.Split(n, priority)
	if err != nil {
		return nil, err
	}

	recs, err := s.ledger.Split(rangeID, children)
	if err != nil {
		return nil, err
	}

	out := make([]keyspace.Range, len(recs))
	for i, r := range recs {
		out[i] = r.Range
	}
	return out, nil
}

// highBandExhausted reports whether every high-priority range has reached
// the exhaustion threshold. An empty band counts as exhausted.
func (s *Scheduler) highBandExhausted(snap []ledger.Record) bool {
	for _, rec := range snap {
		if rec.IsSuperseded() || rec.Range.Priority < s.highPriorityMin {
			continue
		}
		// Terminal ranges produce no further work: a completed or
		// abandoned band range must not hold the fallbacks closed.
		if rec.Range.Status.IsTerminal() {
			continue
		}
		if rec.PercentComplete < exhaustedPct {
			return false
		}
	}
	return true
}
