// Package ledger is the durable store of per-range search progress. It is
// the single shared mutable resource in the system: workers report into it
// through the pool coordinator, and the scheduler reads consistent
// snapshots out of it.
//
// Concurrency discipline: an Update for a given range id is the unit of
// atomicity. Updates to the same range are serialized through a per-range
// mutex; updates to different ranges proceed independently, and reads
// always see a consistent copy.
package ledger

import (
	"sync"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/event"
	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/partition"
)

// historyCap bounds the progress history kept for stall detection.
const historyCap = 100

// Record tracks exact progress for a single range. Both counters are
// arbitrary-precision; PercentComplete is always derived from them, never
// maintained independently.
type Record struct {
	Range keyspace.Range `json:"range"`

	// TotalKeys is End-Start, fixed at record creation.
	TotalKeys keyspace.Key `json:"total_keys"`

	// SearchedKeys is the number of keys covered so far.
	// 0 <= SearchedKeys <= TotalKeys.
	SearchedKeys keyspace.Key `json:"searched_keys"`

	// PercentComplete is SearchedKeys/TotalKeys to two decimals.
	PercentComplete float64 `json:"percent_complete"`

	// SearchRate is the most recently reported throughput in keys/sec.
	SearchRate float64 `json:"search_rate"`

	LastUpdate  time.Time  `json:"last_update"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ETA estimates completion from the remaining keys and SearchRate.
	ETA *time.Time `json:"eta,omitempty"`

	// SupersededBy lists the child range ids this range was split into.
	// A superseded record is retained for audit but excluded from
	// coverage aggregation and scheduling.
	SupersededBy []string `json:"superseded_by,omitempty"`
}

// IsSuperseded reports whether the range was replaced by split children.
func (r Record) IsSuperseded() bool {
	return len(r.SupersededBy) > 0
}

// RangeID returns the id of the underlying range.
func (r Record) RangeID() string {
	return r.Range.ID
}

// Remaining returns TotalKeys - SearchedKeys.
func (r Record) Remaining() keyspace.Key {
	return r.TotalKeys.Sub(r.SearchedKeys)
}

// HistoryEntry is one progress report, kept for stall analysis.
type HistoryEntry struct {
	RangeID         string       `json:"range_id"`
	SearchedKeys    keyspace.Key `json:"searched_keys"`
	PercentComplete float64      `json:"percent_complete"`
	SearchRate      float64      `json:"search_rate"`
	At              time.Time    `json:"at"`
}

// Coverage aggregates progress across all records.
type Coverage struct {
	TotalKeyspace    keyspace.Key `json:"total_keyspace"`
	SearchedKeyspace keyspace.Key `json:"searched_keyspace"`
	PercentComplete  float64      `json:"percent_complete"`
}

// Ledger holds the progress records. All methods are safe for concurrent
// use. Same-range updates serialize on a per-range mutex; the ledger-wide
// lock is only held for short map accesses.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // range IDs in insertion order
	history []HistoryEntry

	locks sync.Map // rangeID -> *sync.Mutex
	bus   *event.Bus
	clock func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithBus attaches an event bus; the ledger publishes range.updated and
// range.completed events onto it.
func WithBus(bus *event.Bus) Option {
	return func(l *Ledger) { l.bus = bus }
}

// WithClock injects a time source. Tests use this to simulate staleness.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[string]*Record),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FromManifest creates a ledger seeded with zero-progress records for
// every schedulable range in the manifest.
func FromManifest(m *partition.Manifest, opts ...Option) (*Ledger, error) {
	l := New(opts...)
	for _, r := range m.Ranges() {
		if err := l.AddRange(r); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddRange registers a new range with zero progress. The range id must be
// unique. Splits and caller-supplied custom ranges enter the ledger here.
func (l *Ledger) AddRange(r keyspace.Range) error {
	if err := r.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[r.ID]; exists {
		return errors.NewValidationError("range id already present").
			WithField("range_id").WithValue(r.ID)
	}

	l.records[r.ID] = &Record{
		Range:      r,
		TotalKeys:  r.Width(),
		LastUpdate: l.clock(),
	}
	l.order = append(l.order, r.ID)
	return nil
}

// Get returns a copy of the record for the given range id.
func (l *Ledger) Get(rangeID string) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[rangeID]
	if !ok {
		return Record{}, errors.NewNotFoundError("range", rangeID)
	}
	return *rec, nil
}

// Update records a progress report for a range. It rejects unknown ids,
// counters above the range total, and updates to completed records; in
// every rejection case no state changes. A rate of 0 leaves the previous
// rate in place.
//
// SearchedKeys is not required to increase monotonically between reports:
// a worker restarting from an earlier checkpoint after a crash may
// legitimately report a lower counter.
func (l *Ledger) Update(rangeID string, searched keyspace.Key, rate float64) (Record, error) {
	lock := l.rangeLock(rangeID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	rec, ok := l.records[rangeID]
	if !ok {
		l.mu.Unlock()
		return Record{}, errors.NewNotFoundError("range", rangeID)
	}
	if rec.Range.Status == keyspace.StatusCompleted {
		l.mu.Unlock()
		return Record{}, errors.NewInvalidStateError("range", rangeID, "completed", "update")
	}
	if rec.IsSuperseded() {
		l.mu.Unlock()
		return Record{}, errors.NewInvalidStateError("range", rangeID, "superseded", "update")
	}
	if searched.Cmp(rec.TotalKeys) > 0 {
		l.mu.Unlock()
		return Record{}, errors.NewValidationError("searched keys exceed range total").
			WithField("searched_keys").WithValue(searched.String())
	}
	if rate < 0 {
		l.mu.Unlock()
		return Record{}, errors.NewValidationError("search rate must not be negative").
			WithField("rate").WithValue(rate)
	}

	now := l.clock()
	rec.SearchedKeys = searched
	rec.PercentComplete = keyspace.Percent(searched, rec.TotalKeys)
	if rate > 0 {
		rec.SearchRate = rate
	}
	rec.LastUpdate = now
	rec.ETA = computeETA(rec.Remaining(), rec.SearchRate, now)

	completed := rec.PercentComplete >= 100
	if completed {
		rec.Range.Status = keyspace.StatusCompleted
		rec.CompletedAt = &now
		rec.ETA = nil
	}

	l.appendHistory(HistoryEntry{
		RangeID:         rangeID,
		SearchedKeys:    searched,
		PercentComplete: rec.PercentComplete,
		SearchRate:      rec.SearchRate,
		At:              now,
	})

	out := *rec
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(event.NewRangeUpdatedEvent(rangeID, out.PercentComplete, out.SearchRate))
		if completed {
			l.bus.Publish(event.NewRangeCompletedEvent(rangeID, false))
		}
	}
	return out, nil
}

// SetStatus transitions a range between non-terminal lifecycle states
// (pending <-> active). Terminal records reject with InvalidStateError.
func (l *Ledger) SetStatus(rangeID string, status keyspace.Status) error {
	if status.IsTerminal() {
		return errors.NewValidationError("use Complete or Abandon for terminal transitions").
			WithField("status").WithValue(status.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[rangeID]
	if !ok {
		return errors.NewNotFoundError("range", rangeID)
	}
	if rec.Range.Status.IsTerminal() {
		return errors.NewInvalidStateError("range", rangeID, rec.Range.Status.String(), "transition")
	}
	rec.Range.Status = status
	return nil
}

// Claim atomically transitions a range from pending to active. Exactly
// one of any set of concurrent claimants wins; the rest get an
// InvalidStateError. This is the test-and-set behind assignment claims.
func (l *Ledger) Claim(rangeID string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[rangeID]
	if !ok {
		return Record{}, errors.NewNotFoundError("range", rangeID)
	}
	if rec.IsSuperseded() {
		return Record{}, errors.NewInvalidStateError("range", rangeID, "superseded", "claim")
	}
	if rec.Range.Status != keyspace.StatusPending {
		return Record{}, errors.NewInvalidStateError("range", rangeID, rec.Range.Status.String(), "claim")
	}
	rec.Range.Status = keyspace.StatusActive
	// A fresh claim counts as a heartbeat; the grace window starts now,
	// not at the last pre-claim update.
	rec.LastUpdate = l.clock()
	return *rec, nil
}

// Release returns an active range to the pending pool, keeping its
// searched counters. Used when an assignment is abandoned or expires.
func (l *Ledger) Release(rangeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[rangeID]
	if !ok {
		return errors.NewNotFoundError("range", rangeID)
	}
	if rec.Range.Status != keyspace.StatusActive {
		return errors.NewInvalidStateError("range", rangeID, rec.Range.Status.String(), "release")
	}
	rec.Range.Status = keyspace.StatusPending
	return nil
}

// Complete terminally completes a range regardless of its counters, as
// when the target is found inside it. Completing an already-completed
// range is an InvalidStateError; terminal states are one-way.
func (l *Ledger) Complete(rangeID string, found bool) error {
	l.mu.Lock()
	rec, ok := l.records[rangeID]
	if !ok {
		l.mu.Unlock()
		return errors.NewNotFoundError("range", rangeID)
	}
	if rec.Range.Status.IsTerminal() {
		status := rec.Range.Status.String()
		l.mu.Unlock()
		return errors.NewInvalidStateError("range", rangeID, status, "complete")
	}
	now := l.clock()
	rec.Range.Status = keyspace.StatusCompleted
	rec.CompletedAt = &now
	rec.LastUpdate = now
	rec.ETA = nil
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(event.NewRangeCompletedEvent(rangeID, found))
	}
	return nil
}

// CompleteOverlapping terminally completes every non-terminal range that
// overlaps the given interval, and returns the ids it completed. Used when
// a key is found: nothing overlapping the hit needs searching again.
func (l *Ledger) CompleteOverlapping(target keyspace.Range, found bool) []string {
	l.mu.Lock()
	now := l.clock()
	var completed []string
	for _, id := range l.order {
		rec := l.records[id]
		if rec.Range.Status.IsTerminal() || rec.IsSuperseded() {
			continue
		}
		if rec.Range.Overlaps(target) {
			rec.Range.Status = keyspace.StatusCompleted
			rec.CompletedAt = &now
			rec.LastUpdate = now
			rec.ETA = nil
			completed = append(completed, id)
		}
	}
	l.mu.Unlock()

	if l.bus != nil {
		for _, id := range completed {
			l.bus.Publish(event.NewRangeCompletedEvent(id, found))
		}
	}
	return completed
}

// Abandon terminally abandons a range, excluding it from future
// scheduling without claiming coverage.
func (l *Ledger) Abandon(rangeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[rangeID]
	if !ok {
		return errors.NewNotFoundError("range", rangeID)
	}
	if rec.Range.Status.IsTerminal() {
		return errors.NewInvalidStateError("range", rangeID, rec.Range.Status.String(), "abandon")
	}
	rec.Range.Status = keyspace.StatusAbandoned
	rec.LastUpdate = l.clock()
	return nil
}

// Split atomically replaces a range with children that exactly partition
// its interval. The parent record is retained for audit (superseded, with
// back-references both ways) and the parent's searched count is credited
// to the children walking from the low end, matching the ascending scan
// order of the search executables.
func (l *Ledger) Split(parentID string, children []keyspace.Range) ([]Record, error) {
	if len(children) == 0 {
		return nil, errors.NewValidationError("split requires at least one child")
	}

	lock := l.rangeLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	parent, ok := l.records[parentID]
	if !ok {
		l.mu.Unlock()
		return nil, errors.NewNotFoundError("range", parentID)
	}
	if parent.Range.Status.IsTerminal() {
		status := parent.Range.Status.String()
		l.mu.Unlock()
		return nil, errors.NewInvalidStateError("range", parentID, status, "split")
	}
	if parent.IsSuperseded() {
		l.mu.Unlock()
		return nil, errors.NewInvalidStateError("range", parentID, "superseded", "split")
	}
	if err := validatePartition(parent.Range, children); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	for _, c := range children {
		if _, exists := l.records[c.ID]; exists {
			l.mu.Unlock()
			return nil, errors.NewValidationError("range id already present").
				WithField("range_id").WithValue(c.ID)
		}
	}

	now := l.clock()
	credit := parent.SearchedKeys
	out := make([]Record, 0, len(children))
	childIDs := make([]string, 0, len(children))
	for _, c := range children {
		rec := &Record{
			Range:      c,
			TotalKeys:  c.Width(),
			LastUpdate: now,
		}
		if !credit.IsZero() {
			portion := credit
			if portion.Cmp(rec.TotalKeys) > 0 {
				portion = rec.TotalKeys
			}
			rec.SearchedKeys = portion
			rec.PercentComplete = keyspace.Percent(portion, rec.TotalKeys)
			if rec.PercentComplete >= 100 {
				rec.Range.Status = keyspace.StatusCompleted
				rec.CompletedAt = &now
			}
			credit = credit.Sub(portion)
		}
		l.records[c.ID] = rec
		l.order = append(l.order, c.ID)
		childIDs = append(childIDs, c.ID)
		out = append(out, *rec)
	}
	parent.SupersededBy = childIDs
	parent.LastUpdate = now
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(event.NewRangeSplitEvent(parentID, children))
	}
	return out, nil
}

// validatePartition checks that children are contiguous, start at the
// parent's start, and end at the parent's end, leaving no gap or overlap.
func validatePartition(parent keyspace.Range, children []keyspace.Range) error {
	cursor := parent.Start
	for i, c := range children {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Start.Cmp(cursor) != 0 {
			return errors.NewValidationError("split children must partition the parent contiguously").
				WithField("range_id").WithValue(children[i].ID)
		}
		cursor = c.End
	}
	if cursor.Cmp(parent.End) != 0 {
		return errors.NewValidationError("split children must cover the parent exactly").
			WithField("range_id").WithValue(parent.ID)
	}
	return nil
}

// Snapshot returns copies of all records in insertion order. The snapshot
// is consistent at the moment of the call and safe to read without
// blocking writers afterwards.
func (l *Ledger) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.records[id])
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// AggregateCoverage sums progress across all records in big-integer space.
// The result is exact regardless of record count or range width.
func (l *Ledger) AggregateCoverage() Coverage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total, searched keyspace.Key
	for _, id := range l.order {
		rec := l.records[id]
		if rec.IsSuperseded() {
			// The children account for this interval.
			continue
		}
		total = total.Add(rec.TotalKeys)
		if rec.Range.Status == keyspace.StatusCompleted {
			// A completed range counts in full even if its counter
			// stopped early (key found before the end).
			searched = searched.Add(rec.TotalKeys)
		} else {
			searched = searched.Add(rec.SearchedKeys)
		}
	}
	return Coverage{
		TotalKeyspace:    total,
		SearchedKeyspace: searched,
		PercentComplete:  keyspace.Percent(searched, total),
	}
}

// History returns a copy of the retained progress history, oldest first.
func (l *Ledger) History() []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]HistoryEntry, len(l.history))
	copy(out, l.history)
	return out
}

// rangeLock returns the per-range writer mutex, creating it on first use.
func (l *Ledger) rangeLock(rangeID string) *sync.Mutex {
	actual, _ := l.locks.LoadOrStore(rangeID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// appendHistory appends under l.mu, dropping the oldest entries past the cap.
func (l *Ledger) appendHistory(e HistoryEntry) {
	l.history = append(l.history, e)
	if len(l.history) > historyCap {
		l.history = l.history[len(l.history)-historyCap:]
	}
}

// computeETA projects completion time from the remaining keys and rate.
// Remaining counts at keyspace magnitude can exceed any representable
// duration; those project to nil rather than a bogus timestamp.
func computeETA(remaining keyspace.Key, rate float64, now time.Time) *time.Time {
	if rate <= 0 || remaining.IsZero() {
		return nil
	}
	seconds := remaining.Float64() / rate
	const maxProjectable = 100 * 365 * 24 * 3600 // a century out is "never"
	if seconds > maxProjectable {
		return nil
	}
	eta := now.Add(time.Duration(seconds * float64(time.Second)))
	return &eta
}
