package pool

import (
	"context"
	"sync"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/event"
	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/logging"
	"github.com/bitrange/rangepool/internal/scheduler"
)

const (
	defaultReportInterval = 60 * time.Second
	defaultGraceFactor    = 3
	defaultTick           = 30 * time.Second
)

// SnapshotFunc supplies the current searched count and rate for the auto
// reporter, typically read from a running search executable's output.
type SnapshotFunc func() (searched keyspace.Key, rate float64)

// Coordinator runs one participant's side of the pool protocol over a
// shared ledger: claim a range, heartbeat progress, complete or release.
// It also sweeps assignments other participants left silent. Safe for
// concurrent use.
type Coordinator struct {
	mu sync.Mutex

	ledger   *ledger.Ledger
	sched    *scheduler.Scheduler
	remote   RemoteAPI // nil means local-only
	bus      *event.Bus
	log      *logging.Logger
	clock    func() time.Time
	identity Identity

	reportInterval time.Duration
	graceFactor    int
	tick           time.Duration

	current   *Assignment
	lastStats *PoolStats

	reporting bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRemote connects the coordinator to a remote pool server.
func WithRemote(remote RemoteAPI) Option {
	return func(c *Coordinator) { c.remote = remote }
}

// WithBus sets the event bus for assignment lifecycle events.
func WithBus(bus *event.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithReportInterval sets the heartbeat cadence.
func WithReportInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.reportInterval = d }
}

// WithGraceFactor sets the multiple of the report interval after which a
// silent assignment expires.
func WithGraceFactor(n int) Option {
	return func(c *Coordinator) { c.graceFactor = n }
}

// WithTick sets the housekeeping cadence for the expiry sweep.
func WithTick(d time.Duration) Option {
	return func(c *Coordinator) { c.tick = d }
}

// New creates a Coordinator for the given participant identity.
func New(l *ledger.Ledger, s *scheduler.Scheduler, id Identity, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:         l,
		sched:          s,
		log:            logging.NopLogger(),
		clock:          time.Now,
		identity:       id,
		reportInterval: defaultReportInterval,
		graceFactor:    defaultGraceFactor,
		tick:           defaultTick,
	}
	if id.ReportIntervalSeconds > 0 {
		c.reportInterval = time.Duration(id.ReportIntervalSeconds) * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithClient(id.ClientID)
	return c
}

// Identity returns this participant's identity.
func (c *Coordinator) Identity() Identity {
	return c.identity
}

// Current returns the active assignment, if any.
func (c *Coordinator) Current() (Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.State.IsTerminal() {
		return Assignment{}, false
	}
	return *c.current, true
}

// graceWindow is how long an assignment may go without a report before
// the sweep reclaims it.
func (c *Coordinator) graceWindow() time.Duration {
	return c.reportInterval * time.Duration(c.graceFactor)
}

// RequestAssignment claims one range from the scheduler's recommended
// set. The claim is a ledger-level test-and-set: concurrent participants
// sharing a ledger get distinct ranges or ErrNoRangeAvailable. A
// participant with a live assignment must finish or abandon it first.
func (c *Coordinator) RequestAssignment(ctx context.Context) (Assignment, error) {
	if _, ok := c.Current(); ok {
		c.mu.Lock()
		id, state := c.current.ID, c.current.State
		c.mu.Unlock()
		return Assignment{}, errors.NewInvalidStateError("assignment", id, string(state), "request another")
	}

	// The remote pool may steer us to a specific range. Best-effort: on
	// error or an unknown range we fall back to local selection.
	var preferred string
	if c.remote != nil {
		offer, err := c.remote.RequestRange(ctx, c.identity.ClientID, c.identity.ScanType)
		if err != nil {
			c.log.Warn("remote range request failed, selecting locally", "error", err.Error())
		} else {
			preferred = offer.RangeID
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && !c.current.State.IsTerminal() {
		return Assignment{}, errors.NewInvalidStateError("assignment", c.current.ID, string(c.current.State), "request another")
	}

	candidates := c.sched.SelectNext()
	if preferred != "" {
		if rec, err := c.ledger.Get(preferred); err == nil {
			candidates = append([]keyspace.Range{rec.Range}, candidates...)
		}
	}

	for _, r := range candidates {
		rec, err := c.ledger.Claim(r.ID)
		if err != nil {
			// Someone else got it first; try the next candidate.
			continue
		}
		now := c.clock()
		asg := &Assignment{
			ID:         newID(),
			RangeID:    rec.RangeID(),
			ClientID:   c.identity.ClientID,
			Range:      rec.Range,
			State:      StateRequested,
			ClaimedAt:  now,
			LastReport: now,
		}
		if err := asg.transition(StateAssigned); err != nil {
			return Assignment{}, err
		}
		c.current = asg

		c.log.Info("assignment claimed",
			"assignment_id", asg.ID,
			"range_id", asg.RangeID,
			"keyspace", asg.Range.Keyspace())
		if c.bus != nil {
			c.bus.Publish(event.NewAssignmentClaimedEvent(asg.ID, asg.RangeID, asg.ClientID))
		}
		return *asg, nil
	}

	return Assignment{}, errors.ErrNoRangeAvailable
}

// ReportProgress records a heartbeat: the ledger write comes first and is
// authoritative; the remote sync is best-effort and never fails the call.
func (c *Coordinator) ReportProgress(ctx context.Context, searched keyspace.Key, rate float64) (ledger.Record, error) {
	c.mu.Lock()
	if c.current == nil || c.current.State.IsTerminal() {
		c.mu.Unlock()
		return ledger.Record{}, errors.ErrNoActiveAssignment
	}
	asg := c.current
	c.mu.Unlock()

	rec, err := c.ledger.Update(asg.RangeID, searched, rate)
	if err != nil {
		return ledger.Record{}, err
	}

	c.mu.Lock()
	asg.LastReport = c.clock()
	if asg.State == StateAssigned || asg.State == StateReporting {
		_ = asg.transition(StateReporting)
	}
	report := ProgressReport{
		ClientID:        c.identity.ClientID,
		RangeID:         asg.RangeID,
		Keyspace:        asg.Range.Keyspace(),
		SearchedKeys:    rec.SearchedKeys.String(),
		PercentComplete: rec.PercentComplete,
		SearchRate:      rec.SearchRate,
	}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.ReportProgress(ctx, report); err != nil {
			c.log.Warn("remote progress report failed", "range_id", asg.RangeID, "error", err.Error())
		}
	}
	return rec, nil
}

// ReportCompletion terminates the active assignment. With found=true the
// assigned range and every range overlapping it complete one-way and
// leave scheduling; the target needs no second search.
func (c *Coordinator) ReportCompletion(ctx context.Context, found bool) error {
	c.mu.Lock()
	if c.current == nil || c.current.State.IsTerminal() {
		c.mu.Unlock()
		return errors.ErrNoActiveAssignment
	}
	asg := c.current
	c.mu.Unlock()

	if found {
		c.ledger.CompleteOverlapping(asg.Range, true)
	} else if err := c.ledger.Complete(asg.RangeID, false); err != nil {
		// A 100% progress report may have completed the record already.
		rec, gerr := c.ledger.Get(asg.RangeID)
		if gerr != nil || rec.Range.Status != keyspace.StatusCompleted {
			return err
		}
	}

	c.mu.Lock()
	if err := asg.transition(StateCompleted); err != nil {
		c.mu.Unlock()
		return err
	}
	rec, _ := c.ledger.Get(asg.RangeID)
	report := CompletionReport{
		ClientID:     c.identity.ClientID,
		RangeID:      asg.RangeID,
		SearchedKeys: rec.SearchedKeys.String(),
		Found:        found,
	}
	c.current = nil
	c.mu.Unlock()

	c.log.Info("assignment completed", "assignment_id", asg.ID, "range_id", asg.RangeID, "found", found)

	if c.remote != nil {
		if err := c.remote.ReportCompletion(ctx, report); err != nil {
			c.log.Warn("remote completion report failed", "range_id", asg.RangeID, "error", err.Error())
		}
	}
	return nil
}

// AbandonAssignment voluntarily releases the active assignment. The range
// returns to the claimable pool with its progress intact.
func (c *Coordinator) AbandonAssignment(reason string) error {
	c.mu.Lock()
	if c.current == nil || c.current.State.IsTerminal() {
		c.mu.Unlock()
		return errors.ErrNoActiveAssignment
	}
	asg := c.current

	if err := c.ledger.Release(asg.RangeID); err != nil {
		// A 100% progress report may have completed the range already;
		// finish the assignment instead of leaving it stuck non-terminal.
		rec, gerr := c.ledger.Get(asg.RangeID)
		if gerr != nil || rec.Range.Status != keyspace.StatusCompleted {
			c.mu.Unlock()
			return err
		}
		if terr := asg.transition(StateCompleted); terr != nil {
			c.mu.Unlock()
			return terr
		}
		c.current = nil
		c.mu.Unlock()
		c.log.Info("assignment already complete, abandon treated as completion",
			"assignment_id", asg.ID, "range_id", asg.RangeID, "reason", reason)
		return nil
	}
	if err := asg.transition(StateAbandoned); err != nil {
		c.mu.Unlock()
		return err
	}
	c.current = nil
	c.mu.Unlock()

	c.log.Info("assignment abandoned", "assignment_id", asg.ID, "range_id", asg.RangeID, "reason", reason)
	if c.bus != nil {
		c.bus.Publish(event.NewAssignmentReleasedEvent(asg.ID, asg.RangeID, reason))
	}
	return nil
}

// SweepExpired releases every active range whose last report is older
// than the grace window (reportInterval x graceFactor) and returns the
// released range ids. Progress persists; only the claim is reclaimed.
func (c *Coordinator) SweepExpired() []string {
	now := c.clock()
	cutoff := now.Add(-c.graceWindow())

	var expired []string
	for _, rec := range c.ledger.Snapshot() {
		if rec.Range.Status != keyspace.StatusActive || rec.IsSuperseded() {
			continue
		}
		if !rec.LastUpdate.Before(cutoff) {
			continue
		}
		if err := c.ledger.Release(rec.RangeID()); err != nil {
			continue
		}
		expired = append(expired, rec.RangeID())
	}

	if len(expired) == 0 {
		return nil
	}

	c.mu.Lock()
	var releasedCurrent *Assignment
	if c.current != nil && !c.current.State.IsTerminal() {
		for _, id := range expired {
			if id == c.current.RangeID {
				_ = c.current.transition(StateExpired)
				releasedCurrent = c.current
				c.current = nil
				break
			}
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		c.log.Warn("assignment expired, range released", "range_id", id)
	}
	if c.bus != nil {
		for _, id := range expired {
			asgID := ""
			if releasedCurrent != nil && releasedCurrent.RangeID == id {
				asgID = releasedCurrent.ID
			}
			c.bus.Publish(event.NewAssignmentReleasedEvent(asgID, id, "expired"))
		}
	}
	return expired
}

// Stats returns pool-wide statistics. With a remote configured it asks
// the server, degrading to the last-known-good reply and finally to a
// locally computed view; it never blocks past ctx.
func (c *Coordinator) Stats(ctx context.Context) (PoolStats, error) {
	if c.remote != nil {
		stats, err := c.remote.Stats(ctx, c.identity.ClientID)
		if err == nil {
			c.mu.Lock()
			c.lastStats = &stats
			c.mu.Unlock()
			return stats, nil
		}
		c.log.Warn("remote stats unavailable", "error", err.Error())

		c.mu.Lock()
		cached := c.lastStats
		c.mu.Unlock()
		if cached != nil {
			return *cached, nil
		}
	}
	return c.localStats(), nil
}

// localStats computes a single-participant view from the ledger.
func (c *Coordinator) localStats() PoolStats {
	completed := 0
	for _, rec := range c.ledger.Snapshot() {
		if rec.IsSuperseded() {
			continue
		}
		if rec.Range.Status == keyspace.StatusCompleted {
			completed++
		}
	}
	return PoolStats{
		Participants:    1,
		RangesCompleted: completed,
		CoveragePct:     c.ledger.AggregateCoverage().PercentComplete,
		Rank:            1,
		ContributionPct: 100,
	}
}

// StartAutoReporting launches the background heartbeat: every report
// interval it reads the snapshot function and reports progress, and every
// tick it sweeps expired assignments. Idempotent; a second call while
// running is a no-op.
func (c *Coordinator) StartAutoReporting(snapshot SnapshotFunc) {
	c.mu.Lock()
	if c.reporting {
		c.mu.Unlock()
		return
	}
	c.reporting = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		reportTicker := time.NewTicker(c.reportInterval)
		defer reportTicker.Stop()
		sweepTicker := time.NewTicker(c.tick)
		defer sweepTicker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-reportTicker.C:
				c.flush(snapshot)
			case <-sweepTicker.C:
				c.SweepExpired()
			}
		}
	}()
}

// Stop halts auto reporting and flushes one final report. The flush is
// local-first: the ledger write happens even when the remote is down.
// Idempotent; stopping a coordinator that never started is a no-op.
func (c *Coordinator) Stop(snapshot SnapshotFunc) {
	c.mu.Lock()
	if !c.reporting {
		c.mu.Unlock()
		return
	}
	c.reporting = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh

	c.flush(snapshot)
}

// flush reports the snapshot's current values, logging failures instead
// of propagating them; the heartbeat loop must survive bad readings.
func (c *Coordinator) flush(snapshot SnapshotFunc) {
	if snapshot == nil {
		return
	}
	if _, ok := c.Current(); !ok {
		return
	}
	searched, rate := snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), c.reportInterval)
	defer cancel()
	if _, err := c.ReportProgress(ctx, searched, rate); err != nil {
		c.log.Warn("auto report failed", "error", err.Error())
	}
}
