package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/event"
	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/scheduler"
)

func poolRange(id string, start, end uint64, priority int) keyspace.Range {
	return keyspace.Range{
		ID:        id,
		Start:     keyspace.NewKey(start),
		End:       keyspace.NewKey(end),
		Priority:  priority,
		Status:    keyspace.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// poolLedger mirrors a small manifest: a core band, two GPU splits that
// overlap it, and a low fallback.
func poolLedger(t *testing.T, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	l := ledger.New(opts...)
	require.NoError(t, l.AddRange(poolRange("core", 0x1000, 0x3000, 90)))
	require.NoError(t, l.AddRange(poolRange("gpu-0", 0x1000, 0x2000, 85)))
	require.NoError(t, l.AddRange(poolRange("gpu-1", 0x2000, 0x3000, 85)))
	require.NoError(t, l.AddRange(poolRange("fallback-low", 0x0, 0x1000, 40)))
	return l
}

func testCoordinator(l *ledger.Ledger, clientID string, opts ...Option) *Coordinator {
	id := Identity{ClientID: clientID, ScanType: "default", ReportIntervalSeconds: 60}
	return New(l, scheduler.New(l), id, opts...)
}

func TestRequestAssignmentClaimsHighestPriority(t *testing.T) {
	l := poolLedger(t)
	c := testCoordinator(l, "worker-1")

	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "core", asg.RangeID)
	assert.Equal(t, StateAssigned, asg.State)
	assert.Equal(t, "worker-1", asg.ClientID)

	rec, err := l.Get("core")
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusActive, rec.Range.Status)
}

func TestRequestAssignmentWhileActiveRejects(t *testing.T) {
	l := poolLedger(t)
	c := testCoordinator(l, "worker-1")

	_, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	_, err = c.RequestAssignment(context.Background())
	var serr *errors.InvalidStateError
	require.True(t, errors.As(err, &serr))
}

func TestRequestAssignmentExhausted(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.AddRange(poolRange("only", 0, 1000, 85)))

	first := testCoordinator(l, "worker-1")
	_, err := first.RequestAssignment(context.Background())
	require.NoError(t, err)

	second := testCoordinator(l, "worker-2")
	_, err = second.RequestAssignment(context.Background())
	require.ErrorIs(t, err, errors.ErrNoRangeAvailable)
}

func TestConcurrentRequestsGetDistinctRanges(t *testing.T) {
	l := poolLedger(t)

	const workers = 8
	var mu sync.Mutex
	claimed := map[string]string{}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := testCoordinator(l, "worker")
			asg, err := c.RequestAssignment(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			prev, dup := claimed[asg.RangeID]
			assert.False(t, dup, "range %s claimed twice (by %s)", asg.RangeID, prev)
			claimed[asg.RangeID] = asg.ID
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, claimed)
}

func TestReportProgressLedgerFirst(t *testing.T) {
	l := poolLedger(t)
	remote := &FakeRemote{}
	remote.SetErr(errors.ErrPoolUnreachable)
	c := testCoordinator(l, "worker-1", WithRemote(remote))

	// The fake remote refuses the range request too, forcing local
	// selection; that must not fail the claim.
	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	// core is 0x2000 wide; half searched is exactly 50.00%.
	rec, err := c.ReportProgress(context.Background(), keyspace.NewKey(0x1000), 1e9)
	require.NoError(t, err)
	assert.Equal(t, 50.0, rec.PercentComplete)

	got, err := l.Get(asg.RangeID)
	require.NoError(t, err)
	assert.Equal(t, "4096", got.SearchedKeys.String(), "ledger write must land despite remote failure")

	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, StateReporting, cur.State)
}

func TestReportProgressWithoutAssignment(t *testing.T) {
	c := testCoordinator(poolLedger(t), "worker-1")
	_, err := c.ReportProgress(context.Background(), keyspace.NewKey(1), 1e9)
	require.ErrorIs(t, err, errors.ErrNoActiveAssignment)
}

func TestReportCompletionFoundCompletesOverlapping(t *testing.T) {
	l := poolLedger(t)
	remote := &FakeRemote{}
	c := testCoordinator(l, "worker-1", WithRemote(remote))

	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)
	require.Equal(t, "core", asg.RangeID)

	require.NoError(t, c.ReportCompletion(context.Background(), true))

	// core overlaps both GPU splits; all three complete. The disjoint
	// fallback stays claimable.
	for _, id := range []string{"core", "gpu-0", "gpu-1"} {
		rec, err := l.Get(id)
		require.NoError(t, err)
		assert.Equal(t, keyspace.StatusCompleted, rec.Range.Status, id)
	}
	rec, err := l.Get("fallback-low")
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusPending, rec.Range.Status)

	_, ok := c.Current()
	assert.False(t, ok)

	comps := remote.Completions()
	require.Len(t, comps, 1)
	assert.True(t, comps[0].Found)
	assert.Equal(t, "core", comps[0].RangeID)
}

func TestReportCompletionAfterFullCoverage(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.AddRange(poolRange("only", 0, 0x1000, 85)))
	c := testCoordinator(l, "worker-1")

	_, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	// 100% progress already flips the record to completed; the explicit
	// completion report must still succeed.
	_, err = c.ReportProgress(context.Background(), keyspace.NewKey(0x1000), 1e9)
	require.NoError(t, err)
	require.NoError(t, c.ReportCompletion(context.Background(), false))
}

func TestReportCompletionWithoutAssignment(t *testing.T) {
	c := testCoordinator(poolLedger(t), "worker-1")
	err := c.ReportCompletion(context.Background(), false)
	require.ErrorIs(t, err, errors.ErrNoActiveAssignment)
}

func TestAbandonReturnsRangeWithProgress(t *testing.T) {
	l := poolLedger(t)
	bus := event.NewBus()
	var released []string
	bus.Subscribe("assignment.released", func(e event.Event) {
		released = append(released, e.(event.AssignmentReleasedEvent).Reason)
	})
	c := testCoordinator(l, "worker-1", WithBus(bus))

	_, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)
	_, err = c.ReportProgress(context.Background(), keyspace.NewKey(0x800), 1e9)
	require.NoError(t, err)

	require.NoError(t, c.AbandonAssignment("thermal shutdown"))

	rec, err := l.Get("core")
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusPending, rec.Range.Status)
	assert.Equal(t, "2048", rec.SearchedKeys.String(), "progress survives abandonment")

	require.Equal(t, []string{"thermal shutdown"}, released)

	// The freed range is claimable again.
	other := testCoordinator(l, "worker-2")
	asg, err := other.RequestAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "core", asg.RangeID)
}

func TestSweepExpiredReclaimsSilentAssignment(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	l := poolLedger(t, ledger.WithClock(clock))
	c := testCoordinator(l, "worker-1", WithClock(clock))

	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	// Within the grace window (60s interval x 3) nothing expires.
	now = now.Add(2 * time.Minute)
	assert.Empty(t, c.SweepExpired())

	now = now.Add(2 * time.Minute)
	expired := c.SweepExpired()
	require.Equal(t, []string{asg.RangeID}, expired)

	rec, err := l.Get(asg.RangeID)
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusPending, rec.Range.Status)

	_, ok := c.Current()
	assert.False(t, ok)
}

func TestSweepExpiredSkipsFreshReports(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	l := poolLedger(t, ledger.WithClock(clock))
	c := testCoordinator(l, "worker-1", WithClock(clock))

	_, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	// Heartbeats every 2 minutes keep the assignment alive indefinitely.
	for i := 0; i < 5; i++ {
		now = now.Add(2 * time.Minute)
		_, err = c.ReportProgress(context.Background(), keyspace.NewKey(uint64(i+1)), 1e9)
		require.NoError(t, err)
		assert.Empty(t, c.SweepExpired())
	}
}

func TestStatsRemoteAndFallback(t *testing.T) {
	l := poolLedger(t)
	remote := &FakeRemote{StatsReply: PoolStats{Participants: 12, Rank: 3, CoveragePct: 41.5}}
	c := testCoordinator(l, "worker-1", WithRemote(remote))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Participants)

	// Remote down: the last good reply is served.
	remote.SetErr(errors.ErrPoolUnreachable)
	stats, err = c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Participants)
	assert.Equal(t, 3, stats.Rank)
}

func TestStatsLocalOnly(t *testing.T) {
	l := poolLedger(t)
	require.NoError(t, l.Complete("fallback-low", false))
	c := testCoordinator(l, "worker-1")

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Participants)
	assert.Equal(t, 1, stats.RangesCompleted)
	assert.Equal(t, 100.0, stats.ContributionPct)
}

func TestAutoReportingStopFlushes(t *testing.T) {
	l := poolLedger(t)
	remote := &FakeRemote{}
	remote.SetErr(errors.ErrPoolUnreachable)
	c := testCoordinator(l, "worker-1", WithRemote(remote))

	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	c.StartAutoReporting(func() (keyspace.Key, float64) {
		return keyspace.NewKey(0x400), 1e9
	})
	c.Stop(func() (keyspace.Key, float64) {
		return keyspace.NewKey(0x500), 1e9
	})

	// The final flush lands locally even though the remote is down.
	rec, err := l.Get(asg.RangeID)
	require.NoError(t, err)
	assert.Equal(t, "1280", rec.SearchedKeys.String())
}

func TestStopIdempotent(t *testing.T) {
	c := testCoordinator(poolLedger(t), "worker-1")
	c.Stop(nil)

	c.StartAutoReporting(nil)
	c.StartAutoReporting(nil)
	c.Stop(nil)
	c.Stop(nil)
}

func TestEndToEndFlow(t *testing.T) {
	dir := t.TempDir()
	id, err := Initialize(dir, "", "default", 60)
	require.NoError(t, err)

	l := poolLedger(t)
	c := New(l, scheduler.New(l), id)

	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)
	require.Equal(t, "core", asg.RangeID)

	rec, err := c.ReportProgress(context.Background(), keyspace.NewKey(0x1000), 1e9)
	require.NoError(t, err)
	require.Equal(t, 50.0, rec.PercentComplete)

	require.NoError(t, c.ReportCompletion(context.Background(), true))

	// Nothing overlapping the completed interval remains schedulable.
	next := scheduler.New(l).SelectNext()
	for _, r := range next {
		assert.False(t, r.Overlaps(asg.Range), "range %s overlaps the completed interval", r.ID)
	}
}

func TestAbandonAfterFullCoverageCompletes(t *testing.T) {
	l := poolLedger(t)
	c := testCoordinator(l, "worker-1")

	asg, err := c.RequestAssignment(context.Background())
	require.NoError(t, err)

	// A full-coverage report completes the range in the ledger.
	rec, err := c.ReportProgress(context.Background(), asg.Range.Width(), 1e9)
	require.NoError(t, err)
	require.Equal(t, keyspace.StatusCompleted, rec.Range.Status)

	// Abandoning now cannot release a completed range; the assignment
	// finishes as completed instead of getting stuck.
	require.NoError(t, c.AbandonAssignment("operator quit late"))

	_, ok := c.Current()
	assert.False(t, ok)

	rec, err = l.Get(asg.RangeID)
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusCompleted, rec.Range.Status)
}
