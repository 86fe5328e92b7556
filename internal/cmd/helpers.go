package cmd

import (
	"fmt"

	"github.com/bitrange/rangepool/internal/config"
	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/event"
	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/logging"
	"github.com/bitrange/rangepool/internal/pool"
	"github.com/bitrange/rangepool/internal/scheduler"
)

// loadConfig resolves the effective configuration from viper state.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openLedger loads the ledger from the data directory for read-only use.
// A missing ledger means `init` has not been run yet.
func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	l, err := ledger.Load(cfg.Paths.DataDir)
	if err != nil {
		if errors.As(err, new(*errors.NotFoundError)) {
			return nil, fmt.Errorf("no ledger in %s: run 'rangepool init' first", cfg.Paths.DataDir)
		}
		return nil, err
	}
	return l, nil
}

// mutateLedger runs fn as a locked read-modify-write transaction against
// the shared state file, so concurrent rangepool processes serialize on
// the data directory instead of clobbering each other's claims.
func mutateLedger(cfg *config.Config, fn func(*ledger.Ledger) error, opts ...ledger.Option) error {
	if !ledger.Exists(cfg.Paths.DataDir) {
		return fmt.Errorf("no ledger in %s: run 'rangepool init' first", cfg.Paths.DataDir)
	}
	_, err := ledger.Mutate(cfg.Paths.DataDir, fn, opts...)
	return err
}

// newScheduler builds a scheduler with the configured thresholds.
func newScheduler(cfg *config.Config, l *ledger.Ledger) *scheduler.Scheduler {
	return scheduler.New(l,
		scheduler.WithHighRateThreshold(cfg.Scheduler.HighRateThreshold),
		scheduler.WithSlowRateFloor(cfg.Scheduler.SlowRateFloor),
		scheduler.WithStalenessWindow(cfg.Scheduler.StalenessWindow()),
	)
}

// newObservers builds the structured logger and the event bus with the
// logging observer attached.
func newObservers(cfg *config.Config) (*logging.Logger, *event.Bus, error) {
	log, err := logging.NewLogger(cfg.Paths.DataDir, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return log, newEventBus(log), nil
}

// newEventBus wires a bus whose range and assignment lifecycle events
// land in the structured log.
func newEventBus(log *logging.Logger) *event.Bus {
	bus := event.NewBus()
	bus.SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case event.RangeUpdatedEvent:
			log.Debug("range updated", "range_id", ev.RangeID,
				"percent", ev.PercentComplete, "rate", ev.SearchRate)
		case event.RangeCompletedEvent:
			log.Info("range completed", "range_id", ev.RangeID, "found", ev.Found)
		case event.RangeSplitEvent:
			log.Info("range split", "range_id", ev.ParentID, "children", len(ev.ChildIDs))
		case event.AssignmentClaimedEvent:
			log.Debug("assignment event", "type", ev.EventType(),
				"assignment_id", ev.AssignmentID, "range_id", ev.RangeID)
		case event.AssignmentReleasedEvent:
			log.Debug("assignment event", "type", ev.EventType(),
				"assignment_id", ev.AssignmentID, "range_id", ev.RangeID, "reason", ev.Reason)
		default:
			log.Debug("event", "type", e.EventType())
		}
	})
	return bus
}

// newCoordinator builds the pool coordinator for this participant,
// resuming any persisted assignment. The remote client is only wired
// when a pool URL is configured.
func newCoordinator(cfg *config.Config, l *ledger.Ledger, log *logging.Logger, bus *event.Bus) (*pool.Coordinator, error) {
	identity, err := pool.Initialize(cfg.Paths.DataDir, cfg.Pool.ClientID, cfg.Pool.ScanType, cfg.Pool.ReportIntervalSeconds)
	if err != nil {
		return nil, err
	}

	opts := []pool.Option{
		pool.WithLogger(log),
		pool.WithGraceFactor(cfg.Pool.GraceFactor),
		pool.WithTick(cfg.Scheduler.Tick()),
	}
	if bus != nil {
		opts = append(opts, pool.WithBus(bus))
	}
	if cfg.Pool.URL != "" {
		opts = append(opts, pool.WithRemote(pool.NewHTTPRemote(cfg.Pool.URL, cfg.Pool.RequestTimeout())))
	}

	c := pool.New(l, newScheduler(cfg, l), identity, opts...)
	if asg, err := pool.LoadAssignment(cfg.Paths.DataDir); err == nil {
		c.Adopt(asg)
	}
	return c, nil
}

// withCoordinator runs fn with a fully wired coordinator inside a locked
// ledger transaction. The ledger is only persisted when fn succeeds.
func withCoordinator(cfg *config.Config, fn func(*pool.Coordinator, *ledger.Ledger) error) error {
	log, bus, err := newObservers(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	return mutateLedger(cfg, func(l *ledger.Ledger) error {
		c, err := newCoordinator(cfg, l, log, bus)
		if err != nil {
			return err
		}
		return fn(c, l)
	}, ledger.WithBus(bus))
}
