// Package scheduler drives the daily catch-up run: it compares every
// reservoir's last reduced date against each feed's archive horizon, reduces
// the missing days and appends them to the feed's table.
//
// A run is synchronous and has no internal retries. Because the last reduced
// date is always read back from the store, a failed run leaves every affected
// reservoir "still behind" and the next run resumes from there.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"reducer/internal/types"
)

// runLockKey names the single lock all catch-up runs share. Windows are
// planned from the stored latest dates, not from the requested day, so runs
// for different days would push the same rows.
const runLockKey = "reduce"

// lockTTL bounds how long a crashed run can block the next one.
const lockTTL = 30 * time.Minute

// requeueDelay is how far in the future the next day's run is scheduled.
const requeueDelay = 24 * time.Hour

// GeometrySource loads the tracked reservoir polygons.
type GeometrySource interface {
	List(ctx context.Context) ([]types.Geometry, error)
}

// ReducedStore reads and appends a feed's reduced table.
type ReducedStore interface {
	LatestDates(ctx context.Context, spec types.FeedSpec) (map[string]time.Time, error)
	// PushRows must persist all rows or none.
	PushRows(ctx context.Context, spec types.FeedSpec, set *types.RowSet) (int, error)
}

// HorizonProvider returns the most recent date available in a feed's archive.
type HorizonProvider interface {
	Horizon(ctx context.Context, spec types.FeedSpec) (time.Time, error)
}

// RowAssembler reduces geometries over [first, last] into persisted rows.
type RowAssembler interface {
	Assemble(ctx context.Context, spec types.FeedSpec, geoms []types.Geometry, first, last time.Time) (*types.RowSet, error)
}

// Requeuer schedules a future run.
type Requeuer interface {
	Enqueue(ctx context.Context, input types.RunInput, runAt time.Time) error
}

// Notifier delivers a human-readable run summary.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// RunMetrics records run telemetry. Implementations log their own failures.
type RunMetrics interface {
	RecordRows(ctx context.Context, feed types.FeedName, rows int)
	RecordWindow(ctx context.Context, feed types.FeedName)
	RecordRunDuration(ctx context.Context, d time.Duration)
}

// RunLocker is a named lease with an expiry.
type RunLocker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

// RunRecorder keeps an audit record per run.
type RunRecorder interface {
	Start(ctx context.Context, runID, today string) (int64, error)
	Finish(ctx context.Context, id int64, result *types.RunResult, runErr error) error
}

// CatchupConfig holds the dependencies of a Catchup. Geometries, Reduced,
// Horizons and Assembler are required; every other collaborator is optional.
type CatchupConfig struct {
	Geometries GeometrySource
	Reduced    ReducedStore
	Horizons   HorizonProvider
	Assembler  RowAssembler

	Requeuer Requeuer
	Notifier Notifier
	Metrics  RunMetrics
	Locks    RunLocker
	Runs     RunRecorder

	// Feeds are processed in slice order.
	Feeds []types.FeedSpec
	// Requeue enqueues the next day's run after a successful run.
	Requeue bool
	// DryRun assembles rows without pushing them.
	DryRun bool

	WorkerID string
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Catchup runs the incremental reduction for every configured feed.
type Catchup struct {
	cfg    CatchupConfig
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewCatchup creates a Catchup.
func NewCatchup(cfg CatchupConfig) *Catchup {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	return &Catchup{cfg: cfg, clock: cfg.Clock, logger: cfg.Logger}
}

// Run executes one catch-up run for input.Today.
//
// A run whose lock is held by another worker returns status skipped and no
// error. A failed run returns the partial result with status failed together
// with the error that stopped it.
func (c *Catchup) Run(ctx context.Context, input types.RunInput) (*types.RunResult, error) {
	today, err := types.ParseDate(input.Today)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			"today must be a YYYY-MM-DD date", err, map[string]any{"today": input.Today})
	}

	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	logger := c.logger.With("run_id", runID)
	ctx = types.WithLogger(ctx, logger)

	result := &types.RunResult{
		RunID:  runID,
		Today:  input.Today,
		Status: types.RunStatusSuccess,
		Rows:   make(map[types.FeedName]int, len(c.cfg.Feeds)),
	}

	if c.cfg.Locks != nil {
		holder := c.cfg.WorkerID + "/" + runID
		acquired, err := c.cfg.Locks.Acquire(ctx, runLockKey, holder, lockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			logger.InfoContext(ctx, "another catch-up run holds the lock, skipping",
				"today", input.Today,
			)
			result.Status = types.RunStatusSkipped
			return result, nil
		}
		defer func() {
			if err := c.cfg.Locks.Release(context.WithoutCancel(ctx), runLockKey, holder); err != nil {
				logger.WarnContext(ctx, "failed to release run lock", "error", err)
			}
		}()
	}

	var recordID int64
	if c.cfg.Runs != nil {
		if recordID, err = c.cfg.Runs.Start(ctx, runID, input.Today); err != nil {
			logger.ErrorContext(ctx, "failed to record run start", "error", err)
			recordID = 0
		}
	}

	started := c.clock.Now()
	logger.InfoContext(ctx, "catch-up run started",
		"today", input.Today,
		"worker_id", c.cfg.WorkerID,
		"dry_run", c.cfg.DryRun,
	)

	runErr := c.run(ctx, result)

	elapsed := c.clock.Since(started)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordRunDuration(ctx, elapsed)
	}
	total := 0
	for _, n := range result.Rows {
		total += n
	}

	if runErr != nil {
		result.Status = types.RunStatusFailed
	}
	if recordID != 0 {
		if err := c.cfg.Runs.Finish(context.WithoutCancel(ctx), recordID, result, runErr); err != nil {
			logger.ErrorContext(ctx, "failed to record run outcome", "record_id", recordID, "error", err)
		}
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "catch-up run failed",
			"today", input.Today,
			"rows", total,
			"duration_ms", elapsed.Milliseconds(),
			"error", runErr,
		)
		c.notify(ctx, fmt.Sprintf("REDUCE ::: %s failed: %v", input.Today, runErr))
		return result, runErr
	}

	summary := c.summary(input.Today, result.Rows)
	logger.InfoContext(ctx, summary,
		"today", input.Today,
		"rows", total,
		"duration_ms", elapsed.Milliseconds(),
	)
	c.notify(ctx, summary)

	if c.cfg.Requeue && c.cfg.Requeuer != nil {
		next := types.RunInput{Today: today.AddDate(0, 0, 1).Format(types.DateLayout)}
		runAt := c.clock.Now().Add(requeueDelay)
		if err := c.cfg.Requeuer.Enqueue(ctx, next, runAt); err != nil {
			logger.ErrorContext(ctx, "failed to requeue next run",
				"next_today", next.Today,
				"run_at", runAt.Format(time.RFC3339),
				"error", err,
			)
		} else {
			logger.InfoContext(ctx, "requeued next run",
				"next_today", next.Today,
				"run_at", runAt.Format(time.RFC3339),
			)
		}
	}

	return result, nil
}

// run processes every feed. Archive failures stop only their own feed and
// are joined into the returned error; any other failure stops the run.
func (c *Catchup) run(ctx context.Context, result *types.RunResult) error {
	logger := types.LoggerFromContext(ctx, c.logger)
	geoms, err := c.cfg.Geometries.List(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]types.Geometry, len(geoms))
	for _, g := range geoms {
		byName[g.Name] = g
	}

	var feedErrs []error
	for _, spec := range c.cfg.Feeds {
		rows, err := c.catchupFeed(ctx, spec, byName)
		result.Rows[spec.Name] = rows
		if err == nil {
			continue
		}
		if !isFeedScoped(err) {
			return errors.Join(append(feedErrs, err)...)
		}
		logger.ErrorContext(ctx, "feed aborted",
			"feed", spec.Name,
			"rows", rows,
			"error", err,
		)
		feedErrs = append(feedErrs, err)
	}
	return errors.Join(feedErrs...)
}

// catchupFeed brings one feed up to its horizon and returns the rows pushed.
func (c *Catchup) catchupFeed(ctx context.Context, spec types.FeedSpec, geoms map[string]types.Geometry) (int, error) {
	logger := types.LoggerFromContext(ctx, c.logger)
	horizon, err := c.cfg.Horizons.Horizon(ctx, spec)
	if err != nil {
		return 0, err
	}
	latest, err := c.cfg.Reduced.LatestDates(ctx, spec)
	if err != nil {
		return 0, err
	}

	windows := PlanWindows(spec.Name, latest, horizon)
	logger.InfoContext(ctx, "planned catch-up windows",
		"feed", spec.Name,
		"horizon", horizon.Format(types.DateLayout),
		"reservoirs", len(latest),
		"windows", len(windows),
	)

	pushed := 0
	for _, w := range windows {
		subset := make([]types.Geometry, 0, len(w.Reservoirs))
		for _, name := range w.Reservoirs {
			g, ok := geoms[name]
			if !ok {
				logger.WarnContext(ctx, "reservoir has no geometry, skipping",
					"feed", spec.Name,
					"reservoir", name,
				)
				continue
			}
			subset = append(subset, g)
		}
		if len(subset) == 0 {
			continue
		}

		set, err := c.cfg.Assembler.Assemble(ctx, spec, subset, w.FirstDay(), w.Through)
		if err != nil {
			return pushed, err
		}

		n := set.Len()
		if !c.cfg.DryRun {
			if n, err = c.cfg.Reduced.PushRows(ctx, spec, set); err != nil {
				return pushed, err
			}
		}
		pushed += n
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordWindow(ctx, spec.Name)
			c.cfg.Metrics.RecordRows(ctx, spec.Name, n)
		}
		logger.InfoContext(ctx, "window reduced",
			"feed", spec.Name,
			"reservoirs", w.Reservoirs,
			"after", w.After.Format(types.DateLayout),
			"through", w.Through.Format(types.DateLayout),
			"rows", n,
			"dry_run", c.cfg.DryRun,
		)
	}
	return pushed, nil
}

// PlanWindows groups reservoirs by their last reduced date and returns one
// window (After, horizon] per date strictly before horizon, ordered by After.
// Reservoirs are sorted by name within a window.
func PlanWindows(feed types.FeedName, latest map[string]time.Time, horizon time.Time) []types.CatchupWindow {
	horizon = types.TruncateDay(horizon)
	groups := make(map[time.Time][]string)
	for name, d := range latest {
		d = types.TruncateDay(d)
		if !d.Before(horizon) {
			continue
		}
		groups[d] = append(groups[d], name)
	}

	windows := make([]types.CatchupWindow, 0, len(groups))
	for after, names := range groups {
		slices.Sort(names)
		windows = append(windows, types.CatchupWindow{
			Feed:       feed,
			Reservoirs: names,
			After:      after,
			Through:    horizon,
		})
	}
	slices.SortFunc(windows, func(a, b types.CatchupWindow) int {
		return a.After.Compare(b.After)
	})
	return windows
}

func (c *Catchup) summary(today string, rows map[types.FeedName]int) string {
	parts := make([]string, 0, len(c.cfg.Feeds))
	for _, spec := range c.cfg.Feeds {
		parts = append(parts, fmt.Sprintf("%d %s rows", rows[spec.Name], spec.Name))
	}
	return fmt.Sprintf("REDUCE ::: %s pushed %s", today, strings.Join(parts, " and "))
}

func (c *Catchup) notify(ctx context.Context, text string) {
	logger := types.LoggerFromContext(ctx, c.logger)
	if c.cfg.Notifier == nil {
		return
	}
	if err := c.cfg.Notifier.Notify(ctx, text); err != nil {
		logger.WarnContext(ctx, "failed to send notification", "error", err)
	}
}

func isFeedScoped(err error) bool {
	code := types.CodeOf(err)
	return code == types.ErrCodeUpstreamArchive || code == types.ErrCodeInternalArchiveCorrupt
}
