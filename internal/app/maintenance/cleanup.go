package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/logger"
)

const (
	defaultDrainSpec  = "@every 30s"
	defaultSweepSpec  = "@every 5m"
	defaultPurgeSpec  = "@daily"
	defaultDrainBatch = 100
	defaultRetention  = 7 * 24 * time.Hour
)

// Purger is implemented by queues that can drop writes too old to replay.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner coordinates background maintenance: replaying deferred writes,
// sweeping expired cache entries and purging writes that never replayed.
type Cleaner struct {
	queue     errorhandler.Queue
	registry  *repository.Registry
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	batch     int
	retention time.Duration

	drainSchedule string
	sweepSchedule string
	purgeSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithDrainBatch caps how many writes one drain pass replays.
func WithDrainBatch(n int) Option {
	return func(cleaner *Cleaner) {
		if n > 0 {
			cleaner.batch = n
		}
	}
}

// WithRetention sets how long a deferred write may wait before it is purged.
func WithRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithSchedules overrides the cron schedules. An empty schedule
// disables that job.
func WithSchedules(drain, sweep, purge string) Option {
	return func(cleaner *Cleaner) {
		cleaner.drainSchedule = drain
		cleaner.sweepSchedule = sweep
		cleaner.purgeSchedule = purge
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil queue or
// registry results in the jobs that need it being skipped.
func NewCleaner(queue errorhandler.Queue, registry *repository.Registry, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		queue:         queue,
		registry:      registry,
		now:           time.Now,
		batch:         defaultDrainBatch,
		retention:     defaultRetention,
		drainSchedule: defaultDrainSpec,
		sweepSchedule: defaultSweepSpec,
		purgeSchedule: defaultPurgeSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		cleaner.cron = cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}

	return cleaner
}

// Start registers the maintenance jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := 0

	if c.queue != nil && c.registry != nil && c.drainSchedule != "" {
		if _, err := c.cron.AddFunc(c.drainSchedule, func() {
			if _, err := c.DrainPending(context.Background()); err != nil {
				c.log.Warn("pending write drain failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: drain schedule: %w", err)
		}
		jobs++
	}

	if c.registry != nil && c.sweepSchedule != "" {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			c.SweepCaches()
		}); err != nil {
			return fmt.Errorf("maintenance: sweep schedule: %w", err)
		}
		jobs++
	}

	if _, ok := c.queue.(Purger); ok && c.purgeSchedule != "" {
		if _, err := c.cron.AddFunc(c.purgeSchedule, func() {
			if _, err := c.PurgeStale(context.Background()); err != nil {
				c.log.Warn("pending write purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: purge schedule: %w", err)
		}
		jobs++
	}

	if jobs > 0 {
		c.cron.Start()
	}
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// DrainPending replays one batch of deferred writes through the registry.
func (c *Cleaner) DrainPending(ctx context.Context) (errorhandler.DrainResult, error) {
	if c.queue == nil || c.registry == nil {
		return errorhandler.DrainResult{}, nil
	}

	result, err := errorhandler.Drain(ctx, c.queue, c.batch, c.registry.Replay)
	if result.Replayed > 0 || result.Failed > 0 || result.Dropped > 0 {
		c.log.Info("pending writes drained",
			zap.Int("replayed", result.Replayed),
			zap.Int("failed", result.Failed),
			zap.Int("dropped", result.Dropped),
		)
	}
	if result.Dropped > 0 {
		c.log.Warn("dropped pending writes that cannot be replayed", zap.Int("count", result.Dropped), zap.Error(err))
	}
	return result, err
}

// SweepCaches drops expired cache entries in every repository.
func (c *Cleaner) SweepCaches() int {
	if c.registry == nil {
		return 0
	}
	removed := c.registry.SweepCaches()
	if removed > 0 {
		c.log.Debug("cache sweep", zap.Int("removed", removed))
	}
	return removed
}

// PurgeStale drops deferred writes older than the retention period.
func (c *Cleaner) PurgeStale(ctx context.Context) (int64, error) {
	purger, ok := c.queue.(Purger)
	if !ok {
		return 0, nil
	}
	if c.retention <= 0 {
		return 0, errors.New("purge: retention must be positive")
	}

	removed, err := purger.PurgeOlderThan(ctx, c.now().Add(-c.retention))
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	if removed > 0 {
		c.log.Warn("purged stale pending writes", zap.Int64("removed", removed), zap.Duration("retention", c.retention))
	}
	return removed, nil
}

// RunOnce executes every maintenance routine sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := c.DrainPending(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	c.SweepCaches()
	if _, err := c.PurgeStale(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
