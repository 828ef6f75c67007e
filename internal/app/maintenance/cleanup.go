package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pablohfr/notifications-service/pkg/logger"
	"github.com/pablohfr/notifications-service/pkg/metrics"
)

const defaultRetentionSpec = "@every 1h"

// Pruner removes notifications created before a cutoff.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job is a named maintenance routine.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Cleaner schedules maintenance jobs, chiefly the notification retention sweep.
type Cleaner struct {
	pruner  Pruner
	maxAge  time.Duration
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	timeout time.Duration

	retentionSchedule string
	extra             []Job
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

// WithNow overrides the clock used to compute retention cutoffs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetentionSchedule overrides the cron expression for the retention sweep.
func WithRetentionSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.retentionSchedule = schedule
		}
	}
}

// WithJobTimeout bounds each scheduled job run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(cleaner *Cleaner) {
		if timeout > 0 {
			cleaner.timeout = timeout
		}
	}
}

// WithJob registers an additional maintenance job.
func WithJob(job Job) Option {
	return func(cleaner *Cleaner) {
		if job.Run != nil && job.Schedule != "" {
			cleaner.extra = append(cleaner.extra, job)
		}
	}
}

// NewCleaner constructs a Cleaner. A nil pruner or non-positive maxAge
// disables the retention sweep.
func NewCleaner(pruner Pruner, maxAge time.Duration, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		pruner:            pruner,
		maxAge:            maxAge,
		now:               time.Now,
		timeout:           time.Minute,
		retentionSchedule: defaultRetentionSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) jobs() []Job {
	var jobs []Job
	if c.pruner != nil && c.maxAge > 0 {
		jobs = append(jobs, Job{Name: "retention", Schedule: c.retentionSchedule, Run: c.pruneExpired})
	}
	return append(jobs, c.extra...)
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		if _, err := c.cron.AddFunc(job.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := job.Run(ctx); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", job.Name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", job.Name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially and aggregates their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range c.jobs() {
		if err := job.Run(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errs
}

func (c *Cleaner) pruneExpired(ctx context.Context) error {
	removed, err := PruneNotifications(ctx, c.pruner, c.now(), c.maxAge)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("pruned notifications", zap.Int64("removed", removed), zap.Duration("max_age", c.maxAge))
	}
	return nil
}

// PruneNotifications removes notifications older than maxAge relative to now.
func PruneNotifications(ctx context.Context, pruner Pruner, now time.Time, maxAge time.Duration) (int64, error) {
	if pruner == nil {
		return 0, errors.New("prune notifications: pruner is required")
	}
	if maxAge <= 0 {
		return 0, errors.New("prune notifications: max age must be positive")
	}

	removed, err := pruner.PruneOlderThan(ctx, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	metrics.RetentionPruned.Add(float64(removed))
	return removed, nil
}
