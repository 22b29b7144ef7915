// Package scheduler runs the periodic jobs of the data plane: monthly
// stream aggregation with catch-up for missed months, and overdue
// collection detection with cross-instance alert dedupe.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/storage"
)

// Cron expressions for the two jobs, evaluated in the configured timezone.
const (
	monthlySpec = "30 0 1 * *"
	overdueSpec = "0 9 * * *"
)

// defaultJobTimeout bounds a single job run.
const defaultJobTimeout = 30 * time.Minute

// Summaries is the recompute hook the monthly job calls after archival.
type Summaries interface {
	RecomputeAll(ctx context.Context, clientID string, ts time.Time, force bool) error
}

// Scheduler owns the cron runner and the job state.
type Scheduler struct {
	stores    *storage.Stores
	summaries Summaries
	publisher bus.Publisher
	dedupe    Deduper
	logger    *slog.Logger
	timezone  *time.Location
	timeout   time.Duration

	cron *cron.Cron

	// One TryLock guard per job keeps a slow run from overlapping the next
	// trigger.
	monthlyGuard sync.Mutex
	overdueGuard sync.Mutex

	now func() time.Time
}

// Config assembles a scheduler.
type Config struct {
	Stores    *storage.Stores
	Summaries Summaries
	Publisher bus.Publisher
	Dedupe    Deduper
	Logger    *slog.Logger
	Timezone  *time.Location
	Timeout   time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a scheduler; Start arms the cron entries.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}

	dedupe := cfg.Dedupe
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		stores:    cfg.Stores,
		summaries: cfg.Summaries,
		publisher: cfg.Publisher,
		dedupe:    dedupe,
		logger:    logger,
		timezone:  tz,
		timeout:   timeout,
		now:       now,
	}
}

// Start arms the cron entries and begins running jobs.
func (s *Scheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(s.timezone))

	if _, err := s.cron.AddFunc(monthlySpec, func() { s.runGuarded(&s.monthlyGuard, "monthly-aggregation", s.RunMonthlyAggregation) }); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(overdueSpec, func() { s.runGuarded(&s.overdueGuard, "overdue-detection", s.RunOverdueDetection) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"monthly", monthlySpec, "overdue", overdueSpec, "timezone", s.timezone.String())

	return nil
}

// Stop halts the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runGuarded runs one job under its non-reentrancy guard with the job
// timeout applied. An overlapping trigger is skipped, not queued.
func (s *Scheduler) runGuarded(guard *sync.Mutex, name string, job func(context.Context) error) {
	if !guard.TryLock() {
		s.logger.Warn("job still running, trigger skipped", "job", name)

		return
	}
	defer guard.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := s.now()

	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err,
			"elapsed", s.now().Sub(started).String())

		return
	}

	s.logger.Info("job finished", "job", name,
		"elapsed", s.now().Sub(started).String())
}
