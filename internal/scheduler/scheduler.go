// Package scheduler runs the periodic maintenance jobs of the live loop on
// cron expressions: settling pending bets, the daily bankroll reset and the
// factor degradation sweep.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/factor"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/reconcile"
)

// Job names
const (
	JobReconcile   = "reconcile_pending"
	JobDailyReset  = "daily_reset"
	JobDegradation = "degradation_sweep"
)

// PendingReconciler settles every bet whose race has an official result
type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (reconcile.Summary, error)
}

// DailyResetter starts a new trading day on the bankroll
type DailyResetter interface {
	ResetDaily(ctx context.Context) error
}

// DegradationSweeper deprecates approved factors that breach a rule
type DegradationSweeper interface {
	SweepDegraded(ctx context.Context, rule factor.DegradationRule) ([]*models.FactorRule, error)
}

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

// JobStatus describes a scheduled job
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
}

type job struct {
	id      cron.EntryID
	spec    string
	timeout time.Duration
	fn      JobFunc
	lastRun time.Time
	lastErr error
	runs    int64
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLocation evaluates cron expressions in loc
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithJobTimeout bounds each job run
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.jobTimeout = d }
}

// Scheduler manages the cron jobs
type Scheduler struct {
	cron            *cron.Cron
	logger          *logrus.Entry
	loc             *time.Location
	jobTimeout      time.Duration
	gracefulTimeout time.Duration
	now             func() time.Time

	mu        sync.RWMutex
	isRunning bool
	jobs      map[string]*job
}

// NewScheduler creates a new scheduler. Overlapping runs of the same job are skipped.
func NewScheduler(log *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:          log.WithField("component", "scheduler"),
		loc:             time.UTC,
		jobTimeout:      10 * time.Minute,
		gracefulTimeout: 30 * time.Second,
		now:             func() time.Time { return time.Now().UTC() },
		jobs:            make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.logger)), cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))),
	)
	return s
}

// FromConfig registers the three maintenance jobs from the scheduler config
func (s *Scheduler) FromConfig(cfg config.SchedulerConfig, lifecycle config.LifecycleConfig, r PendingReconciler, b DailyResetter, f DegradationSweeper) error {
	if err := s.ScheduleReconcile(cfg.ReconcileCron, r); err != nil {
		return err
	}
	if err := s.ScheduleDailyReset(cfg.DailyResetCron, b); err != nil {
		return err
	}
	rule := factor.DegradationRule{
		Statistic: lifecycle.Degradation.Statistic,
		MinSample: lifecycle.Degradation.MinSample,
		Threshold: lifecycle.Degradation.Threshold,
	}
	return s.ScheduleDegradationSweep(cfg.DegradationCron, f, rule)
}

// ScheduleReconcile settles pending bets on spec
func (s *Scheduler) ScheduleReconcile(spec string, r PendingReconciler) error {
	return s.Schedule(JobReconcile, spec, func(ctx context.Context) error {
		summary, err := r.ReconcilePending(ctx)
		s.logger.WithFields(logrus.Fields{
			"races":   summary.Races,
			"settled": summary.Settled,
			"voided":  summary.Voided,
			"skipped": summary.Skipped,
			"pnl":     summary.ProfitLoss,
		}).Info("Scheduled reconciliation finished")
		return err
	})
}

// ScheduleDailyReset rolls the bankroll's daily counters on spec
func (s *Scheduler) ScheduleDailyReset(spec string, b DailyResetter) error {
	return s.Schedule(JobDailyReset, spec, b.ResetDaily)
}

// ScheduleDegradationSweep deprecates degraded factors on spec
func (s *Scheduler) ScheduleDegradationSweep(spec string, f DegradationSweeper, rule factor.DegradationRule) error {
	return s.Schedule(JobDegradation, spec, func(ctx context.Context) error {
		deprecated, err := f.SweepDegraded(ctx, rule)
		for _, rule := range deprecated {
			s.logger.WithFields(logrus.Fields{
				"factor_id": rule.ID,
				"factor":    rule.Name,
			}).Warn("Factor deprecated by degradation sweep")
		}
		return err
	})
}

// Schedule adds a named job. Jobs can only be added while stopped.
func (s *Scheduler) Schedule(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q is already scheduled", name)
	}

	j := &job{spec: spec, timeout: s.jobTimeout, fn: fn}
	entryID, err := s.cron.AddFunc(spec, func() { s.run(context.Background(), name, j) })
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", name, err)
	}
	j.id = entryID
	s.jobs[name] = j

	s.logger.WithFields(logrus.Fields{"job": name, "cron": spec}).Info("Scheduled job")
	return nil
}

// Trigger runs a scheduled job immediately and waits for it
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q is not scheduled", name)
	}
	return s.run(ctx, name, j)
}

func (s *Scheduler) run(parent context.Context, name string, j *job) error {
	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)

	s.mu.Lock()
	j.lastRun = s.now()
	j.lastErr = err
	j.runs++
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{"job": name, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("Scheduled job failed")
		return err
	}
	entry.Debug("Scheduled job completed")
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.jobs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop waits for running jobs, up to the graceful timeout
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.gracefulTimeout):
		return fmt.Errorf("scheduler jobs still running after %s", s.gracefulTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	var next time.Time
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.id)
		if entry.Valid() && (next.IsZero() || entry.Next.Before(next)) {
			next = entry.Next
		}
	}
	return next
}

// Jobs returns the status of every scheduled job, by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		st := JobStatus{Name: name, Spec: j.spec, LastRun: j.lastRun, Runs: j.runs}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		if entry := s.cron.Entry(j.id); entry.Valid() {
			st.Next = entry.Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot remove job while scheduler is running")
	}
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q is not scheduled", name)
	}
	s.cron.Remove(j.id)
	delete(s.jobs, name)
	s.logger.WithField("job", name).Info("Removed job")
	return nil
}
