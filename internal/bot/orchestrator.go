// Package bot runs the live loop: it pulls the day's races, scores them,
// lets the strategy pick candidates, sizes and gates each bet, and hands
// approved bets to the executor.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/furlong/internal/bankroll"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/datasource"
	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/repository"
	"github.com/yourusername/furlong/internal/safety"
	"github.com/yourusername/furlong/internal/strategy"
)

// Race skip reasons
const (
	SkipNoFactors  = "no_active_factors"
	SkipNoRunners  = "no_runners"
	SkipNoModel    = "no_active_model"
	SkipEmergency  = "emergency_stop"
	SkipNoDecision = "no_accepted_candidates"
)

// RuleSource returns the factor rules allowed to score a race at asOf
type RuleSource interface {
	Active(ctx context.Context, asOf time.Time) ([]models.FactorRule, error)
}

// Scorer produces calibrated runner scores for a race
type Scorer interface {
	ScoreRace(ctx context.Context, race *models.Race, rules []models.FactorRule) ([]*models.RunnerScore, error)
}

// Sizer computes stakes for accepted candidates
type Sizer interface {
	Size(ctx context.Context, c strategy.Candidate, ev strategy.Evaluation) bankroll.Sizing
}

// Gate approves or rejects sized bets and voids those the executor could not place
type Gate interface {
	PreCheck(ctx context.Context, req safety.Request) (safety.Decision, error)
	Abort(ctx context.Context, d safety.Decision, cause error) error
}

// Settings holds the live-loop parameters
type Settings struct {
	PollInterval       time.Duration
	ExecutorTimeout    time.Duration
	MaxConcurrentRaces int
	BetTypes           []models.BetType
	Location           *time.Location
	DryRun             bool
}

// SettingsFromConfig derives loop settings from the application config
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	betTypes, err := strategy.ParseBetTypes(cfg.Strategy.BetTypes)
	if err != nil {
		return Settings{}, err
	}
	loc, err := time.LoadLocation(cfg.Bankroll.Timezone)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load timezone %q: %w", cfg.Bankroll.Timezone, err)
	}
	return Settings{
		PollInterval:       time.Duration(cfg.Bot.PollIntervalSeconds) * time.Second,
		ExecutorTimeout:    time.Duration(cfg.Bot.ExecutorTimeoutSeconds) * time.Second,
		MaxConcurrentRaces: cfg.Scoring.MaxConcurrentRaces,
		BetTypes:           betTypes,
		Location:           loc,
		DryRun:             cfg.Bot.DryRun,
	}, nil
}

// Dependencies holds the pipeline stages the orchestrator drives
type Dependencies struct {
	Source   datasource.RaceSource
	Races    repository.RaceRepository
	Rules    RuleSource
	Scorer   Scorer
	Strategy strategy.Strategy
	Bankroll Sizer
	Gate     Gate
	Executor Executor
	Stop     killswitch.Switch
	Monitor  *Monitor
}

// RaceReport is the outcome of one race pass
type RaceReport struct {
	RaceID     uuid.UUID `json:"race_id"`
	Candidates int       `json:"candidates"`
	Accepted   int       `json:"accepted"`
	SizedOut   int       `json:"sized_out"`
	Approved   int       `json:"approved"`
	Rejected   int       `json:"rejected"`
	Placed     int       `json:"placed"`
	Failed     int       `json:"failed"`
	Skipped    string    `json:"skipped,omitempty"`
}

// CycleSummary aggregates the race reports of one poll
type CycleSummary struct {
	Races    int    `json:"races"`
	Skipped  int    `json:"skipped"`
	Errored  int    `json:"errored"`
	Approved int    `json:"approved"`
	Rejected int    `json:"rejected"`
	Placed   int    `json:"placed"`
	Failed   int    `json:"failed"`
	Halted   string `json:"halted,omitempty"`
}

func (s *CycleSummary) add(r RaceReport) {
	s.Races++
	if r.Skipped != "" {
		s.Skipped++
	}
	s.Approved += r.Approved
	s.Rejected += r.Rejected
	s.Placed += r.Placed
	s.Failed += r.Failed
}

// OrchestratorStatus represents current bot status
type OrchestratorStatus struct {
	Running         bool            `json:"running"`
	DryRun          bool            `json:"dry_run"`
	Cycles          int64           `json:"cycles"`
	LastCycle       time.Time       `json:"last_cycle,omitempty"`
	LastSummary     CycleSummary    `json:"last_summary"`
	Totals          CycleSummary    `json:"totals"`
	ExecutorMetrics *ExecutorMetrics `json:"executor_metrics,omitempty"`
	MonitorMetrics  *MonitorMetrics  `json:"monitor_metrics,omitempty"`
	Dashboard       *DashboardData   `json:"dashboard,omitempty"`
}

// Orchestrator coordinates the live pipeline
type Orchestrator struct {
	settings Settings
	deps     Dependencies
	logger   *logrus.Entry
	strategy *logger.StrategyLogger
	now      func() time.Time

	mu          sync.RWMutex
	running     bool
	done        chan struct{}
	processed   map[uuid.UUID]struct{}
	day         string
	cycles      int64
	lastCycle   time.Time
	lastSummary CycleSummary
	totals      CycleSummary
}

// NewOrchestrator creates a new bot orchestrator
func NewOrchestrator(settings Settings, deps Dependencies, log *logrus.Logger) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("race source is required")
	case deps.Rules == nil, deps.Scorer == nil, deps.Strategy == nil:
		return nil, fmt.Errorf("rules, scorer and strategy are required")
	case deps.Bankroll == nil, deps.Gate == nil, deps.Executor == nil:
		return nil, fmt.Errorf("bankroll, safety gate and executor are required")
	}
	if len(settings.BetTypes) == 0 {
		settings.BetTypes = []models.BetType{models.BetTypeWin}
	}
	if settings.MaxConcurrentRaces <= 0 {
		settings.MaxConcurrentRaces = 1
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = time.Minute
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.ExecutorTimeout > 0 {
		if _, wrapped := deps.Executor.(*TimedExecutor); !wrapped {
			deps.Executor = NewTimedExecutor(deps.Executor, settings.ExecutorTimeout)
		}
	}

	return &Orchestrator{
		settings:  settings,
		deps:      deps,
		logger:    log.WithField("component", "orchestrator"),
		strategy:  logger.NewStrategyLogger(log),
		now:       func() time.Time { return time.Now().UTC() },
		processed: make(map[uuid.UUID]struct{}),
	}, nil
}

// Start launches the monitor and the trading loop in the background
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is already running")
	}
	o.running = true
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"dry_run":        o.settings.DryRun,
		"strategy":       o.deps.Strategy.Name(),
		"poll_interval":  o.settings.PollInterval,
		"max_concurrent": o.settings.MaxConcurrentRaces,
	}).Info("Starting bot orchestrator")

	if o.deps.Monitor != nil {
		go func() {
			if err := o.deps.Monitor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.WithError(err).Error("Performance monitor stopped")
			}
		}()
	}

	go o.tradingLoop(ctx, done)
	return nil
}

// Stop signals the trading loop to exit
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.done)
	o.mu.Unlock()

	if o.deps.Monitor != nil {
		if err := o.deps.Monitor.Stop(); err != nil {
			o.logger.WithError(err).Error("Failed to stop monitor")
		}
	}
	o.logger.Info("Bot orchestrator stopped")
	return nil
}

// IsRunning reports whether the trading loop is active
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) tradingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(o.settings.PollInterval)
	defer ticker.Stop()

	o.logger.WithField("poll_interval", o.settings.PollInterval).Info("Trading loop started")
	o.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Trading loop stopped by context")
			return
		case <-done:
			o.logger.Info("Trading loop stopped")
			return
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	summary, err := o.RunOnce(ctx)
	entry := o.logger.WithFields(logrus.Fields{
		"races":    summary.Races,
		"approved": summary.Approved,
		"rejected": summary.Rejected,
		"placed":   summary.Placed,
		"failed":   summary.Failed,
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("Trading cycle completed with errors")
	case summary.Halted != "":
		entry.WithField("halted", summary.Halted).Warn("Trading cycle halted")
	default:
		entry.Debug("Trading cycle completed")
	}
}

// RunOnce performs one poll: it fetches today's races and processes every
// race that has not started and has not already been handled.
func (o *Orchestrator) RunOnce(ctx context.Context) (CycleSummary, error) {
	now := o.now()
	var summary CycleSummary

	if o.deps.Stop != nil {
		engaged, reason, err := killswitch.IsEngaged(ctx, o.deps.Stop)
		if err != nil {
			o.logger.WithError(err).Warn("Emergency stop state unavailable; treating as engaged")
			engaged, reason = true, "state unavailable"
		}
		if engaged {
			summary.Halted = reason
			o.finishCycle(now, summary)
			return summary, nil
		}
	}

	races, err := o.deps.Source.RacesOn(ctx, now.In(o.settings.Location))
	if err != nil {
		o.finishCycle(now, summary)
		return summary, fmt.Errorf("failed to fetch races: %w", err)
	}

	summary, err = o.ProcessRaces(ctx, o.upcoming(races, now))
	o.finishCycle(now, summary)
	return summary, err
}

// upcoming keeps races that start after now and were not processed today
func (o *Orchestrator) upcoming(races []*models.Race, now time.Time) []*models.Race {
	day := models.TradingDay(now, o.settings.Location)

	o.mu.Lock()
	defer o.mu.Unlock()
	if day != o.day {
		o.day = day
		o.processed = make(map[uuid.UUID]struct{})
	}

	out := make([]*models.Race, 0, len(races))
	for _, race := range races {
		if !race.ScheduledStart.After(now) {
			continue
		}
		if _, done := o.processed[race.ID]; done {
			continue
		}
		out = append(out, race)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledStart.Equal(out[j].ScheduledStart) {
			return out[i].ScheduledStart.Before(out[j].ScheduledStart)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (o *Orchestrator) finishCycle(at time.Time, summary CycleSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles++
	o.lastCycle = at
	o.lastSummary = summary
	o.totals.Races += summary.Races
	o.totals.Skipped += summary.Skipped
	o.totals.Errored += summary.Errored
	o.totals.Approved += summary.Approved
	o.totals.Rejected += summary.Rejected
	o.totals.Placed += summary.Placed
	o.totals.Failed += summary.Failed
}

// ProcessRaces runs the pipeline over races with bounded concurrency. A
// failing race does not cancel the others; its error is joined into the
// result and the race is retried on the next poll.
func (o *Orchestrator) ProcessRaces(ctx context.Context, races []*models.Race) (CycleSummary, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		summary CycleSummary
		errs    []error
	)
	g.SetLimit(o.settings.MaxConcurrentRaces)

	for _, race := range races {
		race := race
		g.Go(func() error {
			report, err := o.processRace(ctx, race)

			mu.Lock()
			defer mu.Unlock()
			summary.add(report)
			if err != nil {
				summary.Errored++
				errs = append(errs, fmt.Errorf("race %s: %w", race.ID, err))
				o.logger.WithError(err).WithField("race_id", race.ID).Error("Failed to process race")
				return nil
			}
			o.markProcessed(race.ID)
			return nil
		})
	}
	_ = g.Wait()

	return summary, errors.Join(errs...)
}

func (o *Orchestrator) markProcessed(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed[id] = struct{}{}
}

func (o *Orchestrator) processRace(ctx context.Context, race *models.Race) (RaceReport, error) {
	start := time.Now()
	report := RaceReport{RaceID: race.ID}

	if len(race.ActiveRunners()) == 0 {
		report.Skipped = SkipNoRunners
		return report, nil
	}
	if o.deps.Races != nil {
		if err := o.deps.Races.Save(ctx, race); err != nil {
			return report, fmt.Errorf("failed to save race card: %w", err)
		}
	}

	rules, err := o.deps.Rules.Active(ctx, race.ScheduledStart)
	if err != nil {
		return report, err
	}
	if len(rules) == 0 {
		report.Skipped = SkipNoFactors
		return report, nil
	}

	scores, err := o.deps.Scorer.ScoreRace(ctx, race, rules)
	if errors.Is(err, models.ErrNoActiveModel) {
		report.Skipped = SkipNoModel
		return report, nil
	}
	if err != nil {
		return report, err
	}

	name := o.deps.Strategy.Name()
	decisions := strategy.EvaluateAll(o.deps.Strategy, strategy.BuildCandidates(race, scores, o.settings.BetTypes))
	report.Candidates = len(decisions)
	failures := 0
	for _, s := range scores {
		failures += len(s.Failures)
	}
	for _, d := range decisions {
		metrics.RecordCandidate(name, d.Evaluation.Accepted)
		o.strategy.LogCandidate(name, race.ID.String(), d.Candidate.Runner.ID.String(),
			d.Candidate.Probability, d.Candidate.Odds, d.Evaluation.EV, d.Evaluation.Accepted, d.Evaluation.Reason)
	}
	o.strategy.LogRaceEvaluation(name, race.ID.String(), len(scores), len(decisions), failures,
		float64(time.Since(start).Milliseconds()))

	accepted := strategy.Accepted(decisions)
	if len(accepted) == 0 {
		report.Skipped = SkipNoDecision
		return report, nil
	}

	var errs []error
	for _, d := range accepted {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Accepted++
		if err := o.submit(ctx, d, &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// submit sizes, gates and executes one accepted candidate
func (o *Orchestrator) submit(ctx context.Context, d strategy.Decision, report *RaceReport) error {
	sizing := o.deps.Bankroll.Size(ctx, d.Candidate, d.Evaluation)
	if sizing.Stake <= 0 {
		report.SizedOut++
		return nil
	}

	decision, err := o.deps.Gate.PreCheck(ctx, safety.Request{
		Candidate:  d.Candidate,
		Evaluation: d.Evaluation,
		Stake:      sizing.Stake,
	})
	if err != nil {
		report.Failed++
		return fmt.Errorf("safety check failed: %w", err)
	}
	if !decision.Approved() {
		report.Rejected++
		if decision.Reason == safety.ReasonEmergencyStop && report.Skipped == "" {
			report.Skipped = SkipEmergency
		}
		return nil
	}
	report.Approved++

	bet := decision.Bet
	ack, err := o.deps.Executor.Place(ctx, BetRequest{
		BetID:       bet.ID,
		Key:         decision.Key,
		BetType:     bet.BetType,
		Stake:       bet.Stake,
		Odds:        bet.Odds,
		Probability: bet.Probability,
		Strategy:    bet.Strategy,
	})
	if err != nil {
		report.Failed++
		if abortErr := o.deps.Gate.Abort(ctx, decision, err); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}

	report.Placed++
	o.logger.WithFields(logrus.Fields{
		"bet_id":    bet.ID,
		"key":       decision.Key.String(),
		"stake":     bet.Stake,
		"odds":      bet.Odds,
		"reference": ack.Reference,
		"dry_run":   ack.DryRun,
	}).Info("Bet placed")
	return nil
}

// GetStatus returns the current orchestrator status
func (o *Orchestrator) GetStatus() OrchestratorStatus {
	o.mu.RLock()
	status := OrchestratorStatus{
		Running:     o.running,
		DryRun:      o.settings.DryRun,
		Cycles:      o.cycles,
		LastCycle:   o.lastCycle,
		LastSummary: o.lastSummary,
		Totals:      o.totals,
	}
	o.mu.RUnlock()

	if timed, ok := o.deps.Executor.(*TimedExecutor); ok {
		m := timed.Metrics()
		status.ExecutorMetrics = &m
	}
	if o.deps.Monitor != nil {
		m := o.deps.Monitor.Metrics()
		status.MonitorMetrics = &m
		status.Dashboard = o.deps.Monitor.Latest()
	}
	return status
}
