// Package backtest replays historical races through the live scoring, strategy
// and bankroll code in logical time, and evaluates the outcome.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/bankroll"
	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/factor"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/scoring"
	"github.com/yourusername/furlong/internal/strategy"
)

// betNamespace seeds the deterministic bet ids of a replay
var betNamespace = uuid.MustParse("6f1c5d2e-8a43-4b7e-9c1f-3d2a7e5b9c40")

// BetID derives a stable bet id from the idempotency key
func BetID(key models.BetKey) uuid.UUID {
	return uuid.NewSHA1(betNamespace, []byte(key.String()))
}

// LeakageError is returned when a calibration model was trained on data that
// overlaps the race being replayed
type LeakageError struct {
	ModelVersion int
	TrainedTo    time.Time
	RaceID       uuid.UUID
	RaceStart    time.Time
}

func (e *LeakageError) Error() string {
	return fmt.Sprintf("calibration model v%d trained to %s, not before race %s at %s",
		e.ModelVersion, e.TrainedTo.Format(time.RFC3339), e.RaceID, e.RaceStart.Format(time.RFC3339))
}

// RuleSource supplies the factor rules in force at a point in time
type RuleSource interface {
	Rules(ctx context.Context, asOf time.Time) ([]models.FactorRule, error)
}

// ApprovedRules replays with the rules that were approved in the registry at
// each race's start, carrying the weights they had then. The change log is
// loaded on first use.
type ApprovedRules struct {
	Registry *factor.Registry

	mu       sync.Mutex
	timeline *factor.Timeline
}

// Rules implements RuleSource
func (a *ApprovedRules) Rules(ctx context.Context, asOf time.Time) ([]models.FactorRule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timeline == nil {
		t, err := a.Registry.Timeline(ctx)
		if err != nil {
			return nil, err
		}
		a.timeline = t
	}
	return a.timeline.ActiveAsOf(asOf), nil
}

// FixedRules replays with an explicitly selected rule set of any status
type FixedRules []models.FactorRule

// Rules implements RuleSource
func (f FixedRules) Rules(_ context.Context, asOf time.Time) ([]models.FactorRule, error) {
	return trainedBefore(f, asOf), nil
}

func trainedBefore(rules []models.FactorRule, asOf time.Time) []models.FactorRule {
	out := make([]models.FactorRule, 0, len(rules))
	for i := range rules {
		if rules[i].TrainedBefore(asOf) {
			out = append(out, rules[i])
		}
	}
	return out
}

// Result is the outcome of one replay
type Result struct {
	Bets       []*models.Bet `json:"bets"`
	Equity     EquityCurve   `json:"equity"`
	KPIs       KPIs          `json:"kpis"`
	Races      int           `json:"races"`
	Unscored   int           `json:"unscored"`
	HaltedAt   *time.Time    `json:"halted_at,omitempty"`
	HaltReason string        `json:"halt_reason,omitempty"`
}

// Engine orchestrates backtesting runs
type Engine struct {
	config Config
	rules  RuleSource
	scorer *scoring.Engine
	logger *logrus.Logger
	entry  *logrus.Entry
}

// NewEngine creates a new backtesting engine
func NewEngine(cfg Config, rules RuleSource, logger *logrus.Logger) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		config: cfg,
		rules:  rules,
		scorer: scoring.NewEngine(nil, logger, scoring.WithoutMetrics()),
		logger: logger,
		entry:  logger.WithField("component", "backtest"),
	}, nil
}

// Config returns the backtest configuration
func (e *Engine) Config() Config {
	return e.config
}

// Run replays races against a calibration snapshot. Races are processed in
// start order; a snapshot trained on or after a race's start is rejected
// with a *LeakageError before anything is simulated for that race.
func (e *Engine) Run(ctx context.Context, races []models.HistoricalRace, snapshot *models.CalibrationModel) (*Result, error) {
	start := time.Now()
	if snapshot == nil {
		return nil, models.ErrNoActiveModel
	}
	cal, err := calibration.FromModel(snapshot)
	if err != nil {
		return nil, err
	}

	e.entry.WithFields(logrus.Fields{
		"races":         len(races),
		"model_version": snapshot.Version,
		"strategy":      e.config.Strategy.Name(),
	}).Info("Starting backtest run")

	res, err := e.replay(ctx, races, snapshot, cal, true)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordBacktestRun("replay", status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.RecordBacktestROI("replay", res.KPIs.ROI)
	return res, nil
}

// replay simulates the races. checkLeakage is off only for in-sample
// evaluation of a model on its own training window.
func (e *Engine) replay(ctx context.Context, races []models.HistoricalRace, model *models.CalibrationModel, cal calibration.Calibrator, checkLeakage bool) (*Result, error) {
	ordered := append([]models.HistoricalRace(nil), races...)
	models.SortHistorical(ordered)

	var first time.Time
	if len(ordered) > 0 {
		first = ordered[0].Race.ScheduledStart
	}
	state := newReplayState(e.config.Bankroll, first, e.logger)

	for i := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hr := &ordered[i]
		race := hr.Race
		if checkLeakage && model != nil && !model.TrainedTo.Before(race.ScheduledStart) {
			return nil, &LeakageError{
				ModelVersion: model.Version,
				TrainedTo:    model.TrainedTo,
				RaceID:       race.ID,
				RaceStart:    race.ScheduledStart,
			}
		}
		if err := e.replayRace(ctx, state, &race, &hr.Result, model, cal); err != nil {
			return nil, fmt.Errorf("failed to replay race %s: %w", race.ID, err)
		}
	}

	return state.result(ctx, e.config.RiskFreeRate)
}

func (e *Engine) replayRace(ctx context.Context, state *replayState, race *models.Race, result *models.RaceResult, model *models.CalibrationModel, cal calibration.Calibrator) error {
	state.advance(race.ScheduledStart)
	state.races++

	rules, err := e.rules.Rules(ctx, race.ScheduledStart)
	if err != nil {
		return err
	}
	rules = trainedBefore(rules, race.ScheduledStart)
	if len(rules) == 0 {
		state.unscored++
		return nil
	}

	scores, err := e.scorer.ScoreWith(ctx, race, rules, model, cal)
	if err != nil {
		return err
	}

	halted, err := state.halted(ctx)
	if err != nil {
		return err
	}
	var pending []*models.Bet
	if !halted {
		candidates := strategy.BuildCandidates(race, scores, e.config.BetTypes)
		for _, d := range strategy.Accepted(strategy.EvaluateAll(e.config.Strategy, candidates)) {
			bet, err := state.place(ctx, d)
			if err != nil {
				return err
			}
			if bet != nil {
				pending = append(pending, bet)
			}
		}
	}

	settledAt := result.SettledAt
	if settledAt.IsZero() || settledAt.Before(race.ScheduledStart) {
		settledAt = race.ScheduledStart
	}
	state.advance(settledAt)
	for _, bet := range pending {
		if err := state.settle(ctx, bet, result); err != nil {
			return err
		}
	}
	return nil
}

// CalibrationSamples builds (raw score, won) pairs for every runner of the
// races, scoring each race with the rules in force at its start.
func (e *Engine) CalibrationSamples(ctx context.Context, races []models.HistoricalRace) ([]calibration.Sample, error) {
	ordered := append([]models.HistoricalRace(nil), races...)
	models.SortHistorical(ordered)

	var samples []calibration.Sample
	for i := range ordered {
		hr := &ordered[i]
		rules, err := e.rules.Rules(ctx, hr.Race.ScheduledStart)
		if err != nil {
			return nil, err
		}
		rules = trainedBefore(rules, hr.Race.ScheduledStart)
		if len(rules) == 0 {
			continue
		}
		raw, err := e.scorer.RawScores(ctx, &hr.Race, rules)
		if err != nil {
			return nil, err
		}
		for _, rs := range raw {
			if hr.Result.IsScratched(rs.RunnerID) {
				continue
			}
			pos, ok := hr.Result.PositionOf(rs.RunnerID)
			samples = append(samples, calibration.Sample{
				Score:   rs.Raw,
				Outcome: ok && pos == 1,
				At:      hr.Race.ScheduledStart,
				Stratum: calibration.RaceStratum(&hr.Race),
			})
		}
	}
	return samples, nil
}

// FitModel fits an unsaved calibration model on the races. TrainedTo is the
// start of the latest race used.
func (e *Engine) FitModel(ctx context.Context, races []models.HistoricalRace) (*models.CalibrationModel, calibration.Calibrator, error) {
	samples, err := e.CalibrationSamples(ctx, races)
	if err != nil {
		return nil, nil, err
	}
	fit, err := calibration.FitSamples(e.config.CalibrationMethod, samples, e.config.Calibration)
	if err != nil {
		return nil, nil, err
	}
	from, to := samples[0].At, samples[0].At
	for _, s := range samples {
		if s.At.Before(from) {
			from = s.At
		}
		if s.At.After(to) {
			to = s.At
		}
	}
	model := &models.CalibrationModel{
		Method:      fit.Calibrator.Method(),
		Params:      fit.Calibrator.Params(),
		TrainedFrom: from,
		TrainedTo:   to,
		SampleSize:  fit.N,
		BrierScore:  fit.Brier,
		ECE:         fit.ECE,
	}
	return model, fit.Calibrator, nil
}

// isLimit reports whether a reservation failed only because the caps were hit
func isLimit(err error) bool {
	return errors.Is(err, bankroll.ErrLimitExceeded)
}
