// Package scoring turns approved factor rules into calibrated per-runner
// probabilities and expected values.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/factor"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/repository"
	"github.com/yourusername/furlong/internal/strategy"
)

// FailureCompile marks a stored rule whose expression no longer compiles
const FailureCompile = "compile"

// ModelSource resolves the active calibration model
type ModelSource interface {
	Active(ctx context.Context) (*models.CalibrationModel, calibration.Calibrator, error)
}

// RawScore is a runner's composite score before calibration
type RawScore struct {
	RunnerID      uuid.UUID
	Raw           float64
	Contributions map[string]float64
	Failures      map[string]string
}

// Option configures an Engine
type Option func(*Engine)

// WithScoreRepository persists every score produced by ScoreRace
func WithScoreRepository(repo repository.ScoreRepository) Option {
	return func(e *Engine) { e.scores = repo }
}

// WithClock overrides the time stamped on scores
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithProgramTTL sets how long compiled rules stay cached
func WithProgramTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.programs = gocache.New(ttl, 2*ttl) }
}

// WithoutMetrics disables Prometheus updates, for simulations
func WithoutMetrics() Option {
	return func(e *Engine) { e.metrics = false }
}

// Engine evaluates factor rules per runner
type Engine struct {
	models   ModelSource
	scores   repository.ScoreRepository
	programs *gocache.Cache
	clock    func() time.Time
	metrics  bool
	log      *logrus.Entry
}

// NewEngine creates a scoring engine
func NewEngine(source ModelSource, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		models:   source,
		programs: gocache.New(30*time.Minute, time.Hour),
		clock:    func() time.Time { return time.Now().UTC() },
		metrics:  true,
		log:      log.WithField("component", "scoring"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type compiledRule struct {
	rule    models.FactorRule
	program *factor.Program
	err     error
}

// program returns the compiled rule, keyed by id and last update so an
// edited draft is never served stale.
func (e *Engine) program(rule models.FactorRule) compiledRule {
	key := fmt.Sprintf("%s:%d", rule.ID, rule.UpdatedAt.UnixNano())
	if cached, ok := e.programs.Get(key); ok {
		return compiledRule{rule: rule, program: cached.(*factor.Program)}
	}
	p, err := factor.Compile(rule.Expression)
	if err != nil {
		return compiledRule{rule: rule, err: err}
	}
	e.programs.Set(key, p, gocache.DefaultExpiration)
	return compiledRule{rule: rule, program: p}
}

// RawScores evaluates rules for every active runner without calibrating.
// Runners are scored concurrently; results keep the race's runner order.
func (e *Engine) RawScores(ctx context.Context, race *models.Race, rules []models.FactorRule) ([]RawScore, error) {
	compiled := make([]compiledRule, len(rules))
	for i, rule := range rules {
		compiled[i] = e.program(rule)
	}

	runners := race.ActiveRunners()
	out := make([]RawScore, len(runners))

	g, gctx := errgroup.WithContext(ctx)
	for i := range runners {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = scoreRunner(race, runners[i], compiled)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if e.metrics {
		for _, rs := range out {
			metrics.RecordRunnerScored()
			for name := range rs.Failures {
				metrics.RecordFactorFailure(name)
			}
		}
	}
	return out, nil
}

// scoreRunner builds Σ wᵢ·vᵢ / Σ|wᵢ|. A failed rule contributes 0 and keeps
// its weight in the denominator.
func scoreRunner(race *models.Race, runner models.Runner, rules []compiledRule) RawScore {
	rs := RawScore{
		RunnerID:      runner.ID,
		Contributions: make(map[string]float64, len(rules)),
	}
	env := factor.BuildContext(race, runner)

	var num, den float64
	for _, c := range rules {
		w := c.rule.Weight
		den += abs(w)

		if c.err != nil {
			rs.fail(c.rule.Name, FailureCompile+": "+c.err.Error())
			continue
		}
		v, err := c.program.Eval(env)
		if err != nil {
			rs.fail(c.rule.Name, err.Error())
			continue
		}
		rs.Contributions[c.rule.Name] = w * v
		num += w * v
	}
	if den > 0 {
		rs.Raw = num / den
	}
	return rs
}

func (rs *RawScore) fail(name, why string) {
	if rs.Failures == nil {
		rs.Failures = make(map[string]string)
	}
	rs.Failures[name] = why
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// ScoreRace scores a race with the active calibration model and persists the
// records. It fails with models.ErrNoActiveModel before any model is active.
func (e *Engine) ScoreRace(ctx context.Context, race *models.Race, rules []models.FactorRule) ([]*models.RunnerScore, error) {
	model, cal, err := e.models.Active(ctx)
	if err != nil {
		return nil, err
	}
	scores, err := e.ScoreWith(ctx, race, rules, model, cal)
	if err != nil {
		return nil, err
	}
	if e.scores != nil {
		if err := e.scores.InsertBatch(ctx, scores); err != nil {
			return nil, fmt.Errorf("failed to persist scores for race %s: %w", race.ID, err)
		}
	}
	return scores, nil
}

// ScoreWith scores a race against an explicit calibration snapshot. Nothing is persisted.
func (e *Engine) ScoreWith(ctx context.Context, race *models.Race, rules []models.FactorRule, model *models.CalibrationModel, cal calibration.Calibrator) ([]*models.RunnerScore, error) {
	start := time.Now()
	raw, err := e.RawScores(ctx, race, rules)
	if err != nil {
		return nil, err
	}

	at := e.clock()
	scores := make([]*models.RunnerScore, 0, len(raw))
	failures := 0
	for _, rs := range raw {
		runner, _ := race.Runner(rs.RunnerID)
		p := strategy.NormalizeProbability(calibration.PredictRace(cal, rs.Raw, race))
		s := &models.RunnerScore{
			ID:            uuid.New(),
			RaceID:        race.ID,
			RunnerID:      rs.RunnerID,
			RawScore:      rs.Raw,
			Probability:   p,
			Odds:          runner.Odds,
			Contributions: rs.Contributions,
			Failures:      rs.Failures,
			ScoredAt:      at,
		}
		if runner.Odds > 0 {
			s.EV = strategy.ExpectedValue(p, runner.Odds)
		}
		if model != nil {
			s.ModelID, s.ModelVersion = model.ID, model.Version
		}
		failures += len(rs.Failures)
		scores = append(scores, s)
	}

	if e.metrics {
		metrics.RecordScoringDuration(time.Since(start).Seconds())
	}
	e.log.WithFields(logrus.Fields{
		"race_id":  race.ID,
		"runners":  len(scores),
		"rules":    len(rules),
		"failures": failures,
	}).Debug("Race scored")
	return scores, nil
}
