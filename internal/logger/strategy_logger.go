package logger

import (
	"github.com/sirupsen/logrus"
)

// StrategyLogger provides dedicated logging for scoring and strategy decisions.
type StrategyLogger struct {
	*logrus.Entry
}

// NewStrategyLogger creates a new strategy logger.
func NewStrategyLogger(baseLogger *logrus.Logger) *StrategyLogger {
	return &StrategyLogger{
		Entry: baseLogger.WithField("component", "strategy"),
	}
}

// LogRaceEvaluation logs a completed scoring pass over a race.
func (sl *StrategyLogger) LogRaceEvaluation(strategyName, raceID string, runnersScored, candidates, factorFailures int, durationMs float64) {
	sl.WithFields(logrus.Fields{
		"strategy_name":          strategyName,
		"race_id":                raceID,
		"runners_scored":         runnersScored,
		"candidates":             candidates,
		"factor_failures":        factorFailures,
		"evaluation_duration_ms": durationMs,
	}).Info("Race evaluation completed")
}

// LogCandidate logs an EV decision on a single runner.
func (sl *StrategyLogger) LogCandidate(strategyName, raceID, runnerID string, probability, odds, ev float64, accepted bool, reason string) {
	sl.WithFields(logrus.Fields{
		"strategy_name": strategyName,
		"race_id":       raceID,
		"runner_id":     runnerID,
		"probability":   probability,
		"odds":          odds,
		"ev":            ev,
		"accepted":      accepted,
		"reason":        reason,
	}).Debug("Candidate evaluated")
}

// LogStakeSizing logs the sizing of an accepted candidate.
func (sl *StrategyLogger) LogStakeSizing(raceID, runnerID string, kellyFraction, appliedFraction, stake, drawdown float64, limitedBy string) {
	sl.WithFields(logrus.Fields{
		"race_id":          raceID,
		"runner_id":        runnerID,
		"kelly_fraction":   kellyFraction,
		"applied_fraction": appliedFraction,
		"stake":            stake,
		"drawdown":         drawdown,
		"limited_by":       limitedBy,
	}).Info("Stake sized")
}

// LogDrawdown logs drawdown threshold events.
func (sl *StrategyLogger) LogDrawdown(level string, drawdown, peak, balance float64) {
	sl.WithFields(logrus.Fields{
		"level":    level,
		"drawdown": drawdown,
		"peak":     peak,
		"balance":  balance,
	}).Warn("Drawdown threshold exceeded")
}
