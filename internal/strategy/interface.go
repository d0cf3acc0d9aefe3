package strategy

import (
	"time"

	"github.com/yourusername/furlong/internal/models"
)

// Strategy decides whether a scored runner is worth backing. It never sizes
// the bet; that belongs to the bankroll manager.
type Strategy interface {
	Name() string
	Evaluate(c Candidate) Evaluation
	Describe() Description
}

// Candidate is one runner and bet type with its calibrated probability
type Candidate struct {
	Race        *models.Race
	Runner      models.Runner
	BetType     models.BetType
	Probability float64
	Odds        float64
	Score       *models.RunnerScore
}

// Key returns the idempotency key of a bet on this candidate
func (c Candidate) Key(loc *time.Location) models.BetKey {
	return models.BetKey{
		RaceID:     c.Race.ID,
		RunnerID:   c.Runner.ID,
		BetType:    c.BetType,
		TradingDay: models.TradingDay(c.Race.ScheduledStart, loc),
	}
}

// Evaluation is the strategy's verdict on a candidate
type Evaluation struct {
	Strategy   string  `json:"strategy"`
	EV         float64 `json:"ev"`
	Ratio      float64 `json:"ratio"`
	Accepted   bool    `json:"accepted"`
	Reason     string  `json:"reason,omitempty"`
	FixedStake float64 `json:"fixed_stake,omitempty"`
}

// Description identifies a strategy and its parameters for reports
type Description struct {
	Name       string                 `json:"name"`
	Version    string                 `json:"version"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Rejection reasons
const (
	ReasonInvalidProbability = "invalid_probability"
	ReasonInvalidOdds        = "invalid_odds"
	ReasonOddsOutOfRange     = "odds_out_of_range"
	ReasonBelowThreshold     = "ev_below_threshold"
)
