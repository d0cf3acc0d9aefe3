package strategy

import (
	"math"
)

// BaseStrategy provides the EV rule shared by all strategies
type BaseStrategy struct {
	EVThreshold float64
	MinOdds     float64
	MaxOdds     float64
}

// ValidateOdds returns a rejection reason, or "" when odds are acceptable
func (b *BaseStrategy) ValidateOdds(odds float64) string {
	if math.IsNaN(odds) || odds <= 1.0 {
		return ReasonInvalidOdds
	}
	if b.MinOdds > 0 && odds < b.MinOdds {
		return ReasonOddsOutOfRange
	}
	if b.MaxOdds > 0 && odds > b.MaxOdds {
		return ReasonOddsOutOfRange
	}
	return ""
}

// ExpectedValue is the expected return per unit staked, p*odds - 1
func ExpectedValue(probability, odds float64) float64 {
	return probability*odds - 1
}

// NormalizeProbability clamps p to [0,1], mapping non-finite values to 0
func NormalizeProbability(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (b *BaseStrategy) evaluate(name string, c Candidate) Evaluation {
	ev := Evaluation{Strategy: name}
	if math.IsNaN(c.Probability) || c.Probability <= 0 || c.Probability > 1 {
		ev.Reason = ReasonInvalidProbability
		return ev
	}
	if reason := b.ValidateOdds(c.Odds); reason != "" {
		ev.Reason = reason
		return ev
	}

	ev.Ratio = c.Probability * c.Odds
	ev.EV = ExpectedValue(c.Probability, c.Odds)
	if ev.Ratio <= b.EVThreshold {
		ev.Reason = ReasonBelowThreshold
		return ev
	}
	ev.Accepted = true
	return ev
}

func (b *BaseStrategy) parameters() map[string]interface{} {
	return map[string]interface{}{
		"ev_threshold": b.EVThreshold,
		"min_odds":     b.MinOdds,
		"max_odds":     b.MaxOdds,
	}
}
