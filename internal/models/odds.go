package models

import (
	"time"

	"github.com/google/uuid"
)

// OddsSnapshot is the market for one race at a point in time
type OddsSnapshot struct {
	RaceID uuid.UUID                `json:"race_id"`
	Time   time.Time                `json:"time"`
	Runner map[uuid.UUID]RunnerOdds `json:"runners"`
}

// RunnerOdds holds the decimal prices for one runner
type RunnerOdds struct {
	Win   float64 `json:"win"`
	Place float64 `json:"place,omitempty"`
}

// Price returns the decimal odds for a runner and bet type, or 0 when unquoted
func (o *OddsSnapshot) Price(runnerID uuid.UUID, t BetType) float64 {
	if o == nil {
		return 0
	}
	ro, ok := o.Runner[runnerID]
	if !ok {
		return 0
	}
	if t == BetTypePlace {
		return ro.Place
	}
	return ro.Win
}

// ImpliedProbability returns 1/price, or 0 when unquoted
func (o *OddsSnapshot) ImpliedProbability(runnerID uuid.UUID, t BetType) float64 {
	p := o.Price(runnerID, t)
	if p <= 0 {
		return 0
	}
	return 1 / p
}
