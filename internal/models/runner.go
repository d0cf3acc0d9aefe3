package models

import (
	"time"

	"github.com/google/uuid"
)

// Runner represents a horse declared for a race. All fields are known before the off.
type Runner struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	RaceID        uuid.UUID    `db:"race_id" json:"race_id"`
	Name          string       `db:"name" json:"name"`
	Number        int          `db:"number" json:"number"`
	Draw          int          `db:"draw" json:"draw"`
	Age           int          `db:"age" json:"age"`
	Sex           string       `db:"sex" json:"sex"`
	BodyWeight    float64      `db:"body_weight" json:"body_weight"`
	WeightChange  float64      `db:"weight_change" json:"weight_change"`
	CarriedWeight float64      `db:"carried_weight" json:"carried_weight"`
	Popularity    int          `db:"popularity" json:"popularity"`
	MarketRank    int          `db:"market_rank" json:"market_rank"`
	RunningStyle  int          `db:"running_style" json:"running_style"`
	Odds          float64      `db:"odds" json:"odds"`
	PlaceOdds     float64      `db:"place_odds" json:"place_odds"`
	Scratched     bool         `db:"scratched" json:"scratched"`
	Previous      *PreviousRun `db:"-" json:"previous,omitempty"`
}

// PreviousRun is the runner's most recent completed race
type PreviousRun struct {
	Date            time.Time `json:"date"`
	Finish          int       `json:"finish"`
	Last3F          float64   `json:"last_3f"`
	RunningStyle    int       `json:"running_style"`
	Corner4Position int       `json:"corner4_position"`
}

// OddsFor returns the decimal odds for the given bet type
func (r *Runner) OddsFor(t BetType) float64 {
	if t == BetTypePlace {
		return r.PlaceOdds
	}
	return r.Odds
}
