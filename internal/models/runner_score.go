package models

import (
	"time"

	"github.com/google/uuid"
)

// RunnerScore is an immutable scoring record for one runner at one moment
type RunnerScore struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	RaceID        uuid.UUID          `db:"race_id" json:"race_id"`
	RunnerID      uuid.UUID          `db:"runner_id" json:"runner_id"`
	RawScore      float64            `db:"raw_score" json:"raw_score"`
	Probability   float64            `db:"probability" json:"probability"`
	Odds          float64            `db:"odds" json:"odds"`
	EV            float64            `db:"ev" json:"ev"`
	ModelID       uuid.UUID          `db:"model_id" json:"model_id"`
	ModelVersion  int                `db:"model_version" json:"model_version"`
	Contributions map[string]float64 `db:"contributions" json:"contributions,omitempty"`
	Failures      map[string]string  `db:"failures" json:"failures,omitempty"`
	ScoredAt      time.Time          `db:"scored_at" json:"scored_at"`
}
