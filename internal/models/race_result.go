package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceResult represents the official outcome of a race
type RaceResult struct {
	RaceID    uuid.UUID         `db:"race_id" json:"race_id"`
	Positions map[uuid.UUID]int `db:"positions" json:"positions"`
	Scratched []uuid.UUID       `db:"scratched" json:"scratched"`
	Official  bool              `db:"official" json:"official"`
	SettledAt time.Time         `db:"settled_at" json:"settled_at"`
}

// PositionOf returns the finishing position of a runner
func (r *RaceResult) PositionOf(runnerID uuid.UUID) (int, bool) {
	pos, ok := r.Positions[runnerID]
	return pos, ok && pos > 0
}

// IsScratched reports whether the runner was withdrawn
func (r *RaceResult) IsScratched(runnerID uuid.UUID) bool {
	for _, id := range r.Scratched {
		if id == runnerID {
			return true
		}
	}
	return false
}

// Starters returns the number of runners that took part
func (r *RaceResult) Starters() int {
	n := 0
	for _, pos := range r.Positions {
		if pos > 0 {
			n++
		}
	}
	return n
}
