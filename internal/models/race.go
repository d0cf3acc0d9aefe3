package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Surface represents the racing surface
type Surface string

const (
	SurfaceTurf       Surface = "TURF"
	SurfaceDirt       Surface = "DIRT"
	SurfaceAllWeather Surface = "AW"
)

// Race represents a race card as known before the off
type Race struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Track          string    `db:"track" json:"track"`
	RaceNumber     int       `db:"race_number" json:"race_number"`
	ScheduledStart time.Time `db:"scheduled_start" json:"scheduled_start"`
	Distance       int       `db:"distance" json:"distance"`
	Surface        Surface   `db:"surface" json:"surface"`
	Going          string    `db:"going" json:"going"`
	Runners        []Runner  `db:"-" json:"runners"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ActiveRunners returns the runners that have not been scratched, ordered by number
func (r *Race) ActiveRunners() []Runner {
	active := make([]Runner, 0, len(r.Runners))
	for _, rn := range r.Runners {
		if !rn.Scratched {
			active = append(active, rn)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Number < active[j].Number })
	return active
}

// FieldSize returns the number of declared runners still in the race
func (r *Race) FieldSize() int {
	n := 0
	for _, rn := range r.Runners {
		if !rn.Scratched {
			n++
		}
	}
	return n
}

// Runner finds a runner by id
func (r *Race) Runner(id uuid.UUID) (Runner, bool) {
	for _, rn := range r.Runners {
		if rn.ID == id {
			return rn, true
		}
	}
	return Runner{}, false
}

// HistoricalRace pairs a pre-race snapshot with its official result
type HistoricalRace struct {
	Race   Race       `json:"race"`
	Result RaceResult `json:"result"`
}

// SortHistorical orders races by start time, then id
func SortHistorical(races []HistoricalRace) {
	sort.SliceStable(races, func(i, j int) bool {
		a, b := races[i].Race, races[j].Race
		if !a.ScheduledStart.Equal(b.ScheduledStart) {
			return a.ScheduledStart.Before(b.ScheduledStart)
		}
		return a.ID.String() < b.ID.String()
	})
}

// PlacesPaid returns how many finishing positions a PLACE bet pays on for a
// field of n starters. Fields under five runners offer WIN only.
func PlacesPaid(n int) int {
	switch {
	case n >= 8:
		return 3
	case n >= 5:
		return 2
	default:
		return 0
	}
}
