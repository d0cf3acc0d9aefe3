package datasource

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/models"
)

// Flat and jump races run between five furlongs and a little over four miles
const (
	minDistance = 1000
	maxDistance = 7300
)

var validSexes = map[string]bool{"": true, "C": true, "F": true, "G": true, "H": true, "M": true, "R": true}

// ValidateRace checks a race card for the fields scoring and settlement rely
// on. It returns every problem found; an empty slice means the card is usable.
func ValidateRace(race *models.Race) []string {
	var problems []string
	if race.ID == uuid.Nil {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(race.Track) == "" {
		problems = append(problems, "track is required")
	}
	if race.ScheduledStart.IsZero() {
		problems = append(problems, "scheduled_start is required")
	}
	if race.Distance != 0 && (race.Distance < minDistance || race.Distance > maxDistance) {
		problems = append(problems, fmt.Sprintf("distance out of range (%d-%dm), got %d", minDistance, maxDistance, race.Distance))
	}

	numbers := make(map[int]bool, len(race.Runners))
	ids := make(map[uuid.UUID]bool, len(race.Runners))
	for i := range race.Runners {
		rn := &race.Runners[i]
		for _, p := range ValidateRunner(rn) {
			problems = append(problems, fmt.Sprintf("runner %d: %s", rn.Number, p))
		}
		if numbers[rn.Number] {
			problems = append(problems, fmt.Sprintf("runner number %d is duplicated", rn.Number))
		}
		numbers[rn.Number] = true
		if rn.ID != uuid.Nil && ids[rn.ID] {
			problems = append(problems, fmt.Sprintf("runner id %s is duplicated", rn.ID))
		}
		ids[rn.ID] = true
	}
	return problems
}

// ValidateRunner checks one declared runner
func ValidateRunner(rn *models.Runner) []string {
	var problems []string
	if rn.ID == uuid.Nil {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(rn.Name) == "" {
		problems = append(problems, "name is required")
	}
	if rn.Number < 1 {
		problems = append(problems, fmt.Sprintf("number must be positive, got %d", rn.Number))
	}
	if rn.Age < 0 {
		problems = append(problems, "age cannot be negative")
	}
	if !validSexes[strings.ToUpper(rn.Sex)] {
		problems = append(problems, fmt.Sprintf("unknown sex %q", rn.Sex))
	}
	// zero means no price yet
	if rn.Odds != 0 && rn.Odds <= 1 {
		problems = append(problems, fmt.Sprintf("win odds must exceed 1.0, got %.2f", rn.Odds))
	}
	if rn.PlaceOdds != 0 && rn.PlaceOdds <= 1 {
		problems = append(problems, fmt.Sprintf("place odds must exceed 1.0, got %.2f", rn.PlaceOdds))
	}
	return problems
}
