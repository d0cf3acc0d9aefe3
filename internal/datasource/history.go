package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/models"
)

const historySourceName = "history_file"

// LoadHistory reads a JSON array of historical races (race card plus result),
// sorted by start time then race id.
func LoadHistory(path string) ([]models.HistoricalRace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	var races []models.HistoricalRace
	if err := json.NewDecoder(f).Decode(&races); err != nil {
		return nil, fmt.Errorf("failed to decode history file %s: %w", path, err)
	}
	for i := range races {
		h := &races[i]
		if h.Race.ID == uuid.Nil {
			return nil, fmt.Errorf("history entry %d has no race id", i)
		}
		if h.Result.RaceID == uuid.Nil {
			h.Result.RaceID = h.Race.ID
		}
		if h.Result.RaceID != h.Race.ID {
			return nil, fmt.Errorf("history entry %d: result for %s attached to race %s", i, h.Result.RaceID, h.Race.ID)
		}
		h.Race.ScheduledStart = h.Race.ScheduledStart.UTC()
		for j := range h.Race.Runners {
			h.Race.Runners[j].RaceID = h.Race.ID
		}
	}
	models.SortHistorical(races)
	return races, nil
}

// HistorySource serves a loaded history as a RaceSource, for dry runs and
// reconciling simulated sessions. Odds are the pre-race prices on the card.
type HistorySource struct {
	races map[uuid.UUID]models.HistoricalRace
	order []uuid.UUID
}

// NewHistorySource indexes races by id
func NewHistorySource(races []models.HistoricalRace) *HistorySource {
	s := &HistorySource{races: make(map[uuid.UUID]models.HistoricalRace, len(races))}
	for _, h := range races {
		if _, seen := s.races[h.Race.ID]; !seen {
			s.order = append(s.order, h.Race.ID)
		}
		s.races[h.Race.ID] = h
	}
	return s
}

func (s *HistorySource) lookup(id uuid.UUID) (models.HistoricalRace, error) {
	h, ok := s.races[id]
	if !ok {
		return models.HistoricalRace{}, fmt.Errorf("race %s: %w", id, models.ErrNotFound)
	}
	return h, nil
}

// Race implements RaceSource
func (s *HistorySource) Race(_ context.Context, id uuid.UUID) (*models.Race, error) {
	h, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	race := h.Race
	race.Runners = append([]models.Runner(nil), h.Race.Runners...)
	return &race, nil
}

// Odds implements RaceSource
func (s *HistorySource) Odds(_ context.Context, raceID uuid.UUID) (*models.OddsSnapshot, error) {
	h, err := s.lookup(raceID)
	if err != nil {
		return nil, &models.DataUnavailableError{Source: historySourceName, Resource: "odds", Err: err}
	}
	snap := &models.OddsSnapshot{RaceID: raceID, Time: h.Race.ScheduledStart, Runner: make(map[uuid.UUID]models.RunnerOdds)}
	for _, rn := range h.Race.Runners {
		if rn.Scratched {
			continue
		}
		snap.Runner[rn.ID] = models.RunnerOdds{Win: rn.Odds, Place: rn.PlaceOdds}
	}
	return snap, nil
}

// Result implements RaceSource
func (s *HistorySource) Result(_ context.Context, raceID uuid.UUID) (*models.RaceResult, error) {
	h, err := s.lookup(raceID)
	if err != nil {
		return nil, err
	}
	result := h.Result
	return &result, nil
}

// RacesOn implements RaceSource, matching on the UTC calendar date
func (s *HistorySource) RacesOn(_ context.Context, day time.Time) ([]*models.Race, error) {
	want := day.UTC().Format("2006-01-02")
	var out []*models.Race
	for _, id := range s.order {
		h := s.races[id]
		if h.Race.ScheduledStart.UTC().Format("2006-01-02") == want {
			race := h.Race
			out = append(out, &race)
		}
	}
	return out, nil
}
