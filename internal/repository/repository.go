package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourusername/furlong/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Factor      FactorRepository
	Score       ScoreRepository
	Calibration CalibrationRepository
	Bet         BetRepository
	Bankroll    BankrollRepository
	Race        RaceRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db database.Store) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Factor:      NewFactorRepository(db),
		Score:       NewScoreRepository(db),
		Calibration: NewCalibrationRepository(db),
		Bet:         NewBetRepository(db),
		Bankroll:    NewBankrollRepository(db),
		Race:        NewRaceRepository(db),
	}, nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// encodeJSON renders v for a JSON/TEXT column
func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
