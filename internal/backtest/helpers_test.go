package backtest

import (
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/strategy"
)

var (
	base      = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	fieldOdds = []float64{2, 4, 6, 8, 10, 15, 20, 30}
	// the favourite wins more often than its price of 2.0 implies
	trueWin = []float64{0.60, 0.15, 0.08, 0.06, 0.04, 0.03, 0.02, 0.02}
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() Config {
	return Config{
		StartDate: base,
		EndDate:   base.AddDate(0, 6, 0),
		Bankroll: config.BankrollConfig{
			InitialBalance:   1000,
			KellyMultiplier:  0.25,
			MaxBetFraction:   0.05,
			MaxDailyFraction: 0.5,
			DrawdownSoft:     0.3,
			DrawdownHard:     0.6,
			ThrottleScale:    0.5,
			StakeUnit:        0.01,
			Timezone:         "UTC",
		},
		Strategy:             strategy.NewValueStrategy(1.05, 0, 0),
		BetTypes:             []models.BetType{models.BetTypeWin},
		Calibration:          calibration.Options{MinSamples: 40, MaxIterations: 100, Bins: 10},
		CalibrationMethod:    models.CalibrationIsotonic,
		MonteCarloIterations: 200,
		MonteCarloSeed:       7,
	}
}

func marketRule() models.FactorRule {
	return models.FactorRule{
		ID:         uuid.MustParse("0b8f2d54-1f0e-4a55-9d7e-0f0c1d2e3f40"),
		Name:       "market_rank_inverse",
		Expression: "1 / market_rank",
		Category:   "market",
		Weight:     1,
		Status:     models.FactorStatusApproved,
		UpdatedAt:  base,
	}
}

// snapshot maps the favourite's raw score of 1 to about 0.62 and leaves every
// other runner well short of value
func snapshot(trainedTo time.Time) *models.CalibrationModel {
	return &models.CalibrationModel{
		ID:        uuid.MustParse("a3c7e1f0-5b2d-4c8e-9f1a-2b3c4d5e6f70"),
		Version:   3,
		Method:    models.CalibrationPlatt,
		Params:    models.CalibrationParams{A: 8, B: -7.5},
		TrainedTo: trainedTo,
	}
}

func newTestEngine(t *testing.T, cfg Config, rules RuleSource) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, rules, quietLogger())
	require.NoError(t, err)
	return e
}

// race builds an eight-runner race whose runner at index winner finishes first
func race(name string, start time.Time, winner int) models.HistoricalRace {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	r := models.Race{ID: id, Track: "Ascot", ScheduledStart: start, Distance: 1600, Surface: models.SurfaceTurf}
	res := models.RaceResult{RaceID: id, Positions: map[uuid.UUID]int{}, Official: true, SettledAt: start.Add(10 * time.Minute)}

	pos := 2
	for i, o := range fieldOdds {
		rid := uuid.NewSHA1(id, []byte(fmt.Sprintf("runner-%d", i)))
		r.Runners = append(r.Runners, models.Runner{
			ID: rid, RaceID: id, Number: i + 1, MarketRank: i + 1, Popularity: i + 1,
			Odds: o, PlaceOdds: 1 + (o-1)/4,
		})
		if i == winner {
			res.Positions[rid] = 1
		} else {
			res.Positions[rid] = pos
			pos++
		}
	}
	return models.HistoricalRace{Race: r, Result: res}
}

// history draws winners from trueWin with a fixed seed
func history(days, perDay int, seed int64) []models.HistoricalRace {
	rng := rand.New(rand.NewSource(seed))
	var out []models.HistoricalRace
	for d := 0; d < days; d++ {
		for k := 0; k < perDay; k++ {
			u := rng.Float64()
			winner := len(trueWin) - 1
			for i, p := range trueWin {
				if u < p {
					winner = i
					break
				}
				u -= p
			}
			start := base.AddDate(0, 0, d).Add(time.Duration(k) * time.Hour)
			out = append(out, race(fmt.Sprintf("race-%d-%d", d, k), start, winner))
		}
	}
	return out
}
