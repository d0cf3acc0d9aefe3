package strategy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
)

func candidate(p, odds float64) Candidate {
	race := &models.Race{ID: uuid.New(), ScheduledStart: time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)}
	return Candidate{Race: race, Runner: models.Runner{ID: uuid.New()}, BetType: models.BetTypeWin, Probability: p, Odds: odds}
}

func TestValueStrategyScenario(t *testing.T) {
	s := NewValueStrategy(1.05, 0, 0)
	ev := s.Evaluate(candidate(0.30, 4.0))

	assert.True(t, ev.Accepted)
	assert.InDelta(t, 0.2, ev.EV, 1e-12)
	assert.InDelta(t, 1.2, ev.Ratio, 1e-12)
	assert.Equal(t, NameValue, ev.Strategy)
	assert.Zero(t, ev.FixedStake)
}

func TestValueStrategyRejections(t *testing.T) {
	s := NewValueStrategy(1.05, 1.5, 20)

	tests := []struct {
		name   string
		p      float64
		odds   float64
		reason string
	}{
		{"ratio at threshold", 0.35, 3.0, ReasonBelowThreshold},
		{"negative ev", 0.1, 5.0, ReasonBelowThreshold},
		{"odds below min", 0.9, 1.4, ReasonOddsOutOfRange},
		{"odds above max", 0.2, 30, ReasonOddsOutOfRange},
		{"odds not above evens", 0.9, 1.0, ReasonInvalidOdds},
		{"zero probability", 0, 4, ReasonInvalidProbability},
		{"probability above one", 1.2, 4, ReasonInvalidProbability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := s.Evaluate(candidate(tt.p, tt.odds))
			assert.False(t, ev.Accepted)
			assert.Equal(t, tt.reason, ev.Reason)
		})
	}
}

func TestFixedStakeStrategy(t *testing.T) {
	s := NewFixedStakeStrategy(1.05, 0, 0, 10)

	ev := s.Evaluate(candidate(0.3, 4))
	assert.True(t, ev.Accepted)
	assert.Equal(t, 10.0, ev.FixedStake)

	ev = s.Evaluate(candidate(0.2, 4))
	assert.False(t, ev.Accepted)
	assert.Zero(t, ev.FixedStake)

	assert.Equal(t, 10.0, s.Describe().Parameters["stake"])
}

func TestFactory(t *testing.T) {
	s, err := New(config.StrategyConfig{Name: "value", EVThreshold: 1.1})
	require.NoError(t, err)
	assert.Equal(t, NameValue, s.Name())

	s, err = New(config.StrategyConfig{Name: "fixed_stake", EVThreshold: 1.1, FixedStake: 5})
	require.NoError(t, err)
	assert.Equal(t, NameFixedStake, s.Name())

	_, err = New(config.StrategyConfig{Name: "fixed_stake", EVThreshold: 1.1})
	assert.Error(t, err)
	_, err = New(config.StrategyConfig{Name: "martingale"})
	assert.Error(t, err)
}

func TestParseBetTypes(t *testing.T) {
	types, err := ParseBetTypes([]string{"win", "PLACE"})
	require.NoError(t, err)
	assert.Equal(t, []models.BetType{models.BetTypeWin, models.BetTypePlace}, types)

	_, err = ParseBetTypes([]string{"EXACTA"})
	assert.Error(t, err)
}

func TestPlaceProbability(t *testing.T) {
	p := []float64{0.5, 0.3, 0.2}
	assert.InDelta(t, 0.2, PlaceProbability(p, 2, 1), 1e-12)
	assert.InDelta(t, 0.2+0.5*0.2/0.5+0.3*0.2/0.7, PlaceProbability(p, 2, 2), 1e-12)
	assert.InDelta(t, 1.0, PlaceProbability(p, 2, 3), 1e-12)

	field := []float64{0.3, 0.2, 0.15, 0.1, 0.1, 0.08, 0.04, 0.03}
	var sum float64
	for i := range field {
		pi := PlaceProbability(field, i, 3)
		assert.GreaterOrEqual(t, pi, field[i])
		sum += pi
	}
	assert.InDelta(t, 3.0, sum, 1e-9)
}

func TestBuildCandidates(t *testing.T) {
	race := &models.Race{ID: uuid.New(), ScheduledStart: time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)}
	var scores []*models.RunnerScore
	for i := 1; i <= 6; i++ {
		rn := models.Runner{ID: uuid.New(), Number: i, Odds: float64(i + 1), PlaceOdds: 1.5}
		race.Runners = append(race.Runners, rn)
		scores = append(scores, &models.RunnerScore{RunnerID: rn.ID, Probability: 1.0 / 6})
	}
	race.Runners[5].Scratched = true

	cands := BuildCandidates(race, scores, []models.BetType{models.BetTypeWin, models.BetTypePlace})
	require.Len(t, cands, 10, "five runners, two bet types, scratched runner skipped")
	assert.Equal(t, models.BetTypeWin, cands[0].BetType)
	assert.Equal(t, 2.0, cands[0].Odds)
	assert.Equal(t, models.BetTypePlace, cands[1].BetType)
	assert.Equal(t, 1.5, cands[1].Odds)
	assert.InDelta(t, 0.4, cands[1].Probability, 1e-9, "two places from five equal runners")

	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", cands[0].Key(london).TradingDay)

	race.Runners[4].Scratched = true
	cands = BuildCandidates(race, scores, []models.BetType{models.BetTypeWin, models.BetTypePlace})
	for _, c := range cands {
		assert.Equal(t, models.BetTypeWin, c.BetType, "four runners offer win only")
	}
}

func TestAcceptedKeepsEveryQualifier(t *testing.T) {
	s := NewValueStrategy(1.05, 0, 0)
	decisions := EvaluateAll(s, []Candidate{candidate(0.3, 4), candidate(0.1, 5), candidate(0.5, 3)})
	accepted := Accepted(decisions)
	require.Len(t, accepted, 2)
	assert.InDelta(t, 0.5, accepted[0].Evaluation.EV, 1e-12)
	assert.InDelta(t, 0.2, accepted[1].Evaluation.EV, 1e-12)
}
