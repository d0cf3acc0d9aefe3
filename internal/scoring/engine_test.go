package scoring

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/models"
)

type staticModels struct {
	model *models.CalibrationModel
	cal   calibration.Calibrator
}

func (s staticModels) Active(context.Context) (*models.CalibrationModel, calibration.Calibrator, error) {
	if s.model == nil {
		return nil, nil, models.ErrNoActiveModel
	}
	return s.model, s.cal, nil
}

type memoryScores struct {
	mu     sync.Mutex
	scores []*models.RunnerScore
}

func (m *memoryScores) Insert(_ context.Context, s *models.RunnerScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, s)
	return nil
}

func (m *memoryScores) InsertBatch(ctx context.Context, scores []*models.RunnerScore) error {
	for _, s := range scores {
		if err := m.Insert(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryScores) GetByRaceID(_ context.Context, raceID uuid.UUID) ([]*models.RunnerScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RunnerScore
	for _, s := range m.scores {
		if s.RaceID == raceID {
			out = append(out, s)
		}
	}
	return out, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

var updated = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rule(name, expression string, weight float64) models.FactorRule {
	return models.FactorRule{
		ID: uuid.New(), Name: name, Expression: expression, Weight: weight,
		Status: models.FactorStatusApproved, UpdatedAt: updated,
	}
}

func testRace() (*models.Race, models.Runner, models.Runner) {
	id := uuid.New()
	plain := models.Runner{ID: uuid.New(), RaceID: id, Number: 1, Odds: 4}
	raced := models.Runner{ID: uuid.New(), RaceID: id, Number: 2, Odds: 2,
		Previous: &models.PreviousRun{Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Finish: 3}}
	scratched := models.Runner{ID: uuid.New(), RaceID: id, Number: 3, Odds: 9, Scratched: true}
	race := &models.Race{
		ID: id, ScheduledStart: time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC), Distance: 1600,
		Runners: []models.Runner{raced, scratched, plain},
	}
	return race, plain, raced
}

func byRunner(scores []RawScore) map[uuid.UUID]RawScore {
	out := make(map[uuid.UUID]RawScore, len(scores))
	for _, s := range scores {
		out[s.RunnerID] = s
	}
	return out
}

func TestRawScoresComposite(t *testing.T) {
	engine := NewEngine(staticModels{}, quietLogger(), WithoutMetrics())
	race, plain, raced := testRace()
	rules := []models.FactorRule{
		rule("market", "implied_prob", 2),
		rule("form", "prev_finish", 1),
	}

	raw, err := engine.RawScores(context.Background(), race, rules)
	require.NoError(t, err)
	require.Len(t, raw, 2, "scratched runners are not scored")
	assert.Equal(t, plain.ID, raw[0].RunnerID)

	got := byRunner(raw)
	// the missing attribute contributes 0 but keeps its weight
	assert.InDelta(t, (2*0.25)/3, got[plain.ID].Raw, 1e-12)
	assert.Contains(t, got[plain.ID].Failures["form"], "missing_attribute")
	assert.InDelta(t, (2*0.5+3)/3.0, got[raced.ID].Raw, 1e-12)
	assert.Empty(t, got[raced.ID].Failures)
	assert.InDelta(t, 3.0, got[raced.ID].Contributions["form"], 1e-12)
}

func TestRawScoresIsolatesFailures(t *testing.T) {
	engine := NewEngine(staticModels{}, quietLogger(), WithoutMetrics())
	race, plain, _ := testRace()
	rules := []models.FactorRule{
		rule("ratio", "1 / (odds - odds)", 1),
		rule("broken", "odds +", 1),
		rule("gate", "number", 1),
	}

	raw, err := engine.RawScores(context.Background(), race, rules)
	require.NoError(t, err)
	got := byRunner(raw)[plain.ID]
	assert.Contains(t, got.Failures["ratio"], "non_finite")
	assert.Contains(t, got.Failures["broken"], FailureCompile)
	assert.InDelta(t, 1.0/3, got.Raw, 1e-12)
	assert.False(t, math.IsNaN(got.Raw))
}

func TestRawScoresWithoutRules(t *testing.T) {
	engine := NewEngine(staticModels{}, quietLogger(), WithoutMetrics())
	race, _, _ := testRace()
	raw, err := engine.RawScores(context.Background(), race, nil)
	require.NoError(t, err)
	for _, rs := range raw {
		assert.Zero(t, rs.Raw)
	}
}

func TestProgramCacheKeyedByUpdate(t *testing.T) {
	engine := NewEngine(staticModels{}, quietLogger(), WithoutMetrics())
	race, _, _ := testRace()
	r := rule("market", "implied_prob", 1)

	_, err := engine.RawScores(context.Background(), race, []models.FactorRule{r})
	require.NoError(t, err)
	_, err = engine.RawScores(context.Background(), race, []models.FactorRule{r})
	require.NoError(t, err)
	assert.Equal(t, 1, engine.programs.ItemCount())

	r.UpdatedAt = r.UpdatedAt.Add(time.Minute)
	_, err = engine.RawScores(context.Background(), race, []models.FactorRule{r})
	require.NoError(t, err)
	assert.Equal(t, 2, engine.programs.ItemCount())
}

func TestScoreRace(t *testing.T) {
	model := &models.CalibrationModel{ID: uuid.New(), Version: 3, Method: models.CalibrationPlatt}
	repo := &memoryScores{}
	at := time.Date(2024, 6, 1, 14, 55, 0, 0, time.UTC)
	engine := NewEngine(staticModels{model: model, cal: &calibration.Platt{A: 1, B: 0}}, quietLogger(),
		WithScoreRepository(repo), WithClock(func() time.Time { return at }), WithoutMetrics())
	race, plain, _ := testRace()

	scores, err := engine.ScoreRace(context.Background(), race, []models.FactorRule{rule("market", "implied_prob", 1)})
	require.NoError(t, err)
	require.Len(t, scores, 2)

	for _, s := range scores {
		assert.Equal(t, model.ID, s.ModelID)
		assert.Equal(t, 3, s.ModelVersion)
		assert.Equal(t, at, s.ScoredAt)
		if s.RunnerID == plain.ID {
			p := 1 / (1 + math.Exp(-0.25))
			assert.InDelta(t, p, s.Probability, 1e-12)
			assert.InDelta(t, p*4-1, s.EV, 1e-12)
			assert.Equal(t, 4.0, s.Odds)
		}
	}

	stored, err := repo.GetByRaceID(context.Background(), race.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestScoreRaceWithoutActiveModel(t *testing.T) {
	repo := &memoryScores{}
	engine := NewEngine(staticModels{}, quietLogger(), WithScoreRepository(repo), WithoutMetrics())
	race, _, _ := testRace()

	_, err := engine.ScoreRace(context.Background(), race, nil)
	assert.ErrorIs(t, err, models.ErrNoActiveModel)
	assert.Empty(t, repo.scores)
}

func TestRawScoresCancelled(t *testing.T) {
	engine := NewEngine(staticModels{}, quietLogger(), WithoutMetrics())
	race, _, _ := testRace()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.RawScores(ctx, race, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
