package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewRepositories(database.NewTestStore(t))
	require.NoError(t, err)
	return repos
}

var day = time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)

func testRule(name string) (*models.FactorRule, *models.FactorChange) {
	rule := &models.FactorRule{
		ID:         uuid.New(),
		Name:       name,
		Expression: "1 / market_rank",
		Category:   "market",
		Weight:     1.5,
		Status:     models.FactorStatusDraft,
		CreatedBy:  "tester",
		CreatedAt:  day,
		UpdatedAt:  day,
	}
	w := rule.Weight
	change := &models.FactorChange{
		ID: uuid.New(), FactorID: rule.ID, Action: "create",
		ToStatus: models.FactorStatusDraft, NewWeight: &w, ChangedBy: "tester", ChangedAt: day,
	}
	return rule, change
}

func TestNewRepositoriesRequiresStore(t *testing.T) {
	_, err := NewRepositories(nil)
	assert.Error(t, err)
}

func TestFactorRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Factor

	rule, change := testRule("favourite")
	from, to := day.AddDate(-1, 0, 0), day.AddDate(0, -1, 0)
	rule.TrainingFrom, rule.TrainingTo = &from, &to
	require.NoError(t, repo.Create(ctx, rule, change))

	dup, dupChange := testRule("favourite")
	assert.ErrorIs(t, repo.Create(ctx, dup, dupChange), models.ErrDuplicateKey)

	got, err := repo.GetByName(ctx, "favourite")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)
	assert.Equal(t, models.FactorStatusDraft, got.Status)
	require.NotNil(t, got.TrainingTo)
	assert.True(t, got.TrainingTo.Equal(to))

	got.Status = models.FactorStatusTesting
	got.Stats = models.FactorStats{SampleSize: 300, ROI: 0.04, HitRate: 0.3}
	got.UpdatedAt = day.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, got, models.FactorStatusDraft, &models.FactorChange{
		ID: uuid.New(), FactorID: rule.ID, Action: "transition",
		FromStatus: models.FactorStatusDraft, ToStatus: models.FactorStatusTesting,
		ChangedBy: "tester", ChangedAt: got.UpdatedAt,
	}))

	// a second writer still expecting DRAFT loses
	stale := *got
	stale.Status = models.FactorStatusDraft
	err = repo.Update(ctx, &stale, models.FactorStatusDraft, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	missing, _ := testRule("ghost")
	assert.ErrorIs(t, repo.Update(ctx, missing, models.FactorStatusDraft, nil), models.ErrNotFound)

	reloaded, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FactorStatusTesting, reloaded.Status)
	assert.Equal(t, 300, reloaded.Stats.SampleSize)

	status := models.FactorStatusTesting
	listed, err := repo.List(ctx, FactorFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	changes, err := repo.Changes(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "create", changes[0].Action)
	require.NotNil(t, changes[0].NewWeight)
	assert.Equal(t, 1.5, *changes[0].NewWeight)
	assert.Equal(t, models.FactorStatusTesting, changes[1].ToStatus)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestScoreRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Score
	raceID := uuid.New()

	scores := []*models.RunnerScore{
		{ID: uuid.New(), RaceID: raceID, RunnerID: uuid.New(), RawScore: 1.2, Probability: 0.3, Odds: 4, EV: 0.2,
			ModelID: uuid.New(), ModelVersion: 2, Contributions: map[string]float64{"favourite": 1.2}, ScoredAt: day},
		{ID: uuid.New(), RaceID: raceID, RunnerID: uuid.New(), RawScore: 0.1, Probability: 0.1, Odds: 12, EV: 0.2,
			Failures: map[string]string{"form": "missing_attribute: prev_finish"}, ScoredAt: day},
	}
	require.NoError(t, repo.InsertBatch(ctx, scores))
	require.NoError(t, repo.InsertBatch(ctx, nil))

	got, err := repo.GetByRaceID(ctx, raceID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[uuid.UUID]*models.RunnerScore{}
	for _, s := range got {
		byID[s.ID] = s
	}
	assert.Equal(t, 1.2, byID[scores[0].ID].Contributions["favourite"])
	assert.Equal(t, "missing_attribute: prev_finish", byID[scores[1].ID].Failures["form"])
	assert.Equal(t, 2, byID[scores[0].ID].ModelVersion)

	// records are immutable: the same id cannot be written twice
	assert.Error(t, repo.Insert(ctx, scores[0]))
}

func TestCalibrationRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Calibration

	_, err := repo.GetActive(ctx)
	assert.ErrorIs(t, err, models.ErrNoActiveModel)

	newModel := func() *models.CalibrationModel {
		return &models.CalibrationModel{
			ID: uuid.New(), Method: models.CalibrationPlatt, Params: models.CalibrationParams{A: 1.4, B: -0.8},
			TrainedFrom: day.AddDate(0, -3, 0), TrainedTo: day, SampleSize: 500, BrierScore: 0.08, ECE: 0.02,
			CreatedAt: day,
		}
	}
	first, second := newModel(), newModel()
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)

	require.NoError(t, repo.Activate(ctx, first.ID))
	require.NoError(t, repo.Activate(ctx, second.ID))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, 1.4, active.Params.A)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	activeCount := 0
	for _, m := range all {
		if m.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	v1, err := repo.GetByVersion(ctx, 1)
	require.NoError(t, err)
	assert.False(t, v1.Active)

	assert.ErrorIs(t, repo.Activate(ctx, uuid.New()), models.ErrNotFound)
	active, err = repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func testBet(raceID, runnerID uuid.UUID) *models.Bet {
	return &models.Bet{
		ID: uuid.New(), RaceID: raceID, RunnerID: runnerID, BetType: models.BetTypeWin,
		TradingDay: "2024-06-01", Stake: 20, Odds: 5, Probability: 0.25, EV: 0.25,
		Strategy: "value", PlacedAt: day,
	}
}

func TestBetRepositoryReserve(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Bet
	raceID, runnerID := uuid.New(), uuid.New()

	first := testBet(raceID, runnerID)
	require.NoError(t, repo.Reserve(ctx, first, nil))
	assert.Equal(t, models.BetStatusPending, first.Status)

	twin := testBet(raceID, runnerID)
	assert.ErrorIs(t, repo.Reserve(ctx, twin, nil), models.ErrDuplicateKey)

	// a failing check rolls the insert back
	other := testBet(raceID, uuid.New())
	refused := errors.New("refused")
	assert.ErrorIs(t, repo.Reserve(ctx, other, func(context.Context) error { return refused }), refused)
	_, err := repo.GetByID(ctx, other.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// voiding frees the key
	ok, err := repo.Settle(ctx, Settlement{BetID: first.ID, Status: models.BetStatusVoid,
		VoidReason: models.VoidReasonExecutorFailed, SettledAt: day})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, repo.Reserve(ctx, twin, nil))

	bets, err := repo.GetByRaceID(ctx, raceID)
	require.NoError(t, err)
	assert.Len(t, bets, 2)
}

func TestBetRepositorySettleIsOneWay(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Bet
	bet := testBet(uuid.New(), uuid.New())
	require.NoError(t, repo.Reserve(ctx, bet, nil))

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	settledAt := day.Add(2 * time.Hour)
	win := Settlement{BetID: bet.ID, Status: models.BetStatusWon, Payout: 100, ProfitLoss: 80, SettledAt: settledAt}
	ok, err := repo.Settle(ctx, win)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Settle(ctx, Settlement{BetID: bet.ID, Status: models.BetStatusLost, ProfitLoss: -20, SettledAt: settledAt})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetStatusWon, got.Status)
	assert.Equal(t, 80.0, got.GetProfitLoss())
	require.NotNil(t, got.SettledAt)
	assert.True(t, got.IsSettled())

	settled, err := repo.GetSettled(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, settled, 1)

	_, err = repo.Settle(ctx, Settlement{BetID: uuid.New(), Status: models.BetStatusLost, SettledAt: settledAt})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.Settle(ctx, Settlement{BetID: bet.ID, Status: models.BetStatusPending})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestBankrollRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Bankroll

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	state := &models.BankrollState{Balance: 1000, Peak: 1000, LastReset: "2024-06-01", UpdatedAt: day}
	require.NoError(t, repo.Save(ctx, state))

	state.Balance, state.StakedToday, state.ConsecutiveLosses = 950, 50, 1
	require.NoError(t, repo.Save(ctx, state))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 950.0, got.Balance)
	assert.Equal(t, 1000.0, got.Peak)
	assert.Equal(t, 1, got.ConsecutiveLosses)
	assert.Equal(t, "2024-06-01", got.LastReset)
}

func TestRaceRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepos(t).Race

	newRace := func(start time.Time) *models.Race {
		id := uuid.New()
		return &models.Race{
			ID: id, Track: "Ascot", RaceNumber: 3, ScheduledStart: start, Distance: 1600,
			Surface: models.SurfaceTurf, Going: "Good",
			Runners: []models.Runner{
				{ID: uuid.New(), RaceID: id, Name: "Alpha", Number: 1, Odds: 3.5},
				{ID: uuid.New(), RaceID: id, Name: "Bravo", Number: 2, Odds: 6, Scratched: true},
			},
		}
	}

	early, late, unresulted := newRace(day), newRace(day.Add(time.Hour)), newRace(day.Add(2*time.Hour))
	for _, r := range []*models.Race{late, early, unresulted} {
		require.NoError(t, repo.Save(ctx, r))
	}
	require.NoError(t, repo.Save(ctx, early))

	got, err := repo.GetByID(ctx, early.ID)
	require.NoError(t, err)
	require.Len(t, got.Runners, 2)
	assert.True(t, got.Runners[1].Scratched)
	assert.True(t, got.ScheduledStart.Equal(day))

	races, err := repo.GetByDateRange(ctx, day, day.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, races, 2)
	assert.Equal(t, early.ID, races[0].ID)

	for _, r := range []*models.Race{early, late} {
		require.NoError(t, repo.SaveResult(ctx, &models.RaceResult{
			RaceID:    r.ID,
			Positions: map[uuid.UUID]int{r.Runners[0].ID: 1},
			Scratched: []uuid.UUID{r.Runners[1].ID},
			Official:  true,
			SettledAt: r.ScheduledStart.Add(10 * time.Minute),
		}))
	}

	result, err := repo.GetResult(ctx, late.ID)
	require.NoError(t, err)
	pos, ok := result.PositionOf(late.Runners[0].ID)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.True(t, result.IsScratched(late.Runners[1].ID))

	_, err = repo.GetResult(ctx, unresulted.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	hist, err := repo.Historical(ctx, day.Add(-time.Hour), day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, early.ID, hist[0].Race.ID)
	assert.Equal(t, late.ID, hist[1].Race.ID)
	assert.Equal(t, late.ID, hist[1].Result.RaceID)
}
