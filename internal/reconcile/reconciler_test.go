package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
)

type settleCall struct {
	pnl float64
	won bool
}

type recordingBank struct {
	mu    sync.Mutex
	calls []settleCall
}

func (b *recordingBank) Settle(_ context.Context, pnl float64, won bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, settleCall{pnl, won})
	return nil
}

type brokenBank struct{}

func (brokenBank) Settle(context.Context, float64, bool) error {
	return errors.New("bankroll state corrupted")
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePublisher) Publish(_ context.Context, e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type mapResults map[uuid.UUID]*models.RaceResult

func (m mapResults) Result(_ context.Context, id uuid.UUID) (*models.RaceResult, error) {
	if r, ok := m[id]; ok {
		return r, nil
	}
	return nil, models.ErrNotFound
}

type failingResults struct{}

func (failingResults) Result(context.Context, uuid.UUID) (*models.RaceResult, error) {
	return nil, errors.New("upstream down")
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var settledAt = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

func newBet(raceID, runnerID uuid.UUID, t models.BetType, stake, odds float64) *models.Bet {
	return &models.Bet{
		ID: uuid.New(), RaceID: raceID, RunnerID: runnerID, BetType: t,
		TradingDay: "2024-06-01", Stake: stake, Odds: odds, Probability: 0.3, EV: 0.2,
		Strategy: "value", PlacedAt: settledAt.Add(-time.Hour),
	}
}

// result builds an official result with n finishers, returning their ids in finishing order
func result(raceID uuid.UUID, n int) (*models.RaceResult, []uuid.UUID) {
	res := &models.RaceResult{RaceID: raceID, Positions: map[uuid.UUID]int{}, Official: true, SettledAt: settledAt}
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		res.Positions[ids[i]] = i + 1
	}
	return res, ids
}

func TestSettleOutcomes(t *testing.T) {
	raceID := uuid.New()
	res, ids := result(raceID, 8)
	scratched := uuid.New()
	res.Scratched = []uuid.UUID{scratched}

	tests := []struct {
		name   string
		bet    *models.Bet
		status models.BetStatus
		payout float64
		pnl    float64
		reason string
	}{
		{"win on winner", newBet(raceID, ids[0], models.BetTypeWin, 10, 4.5), models.BetStatusWon, 45, 35, ""},
		{"win on runner-up", newBet(raceID, ids[1], models.BetTypeWin, 10, 4.5), models.BetStatusLost, 0, -10, ""},
		{"place inside three", newBet(raceID, ids[2], models.BetTypePlace, 10, 1.8), models.BetStatusWon, 18, 8, ""},
		{"place outside three", newBet(raceID, ids[3], models.BetTypePlace, 10, 1.8), models.BetStatusLost, 0, -10, ""},
		{"scratched runner", newBet(raceID, scratched, models.BetTypeWin, 10, 3), models.BetStatusVoid, 0, 0, models.VoidReasonScratched},
		{"runner not in result", newBet(raceID, uuid.New(), models.BetTypeWin, 10, 3), models.BetStatusLost, 0, -10, ""},
		{"payout rounded to pennies", newBet(raceID, ids[0], models.BetTypeWin, 3.33, 3.333), models.BetStatusWon, 11.1, 7.77, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Settle(tt.bet, res)
			assert.Equal(t, tt.status, o.Status)
			assert.InDelta(t, tt.payout, o.Payout, 1e-9)
			assert.InDelta(t, tt.pnl, o.ProfitLoss, 1e-9)
			assert.Equal(t, tt.reason, o.VoidReason)
		})
	}
}

func TestSettlePlaceTermsByFieldSize(t *testing.T) {
	raceID := uuid.New()

	small, ids := result(raceID, 6)
	assert.Equal(t, models.BetStatusWon, Settle(newBet(raceID, ids[1], models.BetTypePlace, 10, 2), small).Status)
	assert.Equal(t, models.BetStatusLost, Settle(newBet(raceID, ids[2], models.BetTypePlace, 10, 2), small).Status)

	tiny, ids := result(raceID, 4)
	o := Settle(newBet(raceID, ids[0], models.BetTypePlace, 10, 2), tiny)
	assert.Equal(t, models.BetStatusVoid, o.Status)
	assert.Equal(t, models.VoidReasonNoPlaceTerms, o.VoidReason)
}

type fixture struct {
	repos *repository.Repositories
	bank  *recordingBank
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repos, err := repository.NewRepositories(database.NewTestStore(t))
	require.NoError(t, err)
	return fixture{repos: repos, bank: &recordingBank{}}
}

func (f fixture) reconciler(results ResultSource) *Reconciler {
	return New(f.repos.Bet, results, f.bank, quietLogger(), WithClock(func() time.Time { return settledAt }))
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raceID := uuid.New()
	res, ids := result(raceID, 8)

	winner := newBet(raceID, ids[0], models.BetTypeWin, 10, 5)
	loser := newBet(raceID, ids[4], models.BetTypeWin, 20, 3)
	require.NoError(t, f.repos.Bet.Reserve(ctx, winner, nil))
	require.NoError(t, f.repos.Bet.Reserve(ctx, loser, nil))

	r := f.reconciler(mapResults{raceID: res})
	first, err := r.Reconcile(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Settled)
	assert.Equal(t, 1, first.Won)
	assert.Equal(t, 1, first.Lost)
	assert.InDelta(t, 20, first.ProfitLoss, 1e-9)

	second, err := r.Reconcile(ctx, res)
	require.NoError(t, err)
	assert.Zero(t, second.Settled)
	assert.Len(t, f.bank.calls, 2)

	got, err := f.repos.Bet.GetByID(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetStatusWon, got.Status)
	assert.InDelta(t, 50, *got.Payout, 1e-9)
	assert.InDelta(t, 40, got.GetProfitLoss(), 1e-9)
	require.NotNil(t, got.SettledAt)
	assert.True(t, got.SettledAt.Equal(settledAt))
}

func TestReconcileSkipsUnofficialResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raceID := uuid.New()
	res, ids := result(raceID, 8)
	res.Official = false
	bet := newBet(raceID, ids[0], models.BetTypeWin, 10, 5)
	require.NoError(t, f.repos.Bet.Reserve(ctx, bet, nil))

	sum, err := f.reconciler(mapResults{}).Reconcile(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	got, err := f.repos.Bet.GetByID(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetStatusPending, got.Status)
	assert.Empty(t, f.bank.calls)
}

func TestReconcileVoidsScratchedRunner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raceID := uuid.New()
	res, _ := result(raceID, 8)
	scratched := uuid.New()
	res.Scratched = []uuid.UUID{scratched}
	bet := newBet(raceID, scratched, models.BetTypeWin, 10, 5)
	require.NoError(t, f.repos.Bet.Reserve(ctx, bet, nil))

	sum, err := f.reconciler(mapResults{}).Reconcile(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Voided)
	require.Len(t, f.bank.calls, 1)
	assert.Equal(t, settleCall{0, false}, f.bank.calls[0])

	got, err := f.repos.Bet.GetByID(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetStatusVoid, got.Status)
	assert.Equal(t, models.VoidReasonScratched, got.VoidReason)
}

func TestReconcilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doneRace, waitingRace := uuid.New(), uuid.New()
	res, ids := result(doneRace, 8)
	require.NoError(t, f.repos.Bet.Reserve(ctx, newBet(doneRace, ids[0], models.BetTypeWin, 10, 2), nil))
	require.NoError(t, f.repos.Bet.Reserve(ctx, newBet(doneRace, ids[1], models.BetTypePlace, 10, 1.5), nil))
	waiting := newBet(waitingRace, uuid.New(), models.BetTypeWin, 10, 2)
	require.NoError(t, f.repos.Bet.Reserve(ctx, waiting, nil))

	sum, err := f.reconciler(mapResults{doneRace: res}).ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Settled)
	assert.Equal(t, 2, sum.Won)
	assert.Equal(t, 1, sum.Skipped)

	pending, err := f.repos.Bet.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, waiting.ID, pending[0].ID)
}

func TestReconcilePendingReportsSourceErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repos.Bet.Reserve(ctx, newBet(uuid.New(), uuid.New(), models.BetTypeWin, 10, 2), nil))

	_, err := f.reconciler(failingResults{}).ReconcilePending(ctx)
	assert.Error(t, err)
	assert.Empty(t, f.bank.calls)
}

func TestReconcileFlagsBetsTheBankrollRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raceID := uuid.New()
	res, ids := result(raceID, 8)
	bet := newBet(raceID, ids[0], models.BetTypeWin, 10, 4)
	require.NoError(t, f.repos.Bet.Reserve(ctx, bet, nil))

	pub := &capturePublisher{}
	r := New(f.repos.Bet, mapResults{raceID: res}, brokenBank{}, quietLogger(),
		WithClock(func() time.Time { return settledAt }), WithPublisher(pub))

	sum, err := r.Reconcile(ctx, res)
	require.Error(t, err)
	assert.Equal(t, []uuid.UUID{bet.ID}, sum.Unapplied)
	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.EventBankrollRepair, pub.events[0].Type)

	got, err := f.repos.Bet.GetByID(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetStatusWon, got.Status)

	// the status guard stops a second run from applying it again
	again, err := r.Reconcile(ctx, res)
	require.NoError(t, err)
	assert.Zero(t, again.Settled)
	assert.Empty(t, again.Unapplied)
}
