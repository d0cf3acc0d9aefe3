package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/furlong/internal/models"
)

func settledBet(status models.BetStatus, stake, pl float64) *models.Bet {
	return &models.Bet{Status: status, Stake: stake, ProfitLoss: &pl}
}

func TestPerformance(t *testing.T) {
	perf := Performance([]*models.Bet{
		settledBet(models.BetStatusWon, 10, 15),
		settledBet(models.BetStatusLost, 20, -20),
		settledBet(models.BetStatusVoid, 5, 0),
		settledBet(models.BetStatusLost, 10, -10),
		settledBet(models.BetStatusLost, 10, -10),
		{Status: models.BetStatusPending, Stake: 99},
	})

	assert.Equal(t, 5, perf.SettledBets)
	assert.Equal(t, 1, perf.WinningBets)
	assert.Equal(t, 3, perf.LosingBets)
	assert.Equal(t, 1, perf.VoidBets)
	assert.InDelta(t, 50.0, perf.TotalStaked, 1e-9)
	assert.InDelta(t, -25.0, perf.TotalPL, 1e-9)
	assert.InDelta(t, 0.25, perf.HitRate, 1e-9)
	assert.InDelta(t, -0.5, perf.ROI, 1e-9)
	assert.Equal(t, 15.0, perf.LargestWin)
	assert.Equal(t, -20.0, perf.LargestLoss)
	assert.Equal(t, -3, perf.CurrentStreak, "a void neither extends nor breaks the losing run")
}

func TestPerformanceEmpty(t *testing.T) {
	perf := Performance(nil)
	assert.Zero(t, perf.SettledBets)
	assert.Zero(t, perf.HitRate)
	assert.Zero(t, perf.ROI)
}

func TestMonitorDashboard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []models.HistoricalRace{card("upcoming", now.Add(time.Hour))})

	_, err := h.orch.RunOnce(ctx)
	require.NoError(t, err)

	data, err := h.orch.deps.Monitor.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, data.PendingBets)
	assert.Equal(t, 50.0, data.PendingStake)
	assert.Equal(t, 1000.0, data.Bankroll.Balance)
	assert.Equal(t, 50.0, data.Bankroll.StakedToday)
	assert.False(t, data.EmergencyStop.Engaged)
	assert.Equal(t, "2024-06-01", data.Today.TradingDay)
	assert.Zero(t, data.Today.SettledBets)

	assert.Same(t, data, h.orch.deps.Monitor.Latest())
	assert.EqualValues(t, 1, h.orch.deps.Monitor.Metrics().UpdatesPerformed)

	status := h.orch.GetStatus()
	require.NotNil(t, status.Dashboard)
	assert.Equal(t, 1, status.Dashboard.PendingBets)
}
