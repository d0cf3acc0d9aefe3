package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/repository"
)

const recentBetLimit = 10

// BankrollSnapshotter exposes a copy of the live bankroll
type BankrollSnapshotter interface {
	Snapshot() models.BankrollState
}

// MonitorMetrics tracks monitoring statistics
type MonitorMetrics struct {
	UpdatesPerformed int64     `json:"updates_performed"`
	LastUpdateTime   time.Time `json:"last_update_time"`
	UpdateErrors     int64     `json:"update_errors"`
}

// LivePerformance summarises bets settled during the current trading day
type LivePerformance struct {
	TradingDay    string    `json:"trading_day"`
	SettledBets   int       `json:"settled_bets"`
	WinningBets   int       `json:"winning_bets"`
	LosingBets    int       `json:"losing_bets"`
	VoidBets      int       `json:"void_bets"`
	TotalStaked   float64   `json:"total_staked"`
	TotalPL       float64   `json:"total_pl"`
	HitRate       float64   `json:"hit_rate"`
	ROI           float64   `json:"roi"`
	LargestWin    float64   `json:"largest_win"`
	LargestLoss   float64   `json:"largest_loss"`
	CurrentStreak int       `json:"current_streak"` // Positive for wins, negative for losses
	UpdatedAt     time.Time `json:"updated_at"`
}

// DashboardData aggregates monitoring information
type DashboardData struct {
	Bankroll      models.BankrollState `json:"bankroll"`
	EmergencyStop killswitch.State     `json:"emergency_stop"`
	PendingBets   int                  `json:"pending_bets"`
	PendingStake  float64              `json:"pending_stake"`
	Today         LivePerformance      `json:"today"`
	RecentBets    []*models.Bet        `json:"recent_bets"`
}

// Monitor tracks live performance and keeps the bankroll gauges fresh
type Monitor struct {
	bets           repository.BetRepository
	bank           BankrollSnapshotter
	stop           killswitch.Switch
	loc            *time.Location
	updateInterval time.Duration
	logger         *logrus.Entry
	now            func() time.Time

	mu      sync.RWMutex
	stats   MonitorMetrics
	latest  *DashboardData
	done    chan struct{}
	stopped sync.Once
}

// NewMonitor creates a monitor
func NewMonitor(
	bets repository.BetRepository,
	bank BankrollSnapshotter,
	stop killswitch.Switch,
	loc *time.Location,
	updateInterval time.Duration,
	logger *logrus.Logger,
) *Monitor {
	if loc == nil {
		loc = time.UTC
	}
	return &Monitor{
		bets:           bets,
		bank:           bank,
		stop:           stop,
		loc:            loc,
		updateInterval: updateInterval,
		logger:         logger.WithField("component", "monitor"),
		now:            func() time.Time { return time.Now().UTC() },
		done:           make(chan struct{}),
	}
}

// Start refreshes the dashboard on every interval until ctx ends or Stop is called
func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	if _, err := m.Update(ctx); err != nil {
		m.logger.WithError(err).Warn("Initial dashboard update failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-ticker.C:
			if _, err := m.Update(ctx); err != nil {
				m.logger.WithError(err).Error("Dashboard update failed")
			}
		}
	}
}

// Stop ends the update loop
func (m *Monitor) Stop() error {
	m.stopped.Do(func() { close(m.done) })
	return nil
}

// Update rebuilds the dashboard and republishes the bankroll gauges
func (m *Monitor) Update(ctx context.Context) (*DashboardData, error) {
	data, err := m.GetDashboardData(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.LastUpdateTime = m.now()
	if err != nil {
		m.stats.UpdateErrors++
		return nil, err
	}
	m.stats.UpdatesPerformed++
	m.latest = data

	metrics.UpdateBankroll(data.Bankroll.Balance, data.Bankroll.Drawdown(), data.Bankroll.StakedToday)
	return data, nil
}

// Latest returns the last dashboard built by Update, or nil
func (m *Monitor) Latest() *DashboardData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Metrics returns a copy of the monitor statistics
func (m *Monitor) Metrics() MonitorMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// GetDashboardData aggregates the bankroll, the emergency stop, open exposure
// and today's settled bets.
func (m *Monitor) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	data := &DashboardData{Bankroll: m.bank.Snapshot()}

	if m.stop != nil {
		state, err := m.stop.State(ctx)
		if err != nil {
			// Unknown state is reported as engaged
			state = killswitch.State{Engaged: true, Reason: fmt.Sprintf("state unavailable: %v", err)}
		}
		data.EmergencyStop = state
	}

	pending, err := m.bets.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending bets: %w", err)
	}
	data.PendingBets = len(pending)
	for _, bet := range pending {
		data.PendingStake += bet.Stake
	}

	now := m.now()
	local := now.In(m.loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.loc)
	settled, err := m.bets.GetSettled(ctx, startOfDay, now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("failed to get today's bets: %w", err)
	}
	data.Today = Performance(settled)
	data.Today.TradingDay = startOfDay.Format("2006-01-02")
	data.Today.UpdatedAt = now

	// Most recent first
	for i := len(settled) - 1; i >= 0 && len(data.RecentBets) < recentBetLimit; i-- {
		data.RecentBets = append(data.RecentBets, settled[i])
	}
	return data, nil
}

// Performance summarises settled bets given oldest first
func Performance(bets []*models.Bet) LivePerformance {
	var perf LivePerformance
	for _, bet := range bets {
		if !bet.Status.IsTerminal() {
			continue
		}
		perf.SettledBets++
		if bet.Status == models.BetStatusVoid {
			perf.VoidBets++
			continue
		}

		pl := 0.0
		if bet.ProfitLoss != nil {
			pl = *bet.ProfitLoss
		}
		perf.TotalStaked += bet.Stake
		perf.TotalPL += pl

		switch bet.Status {
		case models.BetStatusWon:
			perf.WinningBets++
			if pl > perf.LargestWin {
				perf.LargestWin = pl
			}
			if perf.CurrentStreak < 0 {
				perf.CurrentStreak = 0
			}
			perf.CurrentStreak++
		case models.BetStatusLost:
			perf.LosingBets++
			if pl < perf.LargestLoss {
				perf.LargestLoss = pl
			}
			if perf.CurrentStreak > 0 {
				perf.CurrentStreak = 0
			}
			perf.CurrentStreak--
		}
	}

	if decided := perf.WinningBets + perf.LosingBets; decided > 0 {
		perf.HitRate = float64(perf.WinningBets) / float64(decided)
	}
	if perf.TotalStaked > 0 {
		perf.ROI = perf.TotalPL / perf.TotalStaked
	}
	return perf
}
