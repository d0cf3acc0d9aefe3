// Package bankroll sizes stakes with fractional Kelly under hard caps and
// owns the bankroll state. All reads and writes go through one mutex.
package bankroll

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
	"github.com/yourusername/furlong/internal/strategy"
)

// Limits reported in Sizing.LimitedBy
const (
	LimitNone         = ""
	LimitNotAccepted  = "not_accepted"
	LimitInvalidOdds  = "invalid_odds"
	LimitInvalidProb  = "invalid_probability"
	LimitNoEdge       = "no_edge"
	LimitPerBet       = "per_bet_cap"
	LimitDaily        = "daily_cap"
	LimitThrottle     = "drawdown_throttle"
	LimitDrawdownHalt = "drawdown_halt"
	LimitDailyLoss    = "daily_loss"
	LimitBelowUnit    = "below_stake_unit"
	LimitCorrupted    = "corrupted_state"
)

const (
	drawdownLevelSoft = "soft"
	drawdownLevelHard = "hard"
	capEpsilon        = 1e-9
	defaultStakeUnit  = 0.01
)

// ErrLimitExceeded is returned by Reserve when the stake no longer fits the caps
var ErrLimitExceeded = errors.New("stake exceeds remaining bankroll limits")

// Sizing is the result of sizing one candidate
type Sizing struct {
	Kelly     float64 `json:"kelly"`
	Fraction  float64 `json:"fraction"`
	Stake     float64 `json:"stake"`
	Drawdown  float64 `json:"drawdown"`
	LimitedBy string  `json:"limited_by,omitempty"`
}

// Option configures a Manager
type Option func(*Manager)

// WithRepository persists the state after every mutation
func WithRepository(repo repository.BankrollRepository) Option {
	return func(m *Manager) { m.repo = repo }
}

// WithPublisher sends drawdown breach events
func WithPublisher(p notify.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithClock replaces the wall clock, used by backtests to run in race time
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithoutMetrics keeps simulated bankrolls out of the live gauges
func WithoutMetrics() Option {
	return func(m *Manager) { m.metrics = false }
}

// Manager is the single owner of the bankroll state
type Manager struct {
	cfg       config.BankrollConfig
	loc       *time.Location
	stop      killswitch.Switch
	repo      repository.BankrollRepository
	publisher notify.Publisher
	clock     func() time.Time
	metrics   bool
	log       *logger.StrategyLogger
	entry     *logrus.Entry

	mu        sync.Mutex
	state     models.BankrollState
	corrupted error
}

// NewManager creates a manager holding a fresh bankroll of cfg.InitialBalance.
// Call Load to restore persisted state.
func NewManager(cfg config.BankrollConfig, stop killswitch.Switch, log *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		loc:       cfg.Location(),
		stop:      stop,
		publisher: notify.Nop{},
		clock:     func() time.Time { return time.Now().UTC() },
		metrics:   true,
		log:       logger.NewStrategyLogger(log),
		entry:     log.WithField("component", "bankroll"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.StakeUnit <= 0 {
		m.cfg.StakeUnit = defaultStakeUnit
	}
	m.state = models.BankrollState{
		Balance:   cfg.InitialBalance,
		Peak:      cfg.InitialBalance,
		LastReset: models.TradingDay(m.clock(), m.loc),
		UpdatedAt: m.clock(),
	}
	return m
}

// Load restores the persisted state. A missing record keeps the initial
// balance; a record that breaks the invariants engages the emergency stop.
func (m *Manager) Load(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	st, err := m.repo.Load(ctx)
	if errors.Is(err, models.ErrNotFound) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.persistLocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load bankroll state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := st.Validate(); err != nil {
		m.corruptLocked(ctx, err)
		return err
	}
	m.state = *st
	m.rolloverLocked(ctx)
	m.publishLocked()
	return nil
}

// Snapshot returns a copy of the current state
func (m *Manager) Snapshot() models.BankrollState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Size computes the stake for an accepted candidate:
// quarter Kelly (or the strategy's fixed stake), throttled in drawdown,
// capped per bet and by what is left of the daily allowance, rounded down
// to the stake unit.
func (m *Manager) Size(ctx context.Context, c strategy.Candidate, ev strategy.Evaluation) Sizing {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.sizeLocked(ctx, c, ev)
	m.log.LogStakeSizing(c.Race.ID.String(), c.Runner.ID.String(), out.Kelly, out.Fraction, out.Stake, out.Drawdown, out.LimitedBy)
	return out
}

func (m *Manager) sizeLocked(ctx context.Context, c strategy.Candidate, ev strategy.Evaluation) Sizing {
	if m.corrupted != nil {
		return Sizing{LimitedBy: LimitCorrupted}
	}
	m.rolloverLocked(ctx)
	if err := m.state.Validate(); err != nil {
		m.corruptLocked(ctx, err)
		return Sizing{LimitedBy: LimitCorrupted}
	}

	dd := m.state.Drawdown()
	out := Sizing{Drawdown: dd}

	// checked before the candidate so a breach halts even on a rejected one
	if dd >= m.cfg.DrawdownHard {
		out.LimitedBy = LimitDrawdownHalt
		m.log.LogDrawdown(drawdownLevelHard, dd, m.state.Peak, m.state.Balance)
		m.engageLocked(ctx, fmt.Sprintf("drawdown %.4f at or above hard limit %.4f", dd, m.cfg.DrawdownHard))
		return out
	}

	if !ev.Accepted {
		out.LimitedBy = LimitNotAccepted
		return out
	}
	if c.Odds <= 1 || math.IsNaN(c.Odds) {
		out.LimitedBy = LimitInvalidOdds
		return out
	}
	p := c.Probability
	if math.IsNaN(p) || p <= 0 || p > 1 {
		out.LimitedBy = LimitInvalidProb
		return out
	}

	if m.cfg.MaxDailyLoss > 0 && m.state.LossToday >= m.cfg.MaxDailyLoss {
		out.LimitedBy = LimitDailyLoss
		return out
	}

	b := c.Odds - 1
	out.Kelly = (b*p - (1 - p)) / b

	var stake float64
	if ev.FixedStake > 0 {
		stake = ev.FixedStake
		if m.state.Balance > 0 {
			out.Fraction = stake / m.state.Balance
		}
	} else {
		if out.Kelly <= 0 {
			out.LimitedBy = LimitNoEdge
			return out
		}
		out.Fraction = m.cfg.KellyMultiplier * out.Kelly
		stake = out.Fraction * m.state.Balance
	}

	if dd >= m.cfg.DrawdownSoft {
		stake *= m.cfg.ThrottleScale
		out.Fraction *= m.cfg.ThrottleScale
		out.LimitedBy = LimitThrottle
	}

	perBet, daily := m.capsLocked()
	if stake > perBet {
		stake = perBet
		out.LimitedBy = LimitPerBet
	}
	if stake > daily {
		stake = daily
		out.LimitedBy = LimitDaily
	}

	out.Stake = m.roundDown(stake)
	if out.Stake <= 0 {
		out.Stake = 0
		if out.LimitedBy == LimitNone {
			out.LimitedBy = LimitBelowUnit
		}
	}
	return out
}

// capsLocked returns the per-bet cap and the remaining daily allowance
func (m *Manager) capsLocked() (perBet, daily float64) {
	perBet = m.cfg.MaxBetFraction * m.state.Balance
	daily = m.cfg.MaxDailyFraction*m.state.Balance - m.state.StakedToday
	if daily < 0 {
		daily = 0
	}
	return perBet, daily
}

func (m *Manager) roundDown(stake float64) float64 {
	if stake <= 0 || math.IsNaN(stake) {
		return 0
	}
	unit := decimal.NewFromFloat(m.cfg.StakeUnit)
	// snap float noise such as 49.99999999999999 before flooring
	rounded := decimal.NewFromFloat(stake).Round(8).Div(unit).Floor().Mul(unit)
	f, _ := rounded.Float64()
	return f
}

// Reservation holds stake against the daily allowance until the bet is
// settled or released
type Reservation struct {
	m     *Manager
	Stake float64
	day   string
	once  sync.Once
}

// Reserve re-checks the caps against the current state and books the stake
// against today's allowance. It fails with ErrLimitExceeded when concurrent
// approvals have used up the room.
func (m *Manager) Reserve(ctx context.Context, stake float64) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.corrupted != nil {
		return nil, m.corrupted
	}
	m.rolloverLocked(ctx)
	if stake <= 0 || math.IsNaN(stake) {
		return nil, fmt.Errorf("%w: stake %.2f is not positive", ErrLimitExceeded, stake)
	}
	if m.state.Drawdown() >= m.cfg.DrawdownHard {
		return nil, fmt.Errorf("%w: drawdown halt", ErrLimitExceeded)
	}
	perBet, daily := m.capsLocked()
	if stake > perBet+capEpsilon {
		return nil, fmt.Errorf("%w: %.2f above per-bet cap %.2f", ErrLimitExceeded, stake, perBet)
	}
	if stake > daily+capEpsilon {
		return nil, fmt.Errorf("%w: %.2f above remaining daily cap %.2f", ErrLimitExceeded, stake, daily)
	}

	prev := m.state
	m.state.StakedToday += stake
	m.state.UpdatedAt = m.clock()
	if err := m.persistLocked(ctx); err != nil {
		m.state = prev
		return nil, err
	}
	m.publishLocked()
	return &Reservation{m: m, Stake: stake, day: m.state.LastReset}, nil
}

// Release returns the stake to today's allowance. It is a no-op after the
// first call or once the trading day has rolled over.
func (r *Reservation) Release(ctx context.Context) {
	r.once.Do(func() {
		m := r.m
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state.LastReset != r.day {
			return
		}
		m.state.StakedToday = math.Max(0, m.state.StakedToday-r.Stake)
		m.state.UpdatedAt = m.clock()
		if err := m.persistLocked(ctx); err != nil {
			m.entry.WithError(err).Error("Failed to persist bankroll after release")
		}
		m.publishLocked()
	})
}

// Settle applies a settled bet's profit or loss. A void settles with pnl 0
// and won false, which leaves the loss streak untouched.
func (m *Manager) Settle(ctx context.Context, pnl float64, won bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.corrupted != nil {
		return m.corrupted
	}
	m.rolloverLocked(ctx)

	m.state.Balance += pnl
	if m.state.Balance > m.state.Peak {
		m.state.Peak = m.state.Balance
	}
	switch {
	case won:
		m.state.ConsecutiveLosses = 0
	case pnl < 0:
		m.state.ConsecutiveLosses++
		m.state.LossToday += -pnl
	}
	m.state.UpdatedAt = m.clock()

	if err := m.state.Validate(); err != nil {
		m.corruptLocked(ctx, err)
		return err
	}
	if err := m.persistLocked(ctx); err != nil {
		m.entry.WithError(err).Error("Failed to persist bankroll after settlement")
	}
	m.publishLocked()

	dd := m.state.Drawdown()
	switch {
	case dd >= m.cfg.DrawdownHard:
		m.breachLocked(ctx, drawdownLevelHard, dd)
		m.engageLocked(ctx, fmt.Sprintf("drawdown %.4f at or above hard limit %.4f", dd, m.cfg.DrawdownHard))
	case dd >= m.cfg.DrawdownSoft && pnl < 0:
		m.breachLocked(ctx, drawdownLevelSoft, dd)
	}
	if limit := m.cfg.MaxConsecutiveLosses; limit > 0 && m.state.ConsecutiveLosses >= limit {
		m.engageLocked(ctx, fmt.Sprintf("max consecutive losses reached (%d >= %d)", m.state.ConsecutiveLosses, limit))
	}
	return nil
}

// ResetDaily clears the daily counters. The emergency stop is not touched.
func (m *Manager) ResetDaily(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(models.TradingDay(m.clock(), m.loc))
	if err := m.persistLocked(ctx); err != nil {
		return err
	}
	m.publishLocked()
	return nil
}

func (m *Manager) rolloverLocked(ctx context.Context) {
	today := models.TradingDay(m.clock(), m.loc)
	if m.state.LastReset == today {
		return
	}
	m.resetLocked(today)
	if err := m.persistLocked(ctx); err != nil {
		m.entry.WithError(err).Error("Failed to persist bankroll after daily rollover")
	}
}

func (m *Manager) resetLocked(day string) {
	m.entry.WithFields(logrus.Fields{
		"previous_day": m.state.LastReset,
		"trading_day":  day,
		"staked":       m.state.StakedToday,
		"loss":         m.state.LossToday,
	}).Info("Daily bankroll counters reset")
	m.state.StakedToday = 0
	m.state.LossToday = 0
	m.state.LastReset = day
	m.state.UpdatedAt = m.clock()
}

func (m *Manager) corruptLocked(ctx context.Context, err error) {
	m.corrupted = err
	m.entry.WithError(err).Error("Bankroll state corrupted, refusing to size")
	m.engageLocked(ctx, err.Error())
}

func (m *Manager) engageLocked(ctx context.Context, reason string) {
	if m.stop == nil {
		return
	}
	if err := m.stop.Engage(ctx, reason); err != nil {
		m.entry.WithError(err).Error("Failed to engage emergency stop")
	}
}

func (m *Manager) breachLocked(ctx context.Context, level string, dd float64) {
	m.log.LogDrawdown(level, dd, m.state.Peak, m.state.Balance)
	m.publisher.Publish(ctx, notify.NewEvent(notify.EventDrawdownBreach, level, map[string]interface{}{
		"drawdown": dd,
		"peak":     m.state.Peak,
		"balance":  m.state.Balance,
	}))
}

func (m *Manager) persistLocked(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	st := m.state
	if err := m.repo.Save(ctx, &st); err != nil {
		return fmt.Errorf("failed to save bankroll state: %w", err)
	}
	return nil
}

func (m *Manager) publishLocked() {
	if m.metrics {
		metrics.UpdateBankroll(m.state.Balance, m.state.Drawdown(), m.state.StakedToday)
	}
}
