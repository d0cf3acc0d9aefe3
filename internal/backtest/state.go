package backtest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/bankroll"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/reconcile"
	"github.com/yourusername/furlong/internal/strategy"
)

// replayState is the simulated world of one replay: a real bankroll manager
// and kill switch, driven by a clock that only moves with the races.
type replayState struct {
	now     time.Time
	loc     *time.Location
	initial float64
	bank    *bankroll.Manager
	stop    *killswitch.Local
	placed  map[models.BetKey]struct{}
	bets    []*models.Bet

	races      int
	unscored   int
	haltedAt   *time.Time
	haltReason string
}

func newReplayState(cfg config.BankrollConfig, start time.Time, log *logrus.Logger) *replayState {
	s := &replayState{
		now:     start,
		loc:     cfg.Location(),
		initial: cfg.InitialBalance,
		stop:    killswitch.NewLocal(log, notify.Nop{}),
		placed:  make(map[models.BetKey]struct{}),
	}
	s.bank = bankroll.NewManager(cfg, s.stop, log,
		bankroll.WithClock(func() time.Time { return s.now }),
		bankroll.WithoutMetrics(),
	)
	return s
}

// advance moves the clock forward, never back
func (s *replayState) advance(t time.Time) {
	if t.After(s.now) {
		s.now = t
	}
}

func (s *replayState) halted(ctx context.Context) (bool, error) {
	engaged, reason, err := killswitch.IsEngaged(ctx, s.stop)
	if err != nil {
		return false, err
	}
	if engaged && s.haltedAt == nil {
		at := s.now
		s.haltedAt, s.haltReason = &at, reason
	}
	return engaged, nil
}

// place sizes and books an accepted decision. It returns nil when the
// bankroll sizes it to zero or the key already holds a bet.
func (s *replayState) place(ctx context.Context, d strategy.Decision) (*models.Bet, error) {
	c := d.Candidate
	key := c.Key(s.loc)
	if _, dup := s.placed[key]; dup {
		return nil, nil
	}
	sizing := s.bank.Size(ctx, c, d.Evaluation)
	if sizing.Stake <= 0 {
		return nil, nil
	}
	if _, err := s.bank.Reserve(ctx, sizing.Stake); err != nil {
		if isLimit(err) {
			return nil, nil
		}
		return nil, err
	}
	s.placed[key] = struct{}{}

	bet := &models.Bet{
		ID:          BetID(key),
		RaceID:      key.RaceID,
		RunnerID:    key.RunnerID,
		BetType:     key.BetType,
		TradingDay:  key.TradingDay,
		Stake:       sizing.Stake,
		Odds:        c.Odds,
		Probability: c.Probability,
		EV:          d.Evaluation.EV,
		Strategy:    d.Evaluation.Strategy,
		Status:      models.BetStatusPending,
		PlacedAt:    s.now,
	}
	s.bets = append(s.bets, bet)
	return bet, nil
}

func (s *replayState) settle(ctx context.Context, bet *models.Bet, result *models.RaceResult) error {
	o := reconcile.Settle(bet, result)
	at := s.now
	bet.Status = o.Status
	bet.VoidReason = o.VoidReason
	bet.Payout = &o.Payout
	bet.ProfitLoss = &o.ProfitLoss
	bet.SettledAt = &at
	return s.bank.Settle(ctx, o.ProfitLoss, o.Status == models.BetStatusWon)
}

func (s *replayState) result(ctx context.Context, riskFreeRate float64) (*Result, error) {
	// a stop engaged by the last settlement has not been observed yet
	if _, err := s.halted(ctx); err != nil {
		return nil, err
	}
	curve := CurveFromBets(s.bets, s.initial)
	res := &Result{
		Bets:       s.bets,
		Equity:     curve,
		KPIs:       CalculateKPIs(s.bets, curve, riskFreeRate),
		Races:      s.races,
		Unscored:   s.unscored,
		HaltedAt:   s.haltedAt,
		HaltReason: s.haltReason,
	}
	if res.Bets == nil {
		res.Bets = []*models.Bet{}
	}
	return res, nil
}
