// Package reconcile settles pending bets from official race results and
// forwards the profit or loss to the bankroll.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
)

// ResultSource provides official race results
type ResultSource interface {
	Result(ctx context.Context, raceID uuid.UUID) (*models.RaceResult, error)
}

// Bankroll receives realised profit and loss
type Bankroll interface {
	Settle(ctx context.Context, pnl float64, won bool) error
}

// Outcome is how one bet settles against a result
type Outcome struct {
	Status     models.BetStatus
	Payout     float64
	ProfitLoss float64
	VoidReason string
}

// Settle decides a bet against an official result. Payouts are stake times
// the odds taken, rounded to pennies.
func Settle(bet *models.Bet, result *models.RaceResult) Outcome {
	if result.IsScratched(bet.RunnerID) {
		return Outcome{Status: models.BetStatusVoid, VoidReason: models.VoidReasonScratched}
	}

	pos, finished := result.PositionOf(bet.RunnerID)
	won := false
	switch bet.BetType {
	case models.BetTypeWin:
		won = finished && pos == 1
	case models.BetTypePlace:
		places := models.PlacesPaid(result.Starters())
		if places == 0 {
			// too few starters left for place terms
			return Outcome{Status: models.BetStatusVoid, VoidReason: models.VoidReasonNoPlaceTerms}
		}
		won = finished && pos <= places
	}

	stake := decimal.NewFromFloat(bet.Stake)
	if !won {
		return Outcome{Status: models.BetStatusLost, ProfitLoss: stake.Neg().InexactFloat64()}
	}
	payout := stake.Mul(decimal.NewFromFloat(bet.Odds)).Round(2)
	return Outcome{
		Status:     models.BetStatusWon,
		Payout:     payout.InexactFloat64(),
		ProfitLoss: payout.Sub(stake).InexactFloat64(),
	}
}

// Summary counts what a reconciliation run changed
type Summary struct {
	Races      int     `json:"races"`
	Settled    int     `json:"settled"`
	Won        int     `json:"won"`
	Lost       int     `json:"lost"`
	Voided     int     `json:"voided"`
	Unchanged  int     `json:"unchanged"`
	Skipped    int     `json:"skipped"`
	ProfitLoss float64 `json:"profit_loss"`

	// Unapplied lists bets settled in the store whose P&L the bankroll
	// refused; they need a manual bankroll adjustment
	Unapplied []uuid.UUID `json:"unapplied,omitempty"`
}

func (s *Summary) add(o Summary) {
	s.Races += o.Races
	s.Settled += o.Settled
	s.Won += o.Won
	s.Lost += o.Lost
	s.Voided += o.Voided
	s.Unchanged += o.Unchanged
	s.Skipped += o.Skipped
	s.ProfitLoss += o.ProfitLoss
	s.Unapplied = append(s.Unapplied, o.Unapplied...)
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithRaceRepository stores each official result it settles from
func WithRaceRepository(races repository.RaceRepository) Option {
	return func(r *Reconciler) { r.races = races }
}

// WithPublisher sets the event publisher
func WithPublisher(p notify.Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithClock overrides the settlement timestamp source
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// Reconciler settles bets. Settlement is a conditional PENDING update, so
// running it twice for the same result changes nothing the second time.
type Reconciler struct {
	bets      repository.BetRepository
	results   ResultSource
	bank      Bankroll
	races     repository.RaceRepository
	publisher notify.Publisher
	audit     *logger.AuditLogger
	log       *logrus.Entry
	clock     func() time.Time
}

// New creates a reconciler
func New(bets repository.BetRepository, results ResultSource, bank Bankroll, log *logrus.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		bets:      bets,
		results:   results,
		bank:      bank,
		publisher: notify.Nop{},
		audit:     logger.NewAuditLogger(log),
		log:       log.WithField("component", "reconcile"),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile settles every PENDING bet on the result's race. Unofficial
// results are skipped.
func (r *Reconciler) Reconcile(ctx context.Context, result *models.RaceResult) (Summary, error) {
	sum := Summary{Races: 1}
	if !result.Official {
		sum.Skipped = 1
		r.log.WithField("race_id", result.RaceID).Debug("Skipping unofficial result")
		return sum, nil
	}

	if r.races != nil {
		if err := r.races.SaveResult(ctx, result); err != nil {
			r.log.WithError(err).WithField("race_id", result.RaceID).Warn("Failed to store race result")
		}
	}

	bets, err := r.bets.GetByRaceID(ctx, result.RaceID)
	if err != nil {
		return sum, fmt.Errorf("failed to load bets for race %s: %w", result.RaceID, err)
	}

	settledAt := r.clock()
	for _, bet := range bets {
		if bet.Status != models.BetStatusPending {
			continue
		}
		o := Settle(bet, result)
		changed, err := r.bets.Settle(ctx, repository.Settlement{
			BetID:      bet.ID,
			Status:     o.Status,
			Payout:     o.Payout,
			ProfitLoss: o.ProfitLoss,
			VoidReason: o.VoidReason,
			SettledAt:  settledAt,
		})
		if err != nil {
			return sum, fmt.Errorf("failed to settle bet %s: %w", bet.ID, err)
		}
		if !changed {
			sum.Unchanged++
			continue
		}

		if err := r.bank.Settle(ctx, o.ProfitLoss, o.Status == models.BetStatusWon); err != nil {
			r.flagUnapplied(ctx, bet, o, err, &sum)
			return sum, fmt.Errorf("failed to apply bet %s to bankroll: %w", bet.ID, err)
		}
		r.record(ctx, bet, o, &sum)
	}

	r.log.WithFields(logrus.Fields{
		"race_id":     result.RaceID,
		"settled":     sum.Settled,
		"unchanged":   sum.Unchanged,
		"profit_loss": sum.ProfitLoss,
	}).Info("Race reconciled")
	return sum, nil
}

func (r *Reconciler) record(ctx context.Context, bet *models.Bet, o Outcome, sum *Summary) {
	sum.Settled++
	sum.ProfitLoss += o.ProfitLoss
	switch o.Status {
	case models.BetStatusWon:
		sum.Won++
	case models.BetStatusLost:
		sum.Lost++
	case models.BetStatusVoid:
		sum.Voided++
		metrics.RecordBetVoided(o.VoidReason)
	}
	metrics.RecordBetSettled(string(o.Status))
	r.audit.LogBetSettlement(bet.ID.String(), bet.RaceID.String(), string(o.Status), bet.Stake, o.Payout, o.ProfitLoss)
	r.publisher.Publish(ctx, notify.NewEvent(notify.EventBetSettled, bet.Key().String(), map[string]interface{}{
		"bet_id":      bet.ID.String(),
		"status":      o.Status,
		"payout":      o.Payout,
		"profit_loss": o.ProfitLoss,
		"void_reason": o.VoidReason,
	}))
}

// flagUnapplied reports a bet that is settled in the store but missing from
// the bankroll. The one-way status guard means no later run will retry it.
func (r *Reconciler) flagUnapplied(ctx context.Context, bet *models.Bet, o Outcome, cause error, sum *Summary) {
	sum.Unapplied = append(sum.Unapplied, bet.ID)
	r.log.WithError(cause).WithFields(logrus.Fields{
		"bet_id":      bet.ID,
		"race_id":     bet.RaceID,
		"status":      o.Status,
		"profit_loss": o.ProfitLoss,
	}).Error("Bet settled but its P&L was not applied to the bankroll; manual repair required")
	r.publisher.Publish(ctx, notify.NewEvent(notify.EventBankrollRepair, bet.Key().String(), map[string]interface{}{
		"bet_id":      bet.ID.String(),
		"status":      o.Status,
		"profit_loss": o.ProfitLoss,
		"error":       cause.Error(),
	}))
}

// ReconcilePending sweeps every race holding PENDING bets. Races without a
// result yet are left for the next sweep; a failing race does not stop the others.
func (r *Reconciler) ReconcilePending(ctx context.Context) (Summary, error) {
	pending, err := r.bets.GetPending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load pending bets: %w", err)
	}

	seen := make(map[uuid.UUID]struct{})
	var raceIDs []uuid.UUID
	for _, b := range pending {
		if _, ok := seen[b.RaceID]; !ok {
			seen[b.RaceID] = struct{}{}
			raceIDs = append(raceIDs, b.RaceID)
		}
	}
	sort.Slice(raceIDs, func(i, j int) bool { return raceIDs[i].String() < raceIDs[j].String() })

	var total Summary
	var errs []error
	for _, id := range raceIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		result, err := r.results.Result(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			total.Skipped++
			continue
		}
		if err != nil {
			r.log.WithError(err).WithField("race_id", id).Warn("Result unavailable")
			errs = append(errs, err)
			continue
		}
		sum, err := r.Reconcile(ctx, result)
		total.add(sum)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
