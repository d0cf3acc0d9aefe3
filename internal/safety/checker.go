// Package safety is the last gate before a bet reaches the executor. It
// claims the idempotency key in a transaction that also checks odds drift
// and the emergency stop. The bankroll hold is taken before that
// transaction opens so the bankroll lock is never awaited while a database
// connection is held.
package safety

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/bankroll"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
	"github.com/yourusername/furlong/internal/strategy"
)

// Decision outcomes
const (
	Approve = "APPROVE"
	Reject  = "REJECT"
)

// Rejection reasons, in the order they are checked
const (
	ReasonDuplicate     = "DUPLICATE"
	ReasonOddsDrift     = "ODDS_DRIFT"
	ReasonEmergencyStop = "EMERGENCY_STOP"
	ReasonStakeLimit    = "STAKE_LIMIT"
)

// OddsSource provides the current market for a race
type OddsSource interface {
	Odds(ctx context.Context, raceID uuid.UUID) (*models.OddsSnapshot, error)
}

// Reserver books stake against the bankroll allowance
type Reserver interface {
	Reserve(ctx context.Context, stake float64) (*bankroll.Reservation, error)
}

// Request is a sized bet awaiting approval
type Request struct {
	Candidate  strategy.Candidate
	Evaluation strategy.Evaluation
	Stake      float64
}

// Decision is the gate's verdict. Rejections are values, not errors.
type Decision struct {
	Outcome     string
	Reason      string
	Detail      string
	Key         models.BetKey
	CurrentOdds float64
	Bet         *models.Bet
	Reservation *bankroll.Reservation
}

// Approved reports whether the bet may be sent to the executor
func (d Decision) Approved() bool {
	return d.Outcome == Approve
}

// rejection carries a policy rejection out of the transaction callback
type rejection struct {
	reason string
	detail string
}

func (r *rejection) Error() string {
	return r.reason + ": " + r.detail
}

// Checker runs the pre-bet checks
type Checker struct {
	bets      repository.BetRepository
	odds      OddsSource
	stop      killswitch.Switch
	bank      Reserver
	tolerance float64
	loc       *time.Location
	audit     *logger.AuditLogger
	publisher notify.Publisher
	log       *logrus.Entry
	now       func() time.Time
}

// NewChecker creates a safety checker
func NewChecker(
	bets repository.BetRepository,
	odds OddsSource,
	stop killswitch.Switch,
	bank Reserver,
	cfg config.SafetyConfig,
	loc *time.Location,
	publisher notify.Publisher,
	log *logrus.Logger,
) *Checker {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{
		bets:      bets,
		odds:      odds,
		stop:      stop,
		bank:      bank,
		tolerance: cfg.OddsDriftTolerance,
		loc:       loc,
		audit:     logger.NewAuditLogger(log),
		publisher: publisher,
		log:       log.WithField("component", "safety"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PreCheck claims the bet key and runs DUPLICATE, ODDS_DRIFT, EMERGENCY_STOP
// and STAKE_LIMIT in that order. On approval the bet exists as PENDING and
// the stake is reserved. On rejection or error nothing is left behind.
func (c *Checker) PreCheck(ctx context.Context, req Request) (Decision, error) {
	cand := req.Candidate
	key := cand.Key(c.loc)
	bet := &models.Bet{
		ID:          uuid.New(),
		RaceID:      key.RaceID,
		RunnerID:    key.RunnerID,
		BetType:     key.BetType,
		TradingDay:  key.TradingDay,
		Stake:       req.Stake,
		Odds:        cand.Odds,
		Probability: cand.Probability,
		EV:          req.Evaluation.EV,
		Strategy:    req.Evaluation.Strategy,
		Status:      models.BetStatusPending,
		PlacedAt:    c.now(),
	}
	decision := Decision{Key: key}

	reservation, holdErr := c.bank.Reserve(ctx, req.Stake)
	if holdErr != nil && !isLimit(holdErr) {
		return Decision{}, fmt.Errorf("failed to reserve stake: %w", holdErr)
	}

	err := c.bets.Reserve(ctx, bet, func(ctx context.Context) error {
		current, err := c.checkDrift(ctx, cand)
		decision.CurrentOdds = current
		if err != nil {
			return err
		}

		st, err := c.stop.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to read emergency stop: %w", err)
		}
		if st.Engaged {
			return &rejection{reason: ReasonEmergencyStop, detail: st.Reason}
		}

		if holdErr != nil {
			return &rejection{reason: ReasonStakeLimit, detail: holdErr.Error()}
		}
		return nil
	})

	var rej *rejection
	switch {
	case err == nil:
		decision.Outcome = Approve
		decision.Bet = bet
		decision.Reservation = reservation
	case errors.Is(err, models.ErrDuplicateKey):
		decision.Outcome, decision.Reason, decision.Detail = Reject, ReasonDuplicate, "a live bet already holds this key"
	case errors.As(err, &rej):
		decision.Outcome, decision.Reason, decision.Detail = Reject, rej.reason, rej.detail
	default:
		if reservation != nil {
			reservation.Release(ctx)
		}
		c.log.WithError(err).WithField("bet_key", key.String()).Error("Safety check failed")
		return Decision{}, err
	}
	if decision.Outcome == Reject && reservation != nil {
		reservation.Release(ctx)
	}

	c.record(ctx, req, decision)
	return decision, nil
}

// isLimit reports whether a hold failure is a policy refusal rather than an outage
func isLimit(err error) bool {
	var corrupt *models.CorruptedStateError
	return errors.Is(err, bankroll.ErrLimitExceeded) || errors.As(err, &corrupt)
}

// checkDrift compares the market now against the odds the runner was scored at
func (c *Checker) checkDrift(ctx context.Context, cand strategy.Candidate) (float64, error) {
	scored := cand.Odds
	if scored <= 0 || math.IsNaN(scored) {
		return 0, &rejection{reason: ReasonOddsDrift, detail: "no scored odds"}
	}
	snap, err := c.odds.Odds(ctx, cand.Race.ID)
	if err != nil {
		return 0, err
	}
	current := snap.Price(cand.Runner.ID, cand.BetType)
	if current <= 0 {
		return 0, &rejection{reason: ReasonOddsDrift, detail: "runner no longer quoted"}
	}
	drift := math.Abs(current-scored) / scored
	if drift > c.tolerance {
		return current, &rejection{
			reason: ReasonOddsDrift,
			detail: fmt.Sprintf("odds moved %.4f from %.2f to %.2f, tolerance %.4f", drift, scored, current, c.tolerance),
		}
	}
	return current, nil
}

func (c *Checker) record(ctx context.Context, req Request, d Decision) {
	c.audit.LogBetDecision(d.Key.String(), d.Outcome, d.Reason, req.Stake, req.Candidate.Odds, d.CurrentOdds)
	metrics.RecordSafetyDecision(d.Outcome, d.Reason)

	payload := map[string]interface{}{
		"stake":        req.Stake,
		"scored_odds":  req.Candidate.Odds,
		"current_odds": d.CurrentOdds,
		"ev":           req.Evaluation.EV,
		"strategy":     req.Evaluation.Strategy,
	}
	event := notify.EventBetApproved
	if !d.Approved() {
		event = notify.EventBetRejected
		payload["reason"] = d.Reason
		payload["detail"] = d.Detail
	} else {
		payload["bet_id"] = d.Bet.ID.String()
	}
	c.publisher.Publish(ctx, notify.NewEvent(event, d.Key.String(), payload))
}

// Abort voids an approved bet whose execution failed and returns its stake
// to the daily allowance.
func (c *Checker) Abort(ctx context.Context, d Decision, cause error) error {
	if !d.Approved() || d.Bet == nil {
		return nil
	}
	if d.Reservation != nil {
		defer d.Reservation.Release(ctx)
	}

	changed, err := c.bets.Settle(ctx, repository.Settlement{
		BetID:      d.Bet.ID,
		Status:     models.BetStatusVoid,
		VoidReason: models.VoidReasonExecutorFailed,
		SettledAt:  c.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to void bet %s: %w", d.Bet.ID, err)
	}
	if changed {
		d.Bet.Status = models.BetStatusVoid
		d.Bet.VoidReason = models.VoidReasonExecutorFailed
		c.audit.LogBetVoided(d.Bet.ID.String(), models.VoidReasonExecutorFailed, cause)
		metrics.RecordBetVoided(models.VoidReasonExecutorFailed)
		c.publisher.Publish(ctx, notify.NewEvent(notify.EventBetVoided, d.Key.String(), map[string]interface{}{
			"bet_id": d.Bet.ID.String(),
			"reason": models.VoidReasonExecutorFailed,
		}))
	}
	return nil
}
