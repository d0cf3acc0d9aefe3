package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

const betColumns = `id, race_id, runner_id, bet_type, trading_day, stake, odds, probability, ev, strategy,
	status, void_reason, payout, profit_loss, placed_at, settled_at`

type betRepository struct {
	db database.Store
}

// NewBetRepository creates a bet repository
func NewBetRepository(db database.Store) BetRepository {
	return &betRepository{db: db}
}

// Reserve inserts a PENDING bet and runs check in the same transaction.
// The partial unique index on the bet key turns a concurrent twin into a no-op insert.
func (r *betRepository) Reserve(ctx context.Context, bet *models.Bet, check func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		n, err := r.db.Exec(ctx, `
			INSERT INTO bets (id, race_id, runner_id, bet_type, trading_day, stake, odds, probability, ev,
			                  strategy, status, void_reason, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '', $12)
			ON CONFLICT DO NOTHING`,
			bet.ID, bet.RaceID, bet.RunnerID, bet.BetType, bet.TradingDay, bet.Stake, bet.Odds,
			bet.Probability, bet.EV, bet.Strategy, models.BetStatusPending, utc(bet.PlacedAt),
		)
		if database.IsUniqueViolation(err) || (err == nil && n == 0) {
			return fmt.Errorf("bet %s: %w", bet.Key(), models.ErrDuplicateKey)
		}
		if err != nil {
			return fmt.Errorf("failed to insert bet: %w", err)
		}
		bet.Status = models.BetStatusPending

		if check != nil {
			return check(ctx)
		}
		return nil
	})
}

// GetByID retrieves a bet by ID
func (r *betRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	bet, err := scanBet(r.db.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return bet, nil
}

// GetByRaceID retrieves all bets for a race
func (r *betRepository) GetByRaceID(ctx context.Context, raceID uuid.UUID) ([]*models.Bet, error) {
	return r.list(ctx, `SELECT `+betColumns+` FROM bets WHERE race_id = $1 ORDER BY placed_at, id`, raceID)
}

// GetPending retrieves every unsettled bet
func (r *betRepository) GetPending(ctx context.Context) ([]*models.Bet, error) {
	return r.list(ctx, `SELECT `+betColumns+` FROM bets WHERE status = $1 ORDER BY placed_at, id`, models.BetStatusPending)
}

// GetSettled retrieves bets settled in [start, end)
func (r *betRepository) GetSettled(ctx context.Context, start, end time.Time) ([]*models.Bet, error) {
	return r.list(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE settled_at IS NOT NULL AND settled_at >= $1 AND settled_at < $2
		ORDER BY settled_at, id`, utc(start), utc(end))
}

// Settle moves a PENDING bet to its terminal status exactly once
func (r *betRepository) Settle(ctx context.Context, s Settlement) (bool, error) {
	if !s.Status.IsTerminal() {
		return false, fmt.Errorf("settle bet %s as %s: %w", s.BetID, s.Status, models.ErrInvalidTransition)
	}

	n, err := r.db.Exec(ctx, `
		UPDATE bets
		SET status = $2, payout = $3, profit_loss = $4, void_reason = $5, settled_at = $6
		WHERE id = $1 AND status = $7`,
		s.BetID, s.Status, s.Payout, s.ProfitLoss, s.VoidReason, utc(s.SettledAt), models.BetStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle bet: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, s.BetID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *betRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Bet, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bets: %w", err)
	}
	defer rows.Close()

	var bets []*models.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bet: %w", err)
		}
		bets = append(bets, bet)
	}
	return bets, rows.Err()
}

func scanBet(row database.Row) (*models.Bet, error) {
	b := &models.Bet{}
	if err := row.Scan(&b.ID, &b.RaceID, &b.RunnerID, &b.BetType, &b.TradingDay, &b.Stake, &b.Odds,
		&b.Probability, &b.EV, &b.Strategy, &b.Status, &b.VoidReason, &b.Payout, &b.ProfitLoss,
		&b.PlacedAt, &b.SettledAt); err != nil {
		return nil, err
	}
	b.PlacedAt, b.SettledAt = utc(b.PlacedAt), utcPtr(b.SettledAt)
	return b, nil
}
