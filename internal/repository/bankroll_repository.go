package repository

import (
	"context"
	"fmt"

	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/models"
)

type bankrollRepository struct {
	db database.Store
}

// NewBankrollRepository creates the single-row bankroll repository
func NewBankrollRepository(db database.Store) BankrollRepository {
	return &bankrollRepository{db: db}
}

// Load returns the stored snapshot or ErrNotFound before the first save
func (r *bankrollRepository) Load(ctx context.Context) (*models.BankrollState, error) {
	s := &models.BankrollState{}
	err := r.db.QueryRow(ctx, `
		SELECT balance, peak, staked_today, loss_today, consecutive_losses, last_reset, updated_at
		FROM bankroll_state WHERE id = 1`).Scan(
		&s.Balance, &s.Peak, &s.StakedToday, &s.LossToday, &s.ConsecutiveLosses, &s.LastReset, &s.UpdatedAt,
	)
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bankroll: %w", err)
	}
	s.UpdatedAt = utc(s.UpdatedAt)
	return s, nil
}

// Save upserts the snapshot
func (r *bankrollRepository) Save(ctx context.Context, s *models.BankrollState) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO bankroll_state (id, balance, peak, staked_today, loss_today, consecutive_losses, last_reset, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			balance = excluded.balance,
			peak = excluded.peak,
			staked_today = excluded.staked_today,
			loss_today = excluded.loss_today,
			consecutive_losses = excluded.consecutive_losses,
			last_reset = excluded.last_reset,
			updated_at = excluded.updated_at`,
		s.Balance, s.Peak, s.StakedToday, s.LossToday, s.ConsecutiveLosses, s.LastReset, utc(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save bankroll: %w", err)
	}
	return nil
}
