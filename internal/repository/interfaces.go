package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/furlong/internal/models"
)

// FactorFilter narrows factor listings
type FactorFilter struct {
	Status *models.FactorStatus
}

// FactorRepository defines persistence for factor rules and their audit log
type FactorRepository interface {
	// Create inserts a rule and its creation record. Returns ErrDuplicateKey on a name clash.
	Create(ctx context.Context, rule *models.FactorRule, change *models.FactorChange) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FactorRule, error)
	GetByName(ctx context.Context, name string) (*models.FactorRule, error)
	List(ctx context.Context, filter FactorFilter) ([]*models.FactorRule, error)
	// Update saves the rule only if its stored status still equals expected.
	// Returns ErrInvalidTransition when a concurrent change won.
	Update(ctx context.Context, rule *models.FactorRule, expected models.FactorStatus, change *models.FactorChange) error
	Changes(ctx context.Context, factorID uuid.UUID) ([]*models.FactorChange, error)
}

// ScoreRepository defines insert-only persistence for runner scores
type ScoreRepository interface {
	Insert(ctx context.Context, score *models.RunnerScore) error
	InsertBatch(ctx context.Context, scores []*models.RunnerScore) error
	GetByRaceID(ctx context.Context, raceID uuid.UUID) ([]*models.RunnerScore, error)
}

// CalibrationRepository defines persistence for versioned calibration models
type CalibrationRepository interface {
	// Create assigns the next version number and inserts the model inactive.
	Create(ctx context.Context, model *models.CalibrationModel) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CalibrationModel, error)
	GetByVersion(ctx context.Context, version int) (*models.CalibrationModel, error)
	GetActive(ctx context.Context) (*models.CalibrationModel, error)
	List(ctx context.Context) ([]*models.CalibrationModel, error)
	// Activate makes id the single active model in one transaction.
	Activate(ctx context.Context, id uuid.UUID) error
}

// BetRepository defines persistence for bets
type BetRepository interface {
	// Reserve inserts bet as PENDING and runs check inside the same transaction.
	// ErrDuplicateKey is returned when a non-void bet already holds the key.
	// Any error from check rolls the insert back and is returned unchanged.
	Reserve(ctx context.Context, bet *models.Bet, check func(ctx context.Context) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error)
	GetByRaceID(ctx context.Context, raceID uuid.UUID) ([]*models.Bet, error)
	GetPending(ctx context.Context) ([]*models.Bet, error)
	GetSettled(ctx context.Context, start, end time.Time) ([]*models.Bet, error)
	// Settle moves a PENDING bet to a terminal status. It reports false when
	// the bet was no longer PENDING, which makes settlement idempotent.
	Settle(ctx context.Context, settlement Settlement) (bool, error)
}

// Settlement is a one-way PENDING to terminal status update
type Settlement struct {
	BetID      uuid.UUID
	Status     models.BetStatus
	Payout     float64
	ProfitLoss float64
	VoidReason string
	SettledAt  time.Time
}

// BankrollRepository persists the single bankroll snapshot
type BankrollRepository interface {
	Load(ctx context.Context) (*models.BankrollState, error)
	Save(ctx context.Context, state *models.BankrollState) error
}

// RaceRepository persists race cards and official results
type RaceRepository interface {
	Save(ctx context.Context, race *models.Race) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Race, error)
	GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Race, error)
	SaveResult(ctx context.Context, result *models.RaceResult) error
	GetResult(ctx context.Context, raceID uuid.UUID) (*models.RaceResult, error)
	// Historical returns races in [start, end) that have an official result, oldest first.
	Historical(ctx context.Context, start, end time.Time) ([]models.HistoricalRace, error)
}
