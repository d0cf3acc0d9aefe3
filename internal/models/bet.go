package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BetType represents the market a bet is struck on
type BetType string

const (
	BetTypeWin   BetType = "WIN"
	BetTypePlace BetType = "PLACE"
)

// BetStatus represents the settlement status of a bet
type BetStatus string

const (
	BetStatusPending BetStatus = "PENDING"
	BetStatusWon     BetStatus = "WON"
	BetStatusLost    BetStatus = "LOST"
	BetStatusVoid    BetStatus = "VOID"
)

// IsTerminal reports whether no further transition is allowed
func (s BetStatus) IsTerminal() bool {
	return s == BetStatusWon || s == BetStatusLost || s == BetStatusVoid
}

// Void reasons
const (
	VoidReasonScratched      = "SCRATCHED"
	VoidReasonExecutorFailed = "EXECUTOR_FAILED"
	VoidReasonNoPlaceTerms   = "NO_PLACE_TERMS"
)

// Bet represents a betting decision that passed the safety gate
type Bet struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RaceID      uuid.UUID  `db:"race_id" json:"race_id"`
	RunnerID    uuid.UUID  `db:"runner_id" json:"runner_id"`
	BetType     BetType    `db:"bet_type" json:"bet_type"`
	TradingDay  string     `db:"trading_day" json:"trading_day"`
	Stake       float64    `db:"stake" json:"stake"`
	Odds        float64    `db:"odds" json:"odds"`
	Probability float64    `db:"probability" json:"probability"`
	EV          float64    `db:"ev" json:"ev"`
	Strategy    string     `db:"strategy" json:"strategy"`
	Status      BetStatus  `db:"status" json:"status"`
	VoidReason  string     `db:"void_reason" json:"void_reason,omitempty"`
	Payout      *float64   `db:"payout" json:"payout,omitempty"`
	ProfitLoss  *float64   `db:"profit_loss" json:"profit_loss,omitempty"`
	PlacedAt    time.Time  `db:"placed_at" json:"placed_at"`
	SettledAt   *time.Time `db:"settled_at" json:"settled_at,omitempty"`
}

// BetKey is the idempotency key: one non-void bet per runner, type and trading day
type BetKey struct {
	RaceID     uuid.UUID
	RunnerID   uuid.UUID
	BetType    BetType
	TradingDay string
}

func (k BetKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.RaceID, k.RunnerID, k.BetType, k.TradingDay)
}

// Key returns the bet's idempotency key
func (b *Bet) Key() BetKey {
	return BetKey{RaceID: b.RaceID, RunnerID: b.RunnerID, BetType: b.BetType, TradingDay: b.TradingDay}
}

// IsSettled checks if the bet has reached a terminal status
func (b *Bet) IsSettled() bool {
	return b.Status.IsTerminal() && b.SettledAt != nil
}

// GetProfitLoss returns realised profit or loss, 0 while pending
func (b *Bet) GetProfitLoss() float64 {
	if b.ProfitLoss == nil {
		return 0
	}
	return *b.ProfitLoss
}

// TradingDay returns the calendar date of t in the bankroll timezone
func TradingDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
