package models

import (
	"fmt"
	"math"
	"time"
)

// BankrollState is the persisted bankroll snapshot
type BankrollState struct {
	Balance           float64   `db:"balance" json:"balance"`
	Peak              float64   `db:"peak" json:"peak"`
	StakedToday       float64   `db:"staked_today" json:"staked_today"`
	LossToday         float64   `db:"loss_today" json:"loss_today"`
	ConsecutiveLosses int       `db:"consecutive_losses" json:"consecutive_losses"`
	LastReset         string    `db:"last_reset" json:"last_reset"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Drawdown returns (peak - balance) / peak
func (s BankrollState) Drawdown() float64 {
	if s.Peak <= 0 {
		return 0
	}
	return (s.Peak - s.Balance) / s.Peak
}

// Validate checks the bankroll invariants
func (s BankrollState) Validate() error {
	for name, v := range map[string]float64{"balance": s.Balance, "peak": s.Peak, "staked_today": s.StakedToday} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &CorruptedStateError{Reason: fmt.Sprintf("%s is not finite", name)}
		}
	}
	if s.Balance < 0 {
		return &CorruptedStateError{Reason: fmt.Sprintf("negative balance %.2f", s.Balance)}
	}
	if s.StakedToday < 0 {
		return &CorruptedStateError{Reason: fmt.Sprintf("negative daily stake %.2f", s.StakedToday)}
	}
	if dd := s.Drawdown(); dd < 0 || dd > 1 {
		return &CorruptedStateError{Reason: fmt.Sprintf("drawdown %.4f outside [0,1]", dd)}
	}
	return nil
}
