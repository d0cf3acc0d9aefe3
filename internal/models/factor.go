package models

import (
	"time"

	"github.com/google/uuid"
)

// FactorStatus is the lifecycle state of a factor rule
type FactorStatus string

const (
	FactorStatusDraft      FactorStatus = "DRAFT"
	FactorStatusTesting    FactorStatus = "TESTING"
	FactorStatusApproved   FactorStatus = "APPROVED"
	FactorStatusDeprecated FactorStatus = "DEPRECATED"
)

// FactorRule is a named, weighted scoring expression over runner attributes
type FactorRule struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	Name          string       `db:"name" json:"name"`
	Description   string       `db:"description" json:"description"`
	Expression    string       `db:"expression" json:"expression"`
	Category      string       `db:"category" json:"category"`
	Weight        float64      `db:"weight" json:"weight"`
	Status        FactorStatus `db:"status" json:"status"`
	MinSampleSize int          `db:"min_sample_size" json:"min_sample_size"`
	TrainingFrom  *time.Time   `db:"training_from" json:"training_from,omitempty"`
	TrainingTo    *time.Time   `db:"training_to" json:"training_to,omitempty"`
	Stats         FactorStats  `db:"stats" json:"stats"`
	CreatedBy     string       `db:"created_by" json:"created_by"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// FactorStats is the rolling performance of a factor
type FactorStats struct {
	SampleSize      int        `json:"sample_size"`
	HitRate         float64    `json:"hit_rate"`
	ROI             float64    `json:"roi"`
	ValidationScore float64    `json:"validation_score"`
	DecayRate       float64    `json:"decay_rate"`
	EvaluatedAt     *time.Time `json:"evaluated_at,omitempty"`
}

// IsActive reports whether the rule takes part in live scoring
func (f *FactorRule) IsActive() bool {
	return f.Status == FactorStatusApproved
}

// TrainedBefore reports whether the rule's training period ended before t.
// Rules without a recorded training period are treated as usable.
func (f *FactorRule) TrainedBefore(t time.Time) bool {
	return f.TrainingTo == nil || f.TrainingTo.Before(t)
}

// FactorChange is an append-only audit record of a factor mutation
type FactorChange struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	FactorID   uuid.UUID    `db:"factor_id" json:"factor_id"`
	Action     string       `db:"action" json:"action"`
	FromStatus FactorStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   FactorStatus `db:"to_status" json:"to_status,omitempty"`
	OldWeight  *float64     `db:"old_weight" json:"old_weight,omitempty"`
	NewWeight  *float64     `db:"new_weight" json:"new_weight,omitempty"`
	Reason     string       `db:"reason" json:"reason"`
	ChangedBy  string       `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time    `db:"changed_at" json:"changed_at"`
}
