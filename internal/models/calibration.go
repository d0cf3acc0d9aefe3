package models

import (
	"time"

	"github.com/google/uuid"
)

// CalibrationMethod identifies the score-to-probability mapping
type CalibrationMethod string

const (
	CalibrationPlatt      CalibrationMethod = "PLATT"
	CalibrationIsotonic   CalibrationMethod = "ISOTONIC"
	CalibrationStratified CalibrationMethod = "STRATIFIED"
)

// CalibrationParams holds fitted parameters for any method. A stratified
// model keeps its fallback at the top level and one entry per stratum.
type CalibrationParams struct {
	A          float64                      `json:"a,omitempty"`
	B          float64                      `json:"b,omitempty"`
	Thresholds []float64                    `json:"thresholds,omitempty"`
	Values     []float64                    `json:"values,omitempty"`
	Base       CalibrationMethod            `json:"base,omitempty"`
	Strata     map[string]CalibrationParams `json:"strata,omitempty"`
}

// CalibrationModel is a versioned, immutable fitted calibration
type CalibrationModel struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	Version     int               `db:"version" json:"version"`
	Method      CalibrationMethod `db:"method" json:"method"`
	Params      CalibrationParams `db:"params" json:"params"`
	TrainedFrom time.Time         `db:"trained_from" json:"trained_from"`
	TrainedTo   time.Time         `db:"trained_to" json:"trained_to"`
	SampleSize  int               `db:"sample_size" json:"sample_size"`
	BrierScore  float64           `db:"brier_score" json:"brier_score"`
	ECE         float64           `db:"ece" json:"ece"`
	Active      bool              `db:"active" json:"active"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// IsActive checks if the model is currently active
func (m *CalibrationModel) IsActive() bool {
	return m.Active
}
