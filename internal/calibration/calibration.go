// Package calibration maps raw composite scores to win probabilities. Models
// are fit offline, stored as immutable versions and applied online.
package calibration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yourusername/furlong/internal/models"
)

// Sample is one observed (raw score, outcome) pair.
type Sample struct {
	Score   float64
	Outcome bool
	At      time.Time
	Stratum string
}

// Calibrator maps a raw score to a probability in [0, 1]. Predict is
// non-decreasing in the raw score.
type Calibrator interface {
	Predict(raw float64) float64
	Method() models.CalibrationMethod
	Params() models.CalibrationParams
}

// Options controls fitting and evaluation.
type Options struct {
	MinSamples    int
	MaxIterations int
	Bins          int

	// STRATIFIED only
	StratifiedBase    models.CalibrationMethod
	MinStratumSamples int
}

// DefaultOptions mirrors the shipped configuration defaults.
func DefaultOptions() Options {
	return Options{
		MinSamples:        200,
		MaxIterations:     100,
		Bins:              10,
		StratifiedBase:    models.CalibrationPlatt,
		MinStratumSamples: 50,
	}
}

// Fit is a calibrator together with its in-sample quality.
type Fit struct {
	Calibrator Calibrator
	Brier      float64
	ECE        float64
	N          int
}

// ConvergenceError is returned when the Platt optimiser fails to converge.
type ConvergenceError struct {
	Iterations int
	Gradient   float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("platt scaling did not converge after %d iterations (gradient %.3g)", e.Iterations, e.Gradient)
}

// ParseMethod normalises a configured method name.
func ParseMethod(s string) (models.CalibrationMethod, error) {
	switch m := models.CalibrationMethod(strings.ToUpper(s)); m {
	case models.CalibrationPlatt, models.CalibrationIsotonic, models.CalibrationStratified:
		return m, nil
	default:
		return "", fmt.Errorf("unknown calibration method %q", s)
	}
}

// FitSamples fits the requested method and scores it in-sample.
func FitSamples(method models.CalibrationMethod, samples []Sample, opts Options) (*Fit, error) {
	if len(samples) < opts.MinSamples || len(samples) == 0 {
		return nil, &models.InsufficientDataError{What: "calibration", Have: len(samples), Need: max(opts.MinSamples, 1)}
	}
	for _, s := range samples {
		if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
			return nil, fmt.Errorf("calibration sample has non-finite score")
		}
	}

	var (
		cal Calibrator
		err error
	)
	switch method {
	case models.CalibrationPlatt:
		cal, err = FitPlatt(samples, opts.MaxIterations)
	case models.CalibrationIsotonic:
		cal, err = FitIsotonic(samples)
	case models.CalibrationStratified:
		base := opts.StratifiedBase
		if base == "" {
			base = models.CalibrationPlatt
		}
		cal, err = FitStratified(base, samples, opts.MinStratumSamples, opts.MaxIterations)
	default:
		return nil, fmt.Errorf("unknown calibration method %q", method)
	}
	if err != nil {
		return nil, err
	}

	probs := make([]float64, len(samples))
	outcomes := make([]bool, len(samples))
	for i, s := range samples {
		probs[i] = predictSample(cal, s)
		outcomes[i] = s.Outcome
	}
	bins := opts.Bins
	if bins < 2 {
		bins = 10
	}
	return &Fit{
		Calibrator: cal,
		Brier:      BrierScore(probs, outcomes),
		ECE:        ExpectedCalibrationError(probs, outcomes, bins),
		N:          len(samples),
	}, nil
}

// FromModel rebuilds the calibrator stored in a model version.
func FromModel(m *models.CalibrationModel) (Calibrator, error) {
	switch m.Method {
	case models.CalibrationPlatt:
		return &Platt{A: m.Params.A, B: m.Params.B}, nil
	case models.CalibrationIsotonic:
		if len(m.Params.Thresholds) == 0 || len(m.Params.Thresholds) != len(m.Params.Values) {
			return nil, fmt.Errorf("isotonic model %d has malformed steps", m.Version)
		}
		return &Isotonic{Thresholds: m.Params.Thresholds, Values: m.Params.Values}, nil
	case models.CalibrationStratified:
		return stratifiedFromParams(m)
	default:
		return nil, fmt.Errorf("model %d has unknown method %q", m.Version, m.Method)
	}
}

func predictSample(cal Calibrator, s Sample) float64 {
	if sp, ok := cal.(StratumPredictor); ok {
		return sp.PredictFor(s.Score, s.Stratum)
	}
	return cal.Predict(s.Score)
}
