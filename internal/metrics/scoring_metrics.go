package metrics

import "github.com/prometheus/client_golang/prometheus"

// Scoring and calibration metrics
var (
	RunnersScoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runners_scored_total",
		Help:      "Total number of runners scored",
	})
	FactorFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "factor_failures_total",
		Help:      "Factor evaluations that failed and contributed zero",
	}, []string{"factor"})
	CandidatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strategy_candidates_total",
		Help:      "EV candidates by strategy and outcome",
	}, []string{"strategy", "outcome"})
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "race_scoring_duration_seconds",
		Help:      "Duration of scoring one race in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	CalibrationQuality = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calibration_quality",
		Help:      "Quality metrics of the most recently trained calibration model",
	}, []string{"method", "metric"})
)

// RecordRunnerScored records one runner scored.
func RecordRunnerScored() {
	RunnersScoredTotal.Inc()
}

// RecordFactorFailure records a factor evaluation failure.
func RecordFactorFailure(factor string) {
	FactorFailuresTotal.WithLabelValues(factor).Inc()
}

// RecordCandidate records an EV strategy outcome.
func RecordCandidate(strategy string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	CandidatesTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordScoringDuration records the time spent scoring a race.
func RecordScoringDuration(durationSeconds float64) {
	ScoringDuration.Observe(durationSeconds)
}

// RecordCalibrationQuality records Brier score and ECE for a fitted model.
func RecordCalibrationQuality(method string, brier, ece float64) {
	CalibrationQuality.WithLabelValues(method, "brier").Set(brier)
	CalibrationQuality.WithLabelValues(method, "ece").Set(ece)
}
