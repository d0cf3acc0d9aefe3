package metrics

import "github.com/prometheus/client_golang/prometheus"

// Backtest metrics
var (
	BacktestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backtest_runs_total",
		Help:      "Total number of backtest runs by method and status",
	}, []string{"method", "status"})
	BacktestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backtest_duration_seconds",
		Help:      "Duration of backtest runs in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	})
	BacktestROI = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backtest_roi",
		Help:      "ROI of the most recent backtest run by method",
	}, []string{"method"})
)

// RecordBacktestRun records a backtest run event.
// method is one of "replay", "walk_forward", "monte_carlo".
func RecordBacktestRun(method, status string, durationSeconds float64) {
	BacktestRunsTotal.WithLabelValues(method, status).Inc()
	BacktestDuration.Observe(durationSeconds)
}

// RecordBacktestROI records the ROI of a completed run.
func RecordBacktestROI(method string, roi float64) {
	BacktestROI.WithLabelValues(method).Set(roi)
}
