// Package metrics provides centralized Prometheus metrics registry for the betting pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "furlong"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	SafetyDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "safety_decisions_total",
		Help:      "Pre-bet safety decisions by outcome and reason",
	}, []string{"decision", "reason"})
	BetsSettledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bets_settled_total",
		Help:      "Total number of bets settled by status",
	}, []string{"status"})
	BetsVoidedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bets_voided_total",
		Help:      "Total number of bets voided by reason",
	}, []string{"reason"})
	EmergencyStopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emergency_stops_total",
		Help:      "Total number of emergency stop engagements by reason",
	}, []string{"reason"})
)

// Gauge metrics
var (
	CurrentBankroll = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bankroll_balance",
		Help:      "Current bankroll in currency units",
	})
	BankrollDrawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bankroll_drawdown",
		Help:      "Current drawdown from peak as a fraction",
	})
	DailyStaked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bankroll_daily_staked",
		Help:      "Cumulative stake committed in the current trading day",
	})
	EmergencyStopActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "emergency_stop_active",
		Help:      "1 when the emergency stop is engaged",
	})
)

// Histogram metrics
var (
	BetExecutionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bet_execution_latency_seconds",
		Help:      "Latency of bet executor calls in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(SafetyDecisionsTotal)
		registry.MustRegister(BetsSettledTotal)
		registry.MustRegister(BetsVoidedTotal)
		registry.MustRegister(EmergencyStopsTotal)

		registry.MustRegister(CurrentBankroll)
		registry.MustRegister(BankrollDrawdown)
		registry.MustRegister(DailyStaked)
		registry.MustRegister(EmergencyStopActive)

		registry.MustRegister(BetExecutionLatency)

		// Scoring metrics
		registry.MustRegister(RunnersScoredTotal)
		registry.MustRegister(FactorFailuresTotal)
		registry.MustRegister(CandidatesTotal)
		registry.MustRegister(ScoringDuration)
		registry.MustRegister(CalibrationQuality)

		// Backtest metrics
		registry.MustRegister(BacktestRunsTotal)
		registry.MustRegister(BacktestDuration)
		registry.MustRegister(BacktestROI)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordSafetyDecision records a pre-bet decision. reason is empty on approval.
func RecordSafetyDecision(decision, reason string) {
	if reason == "" {
		reason = "none"
	}
	SafetyDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// RecordBetSettled records a terminal bet status.
func RecordBetSettled(status string) {
	BetsSettledTotal.WithLabelValues(status).Inc()
}

// RecordBetVoided records a bet voided outside reconciliation.
func RecordBetVoided(reason string) {
	BetsVoidedTotal.WithLabelValues(reason).Inc()
}

// RecordEmergencyStop records the emergency stop being engaged or released.
func RecordEmergencyStop(engaged bool, reason string) {
	if engaged {
		EmergencyStopsTotal.WithLabelValues(reason).Inc()
		EmergencyStopActive.Set(1)
		return
	}
	EmergencyStopActive.Set(0)
}

// UpdateBankroll updates the bankroll gauges.
func UpdateBankroll(balance, drawdown, stakedToday float64) {
	CurrentBankroll.Set(balance)
	BankrollDrawdown.Set(drawdown)
	DailyStaked.Set(stakedToday)
}

// RecordBetExecutionLatency records executor latency.
func RecordBetExecutionLatency(durationSeconds float64) {
	BetExecutionLatency.Observe(durationSeconds)
}
