package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/models"
)

// BetRequest is an approved bet handed to the executor
type BetRequest struct {
	BetID       uuid.UUID      `json:"bet_id"`
	Key         models.BetKey  `json:"-"`
	BetType     models.BetType `json:"bet_type"`
	Stake       float64        `json:"stake"`
	Odds        float64        `json:"odds"`
	Probability float64        `json:"probability"`
	Strategy    string         `json:"strategy"`
}

// Ack confirms that the executor accepted a bet
type Ack struct {
	Reference string    `json:"reference"`
	PlacedAt  time.Time `json:"placed_at"`
	DryRun    bool      `json:"dry_run"`
}

// Executor places approved bets. Implementations own their timeouts.
type Executor interface {
	Place(ctx context.Context, req BetRequest) (Ack, error)
}

// ExecutorMetrics tracks execution statistics
type ExecutorMetrics struct {
	OrdersExecuted       int64         `json:"orders_executed"`
	OrdersFailed         int64         `json:"orders_failed"`
	DryRunOrders         int64         `json:"dry_run_orders"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	LastExecutionTime    time.Time     `json:"last_execution_time"`
}

// DryRunExecutor acknowledges every bet without contacting a bookmaker
type DryRunExecutor struct {
	logger *logrus.Entry
	now    func() time.Time
}

// NewDryRunExecutor creates a dry-run executor
func NewDryRunExecutor(logger *logrus.Logger) *DryRunExecutor {
	return &DryRunExecutor{
		logger: logger.WithField("component", "executor"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Place logs the bet and returns a synthetic reference
func (e *DryRunExecutor) Place(ctx context.Context, req BetRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"bet_id":   req.BetID,
		"key":      req.Key.String(),
		"bet_type": req.BetType,
		"odds":     req.Odds,
		"stake":    req.Stake,
	}).Info("Dry-run bet placed (simulated)")

	return Ack{Reference: "dry-" + req.BetID.String(), PlacedAt: e.now(), DryRun: true}, nil
}

// TimedExecutor bounds each placement by a deadline and tracks execution stats
type TimedExecutor struct {
	next    Executor
	timeout time.Duration
	mu      sync.Mutex
	stats   ExecutorMetrics
	total   time.Duration
}

// NewTimedExecutor wraps next with a per-bet timeout
func NewTimedExecutor(next Executor, timeout time.Duration) *TimedExecutor {
	return &TimedExecutor{next: next, timeout: timeout}
}

// Place forwards to the wrapped executor under the timeout
func (e *TimedExecutor) Place(ctx context.Context, req BetRequest) (Ack, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	ack, err := e.next.Place(ctx, req)
	elapsed := time.Since(start)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	e.record(ack, elapsed, err)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to place bet %s: %w", req.BetID, err)
	}
	metrics.RecordBetExecutionLatency(elapsed.Seconds())
	return ack, nil
}

func (e *TimedExecutor) record(ack Ack, elapsed time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.LastExecutionTime = time.Now().UTC()
	if err != nil {
		e.stats.OrdersFailed++
		return
	}
	e.stats.OrdersExecuted++
	if ack.DryRun {
		e.stats.DryRunOrders++
	}
	e.total += elapsed
	e.stats.AverageExecutionTime = e.total / time.Duration(e.stats.OrdersExecuted)
}

// Metrics returns a copy of the execution statistics
func (e *TimedExecutor) Metrics() ExecutorMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
