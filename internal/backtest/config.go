package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/strategy"
)

// Config holds everything a replay needs besides the races and the model
type Config struct {
	StartDate            time.Time
	EndDate              time.Time
	Bankroll             config.BankrollConfig
	Strategy             strategy.Strategy
	BetTypes             []models.BetType
	Calibration          calibration.Options
	CalibrationMethod    models.CalibrationMethod
	MonteCarloIterations int
	MonteCarloSeed       int64
	RiskFreeRate         float64
	OutputPath           string
}

// FromConfig converts app config to backtest config. The simulated bankroll
// starts from the backtest's initial bankroll under the live limits.
func FromConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is required")
	}
	start, err := time.Parse("2006-01-02", cfg.Backtest.StartDate)
	if err != nil {
		return Config{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", cfg.Backtest.EndDate)
	if err != nil {
		return Config{}, fmt.Errorf("invalid end date: %w", err)
	}
	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		return Config{}, err
	}
	betTypes, err := strategy.ParseBetTypes(cfg.Strategy.BetTypes)
	if err != nil {
		return Config{}, err
	}
	method, err := calibration.ParseMethod(cfg.Calibration.Method)
	if err != nil {
		return Config{}, err
	}

	bank := cfg.Bankroll
	bank.InitialBalance = cfg.Backtest.InitialBankroll

	bt := Config{
		StartDate: start,
		EndDate:   end,
		Bankroll:  bank,
		Strategy:  strat,
		BetTypes:  betTypes,
		Calibration: calibration.Options{
			MinSamples:    cfg.Calibration.MinSamples,
			MaxIterations: cfg.Calibration.MaxIterations,
			Bins:          cfg.Calibration.Bins,

			StratifiedBase:    models.CalibrationMethod(strings.ToUpper(cfg.Calibration.StratifiedBase)),
			MinStratumSamples: cfg.Calibration.MinStratumSamples,
		},
		CalibrationMethod:    method,
		MonteCarloIterations: cfg.Backtest.MonteCarloIterations,
		MonteCarloSeed:       cfg.Backtest.MonteCarloSeed,
		RiskFreeRate:         cfg.Backtest.RiskFreeRate,
		OutputPath:           cfg.Backtest.OutputPath,
	}
	return bt, bt.Validate()
}

// Validate validates backtest config parameters
func (c Config) Validate() error {
	if c.StartDate.After(c.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}
	if c.Bankroll.InitialBalance <= 0 {
		return fmt.Errorf("initial bankroll must be positive")
	}
	if c.Strategy == nil {
		return fmt.Errorf("strategy is required")
	}
	if len(c.BetTypes) == 0 {
		return fmt.Errorf("at least one bet type is required")
	}
	if c.MonteCarloIterations < 0 {
		return fmt.Errorf("monte carlo iterations cannot be negative")
	}
	return nil
}

// InRange keeps the races whose start falls on or after StartDate and before
// the day after EndDate
func (c Config) InRange(races []models.HistoricalRace) []models.HistoricalRace {
	end := c.EndDate.AddDate(0, 0, 1)
	out := make([]models.HistoricalRace, 0, len(races))
	for _, hr := range races {
		at := hr.Race.ScheduledStart
		if !at.Before(c.StartDate) && at.Before(end) {
			out = append(out, hr)
		}
	}
	return out
}
