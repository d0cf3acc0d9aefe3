// Package main provides the entry point for the backtesting CLI tool.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/furlong/internal/app"
	"github.com/yourusername/furlong/internal/backtest"
	"github.com/yourusername/furlong/internal/datasource"
	"github.com/yourusername/furlong/internal/models"
)

var (
	configFile   string
	historyFile  string
	startDate    string
	endDate      string
	outputPath   string
	jsonOnly     bool
	factorIDs    []string
	modelVersion int
	iterations   int
	seed         int64
	seedSet      bool

	rt    *app.App
	btCfg backtest.Config
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
	flags.StringVar(&historyFile, "history", "", "Replay races from a JSON history file instead of the store")
	flags.StringVar(&startDate, "start-date", "", "Override start date (YYYY-MM-DD)")
	flags.StringVar(&endDate, "end-date", "", "Override end date (YYYY-MM-DD)")
	flags.StringVarP(&outputPath, "output", "o", "", "Override the JSON report path")
	flags.BoolVar(&jsonOnly, "json", false, "Write the JSON report only")
	flags.StringSliceVar(&factorIDs, "factors", nil, "Replay with these factor IDs instead of the approved set")

	for _, cmd := range []*cobra.Command{replayCmd, monteCarloCmd, allCmd} {
		cmd.Flags().IntVar(&modelVersion, "model-version", 0, "Calibration model version (default: active model)")
	}
	monteCarloCmd.Flags().IntVar(&iterations, "iterations", 0, "Override the number of simulations")
	monteCarloCmd.Flags().Int64Var(&seed, "seed", 0, "Override the random seed")

	rootCmd.AddCommand(replayCmd, walkForwardCmd, monteCarloCmd, allCmd)
}

var rootCmd = &cobra.Command{
	Use:     "backtest",
	Short:   "Replay strategies against historical races",
	Long:    `Runs point-in-time replays, walk-forward validation and Monte Carlo simulation over historical races.`,
	Version: app.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		rt, err = app.New(cmd.Context(), configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := overrideDates(&rt.Config.Backtest.StartDate, &rt.Config.Backtest.EndDate); err != nil {
			return err
		}
		if outputPath != "" {
			rt.Config.Backtest.OutputPath = outputPath
		}
		btCfg, err = backtest.FromConfig(rt.Config)
		if err != nil {
			return fmt.Errorf("invalid backtest config: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close()
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the date range with one calibration model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), "replay", true, false, false)
	},
}

var walkForwardCmd = &cobra.Command{
	Use:   "walk-forward",
	Short: "Refit calibration per window and validate out of sample",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), "walk-forward", false, true, false)
	},
}

var monteCarloCmd = &cobra.Command{
	Use:   "monte-carlo",
	Short: "Resample replayed bet outcomes from their probabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		seedSet = cmd.Flags().Changed("seed")
		return run(cmd.Context(), "monte-carlo", true, false, true)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run replay, walk-forward and Monte Carlo",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), "all", true, true, true)
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func overrideDates(start, end *string) error {
	for _, d := range []struct {
		flag   string
		target *string
	}{{startDate, start}, {endDate, end}} {
		if d.flag == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d.flag); err != nil {
			return fmt.Errorf("invalid date %q: %w", d.flag, err)
		}
		*d.target = d.flag
	}
	return nil
}

func run(ctx context.Context, method string, replay, walkForward, monteCarlo bool) error {
	logger := rt.Log
	races, err := loadRaces(ctx)
	if err != nil {
		return err
	}
	rules, err := ruleSource(ctx)
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(btCfg, rules, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"method":   method,
		"strategy": btCfg.Strategy.Name(),
		"races":    len(races),
		"start":    btCfg.StartDate.Format("2006-01-02"),
		"end":      btCfg.EndDate.Format("2006-01-02"),
	}).Info("Starting backtest")

	report := backtest.Report{Method: method, Strategy: btCfg.Strategy.Describe()}

	if replay {
		snapshot, err := calibrationSnapshot(ctx)
		if err != nil {
			return err
		}
		report.ModelVersion = snapshot.Version
		report.Replay, err = engine.Run(ctx, races, snapshot)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
	}

	if walkForward {
		wf, err := backtest.RunWalkForward(ctx, engine, races, rt.Config.WalkForward)
		if err != nil {
			return fmt.Errorf("walk-forward failed: %w", err)
		}
		report.WalkForward = &wf
	}

	if monteCarlo {
		mcCfg := backtest.MonteCarloConfig{
			Iterations:      btCfg.MonteCarloIterations,
			Seed:            btCfg.MonteCarloSeed,
			InitialBankroll: btCfg.Bankroll.InitialBalance,
		}
		if iterations > 0 {
			mcCfg.Iterations = iterations
		}
		if seedSet {
			mcCfg.Seed = seed
		}
		mc, err := backtest.RunMonteCarlo(ctx, report.Replay.Bets, mcCfg)
		if err != nil {
			return fmt.Errorf("monte carlo failed: %w", err)
		}
		report.MonteCarlo = &mc
	}

	report.Assess()
	if !jsonOnly {
		backtest.WriteConsoleReport(os.Stdout, report)
	}
	if err := backtest.WriteJSONReport(report, btCfg.OutputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"output":         btCfg.OutputPath,
		"recommendation": report.Assessment.Recommendation,
	}).Info("Backtest complete")
	return nil
}

// loadRaces reads the date range from the history file or the store
func loadRaces(ctx context.Context) ([]models.HistoricalRace, error) {
	if historyFile != "" {
		races, err := datasource.LoadHistory(historyFile)
		if err != nil {
			return nil, err
		}
		return btCfg.InRange(races), nil
	}
	races, err := rt.Repos.Race.Historical(ctx, btCfg.StartDate, btCfg.EndDate.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to load historical races: %w", err)
	}
	return races, nil
}

func ruleSource(ctx context.Context) (backtest.RuleSource, error) {
	registry := rt.FactorRegistry()
	if len(factorIDs) == 0 {
		return &backtest.ApprovedRules{Registry: registry}, nil
	}
	ids := make([]uuid.UUID, 0, len(factorIDs))
	for _, raw := range factorIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid factor id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	rules, err := registry.Select(ctx, ids)
	if err != nil {
		return nil, err
	}
	return backtest.FixedRules(rules), nil
}

func calibrationSnapshot(ctx context.Context) (*models.CalibrationModel, error) {
	repo := rt.Repos.Calibration
	if modelVersion > 0 {
		m, err := repo.GetByVersion(ctx, modelVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to load calibration model v%d: %w", modelVersion, err)
		}
		return m, nil
	}
	m, err := repo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active calibration model: %w", err)
	}
	return m, nil
}
