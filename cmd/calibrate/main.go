// Package main provides the calibration CLI: fit new model versions from
// historical races and switch the active one.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/furlong/internal/app"
	"github.com/yourusername/furlong/internal/backtest"
	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/datasource"
	"github.com/yourusername/furlong/internal/models"
)

var (
	configFile  string
	historyFile string
	method      string
	fromDate    string
	toDate      string
	activate    bool

	rt      *app.App
	trainer *calibration.Trainer
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")

	f := fitCmd.Flags()
	f.StringVar(&historyFile, "history", "", "Fit on a JSON history file instead of the store")
	f.StringVar(&method, "method", "", "PLATT, ISOTONIC or STRATIFIED (default: configured method)")
	f.StringVar(&fromDate, "from", "", "First race day used for fitting (YYYY-MM-DD)")
	f.StringVar(&toDate, "to", "", "Last race day used for fitting (YYYY-MM-DD)")
	f.BoolVar(&activate, "activate", false, "Activate the new version when the fit succeeds")
	_ = fitCmd.MarkFlagRequired("from")
	_ = fitCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(fitCmd, activateCmd, listCmd)
}

var rootCmd = &cobra.Command{
	Use:     "calibrate",
	Short:   "Fit and activate score calibration models",
	Version: app.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		rt, err = app.New(cmd.Context(), configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		trainer = calibration.NewTrainer(rt.Repos.Calibration, rt.CalibrationOptions(), rt.Log)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close()
	},
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a new calibration version on approved factors' raw scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m := method
		if m == "" {
			m = rt.Config.Calibration.Method
		}
		cm, err := calibration.ParseMethod(m)
		if err != nil {
			return err
		}

		samples, err := trainingSamples(ctx)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			return fmt.Errorf("no scored runners between %s and %s", fromDate, toDate)
		}
		window := calibration.Window{From: samples[0].At, To: samples[0].At}
		for _, s := range samples {
			if s.At.Before(window.From) {
				window.From = s.At
			}
			if s.At.After(window.To) {
				window.To = s.At
			}
		}

		train := trainer.Train
		if activate {
			train = trainer.TrainAndActivate
		}
		model, err := train(ctx, cm, samples, window)
		if err != nil {
			return err
		}
		rt.Log.WithFields(logrus.Fields{
			"version": model.Version,
			"samples": model.SampleSize,
			"active":  model.Active,
		}).Info("Calibration model stored")
		fmt.Printf("Version %d (%s): %d samples, Brier %.4f, ECE %.4f, active %t\n",
			model.Version, model.Method, model.SampleSize, model.BrierScore, model.ECE, model.Active)
		return nil
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <version|id>",
	Short: "Make a stored version the active model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveModel(ctx, args[0])
		if err != nil {
			return err
		}
		model, err := trainer.Activate(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Version %d is now active\n", model.Version)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List calibration versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := rt.Repos.Calibration.List(cmd.Context())
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Version", "Method", "Trained", "Samples", "Brier", "ECE", "Active")
		for _, m := range all {
			active := ""
			if m.Active {
				active = "*"
			}
			table.Append(
				strconv.Itoa(m.Version),
				string(m.Method),
				m.TrainedFrom.Format("2006-01-02")+" .. "+m.TrainedTo.Format("2006-01-02"),
				strconv.Itoa(m.SampleSize),
				strconv.FormatFloat(m.BrierScore, 'f', 4, 64),
				strconv.FormatFloat(m.ECE, 'f', 4, 64),
				active,
			)
		}
		return table.Render()
	},
}

// trainingSamples scores the races in [from, to] with the approved rules in
// force at each race's start
func trainingSamples(ctx context.Context) ([]calibration.Sample, error) {
	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := time.Parse("2006-01-02", toDate)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}

	cfg, err := backtest.FromConfig(rt.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	cfg.StartDate, cfg.EndDate = from, to

	var races []models.HistoricalRace
	if historyFile != "" {
		all, err := datasource.LoadHistory(historyFile)
		if err != nil {
			return nil, err
		}
		races = cfg.InRange(all)
	} else {
		races, err = rt.Repos.Race.Historical(ctx, from, to.AddDate(0, 0, 1))
		if err != nil {
			return nil, fmt.Errorf("failed to load historical races: %w", err)
		}
	}

	engine, err := backtest.NewEngine(cfg, &backtest.ApprovedRules{Registry: rt.FactorRegistry()}, rt.Log)
	if err != nil {
		return nil, err
	}
	return engine.CalibrationSamples(ctx, races)
}

// resolveModel accepts either a version number or a model id
func resolveModel(ctx context.Context, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	version, err := strconv.Atoi(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is neither a version nor a model id", ref)
	}
	m, err := rt.Repos.Calibration.GetByVersion(ctx, version)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load version %d: %w", version, err)
	}
	return m.ID, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
