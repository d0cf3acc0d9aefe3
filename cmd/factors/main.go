// Package main provides the factor store CLI: create, inspect, transition and
// evaluate scoring rules.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yourusername/furlong/internal/app"
	"github.com/yourusername/furlong/internal/backtest"
	"github.com/yourusername/furlong/internal/datasource"
	"github.com/yourusername/furlong/internal/factor"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/scoring"
)

var (
	configFile string
	changedBy  string

	rt       *app.App
	registry *factor.Registry
)

var createOpts struct {
	name, description, expression, category string
	weight                                  float64
	minSample                               int
	trainingFrom, trainingTo                string
}

var (
	statusFilter string
	reason       string
	overlapFrom  string
	overlapTo    string
	historyFile  string
	save         bool
	apply        bool
	fitFrom      string
	fitTo        string
)

var optimizeOpts = scoring.DefaultOptimizerOptions()

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&changedBy, "by", os.Getenv("USER"), "Operator recorded in the audit log")

	f := createCmd.Flags()
	f.StringVar(&createOpts.name, "name", "", "Unique factor name")
	f.StringVar(&createOpts.description, "description", "", "Free text description")
	f.StringVar(&createOpts.expression, "expr", "", "Scoring expression over runner attributes")
	f.StringVar(&createOpts.category, "category", "", "Grouping category")
	f.Float64Var(&createOpts.weight, "weight", 1, "Weight in the composite score")
	f.IntVar(&createOpts.minSample, "min-sample", 0, "Minimum sample size before approval")
	f.StringVar(&createOpts.trainingFrom, "training-from", "", "Start of the data the rule was derived from (YYYY-MM-DD)")
	f.StringVar(&createOpts.trainingTo, "training-to", "", "End of the data the rule was derived from (YYYY-MM-DD)")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("expr")

	listCmd.Flags().StringVar(&statusFilter, "status", "", "Only list rules in this status")
	transitionCmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the change")
	weightCmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the change")
	overlapCmd.Flags().StringVar(&overlapFrom, "from", "", "Evaluation window start (YYYY-MM-DD)")
	overlapCmd.Flags().StringVar(&overlapTo, "to", "", "Evaluation window end (YYYY-MM-DD)")
	_ = overlapCmd.MarkFlagRequired("from")
	_ = overlapCmd.MarkFlagRequired("to")
	evaluateCmd.Flags().StringVar(&historyFile, "history", "", "Evaluate on a JSON history file instead of the store")
	evaluateCmd.Flags().BoolVar(&save, "save", false, "Store the measured statistics on the rule")
	o := optimizeCmd.Flags()
	o.StringVar(&historyFile, "history", "", "Fit on a JSON history file instead of the store")
	o.StringVar(&fitFrom, "from", "", "First race day used for fitting (default: backtest start)")
	o.StringVar(&fitTo, "to", "", "Last race day used for fitting (default: backtest end)")
	o.Float64Var(&optimizeOpts.Regularization, "regularization", optimizeOpts.Regularization, "Inverse L2 strength")
	o.IntVar(&optimizeOpts.TargetPosition, "target-position", optimizeOpts.TargetPosition, "Finishing position counted as a hit")
	o.BoolVar(&apply, "apply", false, "Write the proposed weights to the registry")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, transitionCmd, weightCmd, expressionCmd, sweepCmd, overlapCmd, evaluateCmd, optimizeCmd)
}

var rootCmd = &cobra.Command{
	Use:     "factors",
	Short:   "Manage factor scoring rules",
	Version: app.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		rt, err = app.New(cmd.Context(), configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		registry = rt.FactorRegistry()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close()
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a DRAFT factor",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := optionalDate(createOpts.trainingFrom)
		if err != nil {
			return err
		}
		to, err := optionalDate(createOpts.trainingTo)
		if err != nil {
			return err
		}
		rule, err := registry.Create(cmd.Context(), factor.NewFactor{
			Name:          createOpts.name,
			Description:   createOpts.description,
			Expression:    createOpts.expression,
			Category:      createOpts.category,
			Weight:        createOpts.weight,
			MinSampleSize: createOpts.minSample,
			TrainingFrom:  from,
			TrainingTo:    to,
			CreatedBy:     changedBy,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", rule.Name, rule.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List factors",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status *models.FactorStatus
		if statusFilter != "" {
			s, err := parseStatus(statusFilter)
			if err != nil {
				return err
			}
			status = &s
		}
		rules, err := registry.List(cmd.Context(), status)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "Status", "Weight", "Samples", "ROI", "Hit rate", "Validation")
		for _, r := range rules {
			table.Append(
				r.ID.String(),
				r.Name,
				string(r.Status),
				strconv.FormatFloat(r.Weight, 'f', 2, 64),
				strconv.Itoa(r.Stats.SampleSize),
				pct(r.Stats.ROI),
				pct(r.Stats.HitRate),
				strconv.FormatFloat(r.Stats.ValidationScore, 'f', 3, 64),
			)
		}
		return table.Render()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a factor and its change history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid factor id: %w", err)
		}
		rule, err := registry.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s] weight %.2f\n  %s\n", rule.Name, rule.Status, rule.Weight, rule.Expression)
		if rule.Description != "" {
			fmt.Printf("  %s\n", rule.Description)
		}

		changes, err := registry.History(cmd.Context(), id)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("At", "Action", "From", "To", "By", "Reason")
		for _, c := range changes {
			table.Append(c.ChangedAt.Format(time.RFC3339), c.Action, string(c.FromStatus), string(c.ToStatus), c.ChangedBy, c.Reason)
		}
		return table.Render()
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition <id> <status>",
	Short: "Move a factor through its lifecycle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid factor id: %w", err)
		}
		to, err := parseStatus(args[1])
		if err != nil {
			return err
		}
		rule, err := registry.Transition(cmd.Context(), id, to, reason, changedBy)
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", rule.Name, rule.Status)
		return nil
	},
}

var weightCmd = &cobra.Command{
	Use:   "weight <id> <weight>",
	Short: "Change a factor's weight",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid factor id: %w", err)
		}
		w, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid weight: %w", err)
		}
		rule, err := registry.UpdateWeight(cmd.Context(), id, w, reason, changedBy)
		if err != nil {
			return err
		}
		fmt.Printf("%s weight is now %.2f\n", rule.Name, rule.Weight)
		return nil
	},
}

var expressionCmd = &cobra.Command{
	Use:   "expression <id> <expr>",
	Short: "Replace the expression of a DRAFT factor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid factor id: %w", err)
		}
		rule, err := registry.UpdateExpression(cmd.Context(), id, args[1], changedBy)
		if err != nil {
			return err
		}
		fmt.Printf("%s expression updated\n", rule.Name)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deprecate approved factors whose statistics breach the degradation rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		deprecated, err := registry.SweepDegraded(cmd.Context(), rt.DegradationRule())
		if err != nil {
			return err
		}
		for _, r := range deprecated {
			fmt.Printf("Deprecated %s (%s)\n", r.Name, r.ID)
		}
		fmt.Printf("%d factor(s) deprecated\n", len(deprecated))
		return nil
	},
}

var overlapCmd = &cobra.Command{
	Use:   "overlap <id>",
	Short: "Check whether an evaluation window overlaps a factor's training data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid factor id: %w", err)
		}
		from, err := time.Parse("2006-01-02", overlapFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		to, err := time.Parse("2006-01-02", overlapTo)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		overlaps, err := registry.CheckTrainingOverlap(cmd.Context(), id, from, to)
		if err != nil {
			return err
		}
		if overlaps {
			fmt.Println("Window overlaps the training period; results would be in-sample")
			return nil
		}
		fmt.Println("No overlap")
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <id>",
	Short: "Replay the backtest range with a single factor and report its statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid factor id: %w", err)
		}
		stats, err := evaluate(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Samples %d, ROI %s, hit rate %s, validation %.3f\n",
			stats.SampleSize, pct(stats.ROI), pct(stats.HitRate), stats.ValidationScore)
		if !save {
			return nil
		}
		rule, err := registry.UpdateStats(cmd.Context(), id, stats)
		if err != nil {
			return err
		}
		fmt.Printf("Stored statistics on %s\n", rule.Name)
		return nil
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Fit approved factors' weights on historical outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := backtest.FromConfig(rt.Config)
		if err != nil {
			return fmt.Errorf("invalid backtest config: %w", err)
		}
		from, err := optionalDate(fitFrom)
		if err != nil {
			return err
		}
		to, err := optionalDate(fitTo)
		if err != nil {
			return err
		}
		if from != nil {
			cfg.StartDate = *from
		}
		if to != nil {
			cfg.EndDate = *to
		}
		races, err := historicalRaces(ctx, cfg)
		if err != nil {
			return err
		}

		rules, err := registry.Active(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		scorer := scoring.NewEngine(nil, rt.Log, scoring.WithoutMetrics())
		fit, err := scorer.OptimizeWeights(ctx, rules, races, optimizeOpts)
		if err != nil {
			return err
		}

		fmt.Printf("%d runners (%d hits), accuracy %s, log loss %.4f\n",
			fit.Samples, fit.Positives, pct(fit.Accuracy), fit.LogLoss)
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Factor", "Coefficient", "Current", "Proposed")
		for _, r := range rules {
			table.Append(
				r.Name,
				strconv.FormatFloat(fit.Coefficients[r.Name], 'f', 4, 64),
				strconv.FormatFloat(r.Weight, 'f', 2, 64),
				strconv.FormatFloat(fit.Weights[r.Name], 'f', 2, 64),
			)
		}
		if err := table.Render(); err != nil {
			return err
		}
		if !apply {
			return nil
		}
		updated, err := scoring.ApplyWeights(ctx, registry, rules, fit, 0.01, changedBy)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %d of %d factors\n", len(updated), len(rules))
		return nil
	},
}

// historicalRaces loads cfg's date range from the history file or the store
func historicalRaces(ctx context.Context, cfg backtest.Config) ([]models.HistoricalRace, error) {
	if historyFile != "" {
		all, err := datasource.LoadHistory(historyFile)
		if err != nil {
			return nil, err
		}
		return cfg.InRange(all), nil
	}
	races, err := rt.Repos.Race.Historical(ctx, cfg.StartDate, cfg.EndDate.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to load historical races: %w", err)
	}
	return races, nil
}

// evaluate replays the configured backtest range with only the given rule
// and the active calibration model
func evaluate(ctx context.Context, id uuid.UUID) (models.FactorStats, error) {
	rules, err := registry.Select(ctx, []uuid.UUID{id})
	if err != nil {
		return models.FactorStats{}, err
	}
	cfg, err := backtest.FromConfig(rt.Config)
	if err != nil {
		return models.FactorStats{}, fmt.Errorf("invalid backtest config: %w", err)
	}
	overlaps, err := registry.CheckTrainingOverlap(ctx, id, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return models.FactorStats{}, err
	}
	if overlaps {
		rt.Log.WithField("factor_id", id).Warn("Evaluation window overlaps the factor's training period")
	}

	races, err := historicalRaces(ctx, cfg)
	if err != nil {
		return models.FactorStats{}, err
	}

	snapshot, err := rt.Repos.Calibration.GetActive(ctx)
	if err != nil {
		return models.FactorStats{}, fmt.Errorf("failed to load active calibration model: %w", err)
	}
	engine, err := backtest.NewEngine(cfg, backtest.FixedRules(rules), rt.Log)
	if err != nil {
		return models.FactorStats{}, err
	}
	res, err := engine.Run(ctx, races, snapshot)
	if err != nil {
		return models.FactorStats{}, err
	}
	return res.KPIs.FactorStats(), nil
}

func parseStatus(s string) (models.FactorStatus, error) {
	status := models.FactorStatus(strings.ToUpper(s))
	switch status {
	case models.FactorStatusDraft, models.FactorStatusTesting, models.FactorStatusApproved, models.FactorStatusDeprecated:
		return status, nil
	}
	return "", fmt.Errorf("unknown factor status %q", s)
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
