// Package main provides the settlement CLI for reconciling pending bets
// against official race results.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourusername/furlong/internal/app"
	"github.com/yourusername/furlong/internal/datasource"
	"github.com/yourusername/furlong/internal/reconcile"
)

var (
	configFile string

	rt         *app.App
	source     datasource.RaceSource
	reconciler *reconcile.Reconciler
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
	rootCmd.AddCommand(raceCmd, pendingCmd)
}

var rootCmd = &cobra.Command{
	Use:     "reconcile",
	Short:   "Settle bets against official results",
	Version: app.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var err error
		rt, err = app.New(ctx, configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		stop, err := rt.KillSwitch()
		if err != nil {
			return err
		}
		bank, err := rt.Bankroll(ctx, stop)
		if err != nil {
			return err
		}
		source, err = rt.RaceSource()
		if err != nil {
			return err
		}
		reconciler = reconcile.New(rt.Repos.Bet, source, bank, rt.Log,
			reconcile.WithRaceRepository(rt.Repos.Race),
			reconcile.WithPublisher(rt.Publisher),
		)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close()
	},
}

var raceCmd = &cobra.Command{
	Use:   "race <race-id>",
	Short: "Fetch one race's result and settle its bets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raceID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid race id: %w", err)
		}
		result, err := source.Result(ctx, raceID)
		if err != nil {
			return fmt.Errorf("failed to fetch result: %w", err)
		}
		sum, err := reconciler.Reconcile(ctx, result)
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Settle every pending bet whose race has an official result",
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := reconciler.ReconcilePending(cmd.Context())
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil
	},
}

func printSummary(s reconcile.Summary) {
	fmt.Printf("Races %d (skipped %d): settled %d (won %d, lost %d, void %d), unchanged %d, P/L %.2f\n",
		s.Races, s.Skipped, s.Settled, s.Won, s.Lost, s.Voided, s.Unchanged, s.ProfitLoss)
	for _, id := range s.Unapplied {
		fmt.Printf("Bet %s is settled but missing from the bankroll; adjust the balance by hand\n", id)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
