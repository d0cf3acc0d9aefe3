// Package main provides the entry point for the live betting loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/app"
	"github.com/yourusername/furlong/internal/bot"
	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/health"
	"github.com/yourusername/furlong/internal/metrics"
	"github.com/yourusername/furlong/internal/reconcile"
	"github.com/yourusername/furlong/internal/safety"
	"github.com/yourusername/furlong/internal/scheduler"
	"github.com/yourusername/furlong/internal/scoring"
	"github.com/yourusername/furlong/internal/strategy"
)

const monitorInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Log.WithError(err).Error("Failed to release resources")
		}
	}()

	cfg, appLog := a.Config, a.Log
	appLog.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"log_level":   cfg.App.LogLevel,
		"version":     app.Version,
	}).Info("Furlong bot starting")

	if !cfg.Bot.DryRun {
		appLog.Fatal("Only dry-run execution is available; set bot.dry_run to true")
	}
	metrics.InitRegistry()

	stop, err := a.KillSwitch()
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create emergency stop")
	}
	bank, err := a.Bankroll(ctx, stop)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to load bankroll")
	}
	source, err := a.RaceSource()
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create race source")
	}
	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create strategy")
	}
	settings, err := bot.SettingsFromConfig(cfg)
	if err != nil {
		appLog.WithError(err).Fatal("Invalid bot settings")
	}

	registry := a.FactorRegistry()
	scorer := scoring.NewEngine(calibration.NewRegistry(a.Repos.Calibration), appLog,
		scoring.WithScoreRepository(a.Repos.Score),
		scoring.WithProgramTTL(time.Duration(cfg.Scoring.ProgramCacheTTLMinutes)*time.Minute),
	)
	checker := safety.NewChecker(a.Repos.Bet, source, stop, bank, cfg.Safety, settings.Location, a.Publisher, appLog)
	monitor := bot.NewMonitor(a.Repos.Bet, bank, stop, settings.Location, monitorInterval, appLog)

	orchestrator, err := bot.NewOrchestrator(settings, bot.Dependencies{
		Source:   source,
		Races:    a.Repos.Race,
		Rules:    registry,
		Scorer:   scorer,
		Strategy: strat,
		Bankroll: bank,
		Gate:     checker,
		Executor: bot.NewDryRunExecutor(appLog),
		Stop:     stop,
		Monitor:  monitor,
	}, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create orchestrator")
	}

	reconciler := reconcile.New(a.Repos.Bet, source, bank, appLog,
		reconcile.WithRaceRepository(a.Repos.Race),
		reconcile.WithPublisher(a.Publisher),
	)
	jobs := scheduler.NewScheduler(appLog, scheduler.WithLocation(settings.Location))
	if err := jobs.FromConfig(cfg.Scheduler, cfg.Lifecycle, reconciler, bank, registry); err != nil {
		appLog.WithError(err).Fatal("Failed to schedule jobs")
	}

	healthCfg := health.Config{
		ServiceName: cfg.App.Name,
		Version:     app.Version,
		Commit:      app.GitCommit,
		Port:        cfg.Bot.HealthPort,
		Logger:      appLog,
		DB:          a.Store,
		KillSwitch:  stop,
		Status: func(context.Context) interface{} {
			return map[string]interface{}{
				"orchestrator": orchestrator.GetStatus(),
				"jobs":         jobs.Jobs(),
			}
		},
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Bot.HealthPort {
		healthCfg.Metrics, healthCfg.MetricsPath = metrics.Handler(), cfg.Metrics.Path
	}
	healthServer := health.NewServer(healthCfg)
	if err := healthServer.Start(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to start health server")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Bot.HealthPort {
		metricsServer := health.NewServer(health.Config{
			ServiceName: cfg.App.Name + "-metrics",
			Port:        cfg.Metrics.Port,
			Logger:      appLog,
			Metrics:     metrics.Handler(),
			MetricsPath: cfg.Metrics.Path,
		})
		if err := metricsServer.Start(ctx); err != nil {
			appLog.WithError(err).Fatal("Failed to start metrics server")
		}
	}

	if err := jobs.Start(); err != nil {
		appLog.WithError(err).Fatal("Failed to start scheduler")
	}
	if err := orchestrator.Start(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to start orchestrator")
	}
	healthServer.SetReady(true)

	appLog.WithFields(logrus.Fields{
		"strategy":      strat.Name(),
		"bet_types":     cfg.Strategy.BetTypes,
		"balance":       bank.Snapshot().Balance,
		"next_job":      jobs.GetNextRun(),
		"poll_interval": settings.PollInterval,
	}).Info("Bot is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	appLog.WithField("signal", sig).Info("Shutdown signal received")

	healthServer.SetReady(false)
	if err := orchestrator.Stop(); err != nil {
		appLog.WithError(err).Error("Error during orchestrator shutdown")
	}
	if err := jobs.Stop(); err != nil {
		appLog.WithError(err).Error("Error during scheduler shutdown")
	}
	cancel()

	appLog.Info("Furlong bot shut down")
}
