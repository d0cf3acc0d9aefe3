// Package app wires the shared runtime of the furlong binaries: validated
// configuration, logging, the store and the outbound publishers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/furlong/internal/bankroll"
	"github.com/yourusername/furlong/internal/calibration"
	"github.com/yourusername/furlong/internal/config"
	"github.com/yourusername/furlong/internal/database"
	"github.com/yourusername/furlong/internal/datasource"
	"github.com/yourusername/furlong/internal/factor"
	"github.com/yourusername/furlong/internal/killswitch"
	"github.com/yourusername/furlong/internal/logger"
	"github.com/yourusername/furlong/internal/models"
	"github.com/yourusername/furlong/internal/notify"
	"github.com/yourusername/furlong/internal/repository"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// LoadConfig reads the config file, overlays AWS secrets when
// AWS_SECRETS_ENABLED is true and validates the result.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if os.Getenv("AWS_SECRETS_ENABLED") == "true" {
		region := os.Getenv("AWS_REGION")
		secretName := os.Getenv("AWS_SECRET_NAME")
		if region == "" || secretName == "" {
			return nil, fmt.Errorf("AWS_REGION and AWS_SECRET_NAME must be set when AWS_SECRETS_ENABLED is true")
		}
		if err := config.LoadSecretsFromAWS(ctx, cfg, region, secretName); err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// App holds the runtime shared by every command
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Store     database.Store
	Repos     *repository.Repositories
	Publisher notify.Publisher

	closers []io.Closer
}

// New loads configuration and opens the store and publishers
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := LoadConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return FromConfig(ctx, cfg, logger.NewLogger(cfg.App.LogLevel))
}

// FromConfig opens the store and publishers for an already validated config
func FromConfig(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}
	a.Store = store
	a.closers = append(a.closers, store)

	a.Repos, err = repository.NewRepositories(store)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	publishers := notify.Multi{notify.NewLogPublisher(log)}
	if k := cfg.Notifications.Kafka; k.Enabled {
		kafka, err := notify.NewKafkaPublisher(k.Brokers, k.Topic, log)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		publishers = append(publishers, kafka)
		a.closers = append(a.closers, kafka)
	}
	a.Publisher = publishers

	log.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"driver":      cfg.Database.Driver,
		"kafka":       cfg.Notifications.Kafka.Enabled,
	}).Debug("Runtime initialised")
	return a, nil
}

// KillSwitch builds the configured emergency-stop backend
func (a *App) KillSwitch() (killswitch.Switch, error) {
	stop, err := killswitch.New(a.Config.KillSwitch, a.Log, a.Publisher)
	if err != nil {
		return nil, err
	}
	if c, ok := stop.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	return stop, nil
}

// Bankroll builds the persistent bankroll manager and loads its snapshot
func (a *App) Bankroll(ctx context.Context, stop killswitch.Switch) (*bankroll.Manager, error) {
	bank := bankroll.NewManager(a.Config.Bankroll, stop, a.Log,
		bankroll.WithRepository(a.Repos.Bankroll),
		bankroll.WithPublisher(a.Publisher),
	)
	if err := bank.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load bankroll: %w", err)
	}
	return bank, nil
}

// FactorRegistry builds the factor store with the configured approval thresholds
func (a *App) FactorRegistry() *factor.Registry {
	lc := a.Config.Lifecycle
	return factor.NewRegistry(a.Repos.Factor, factor.Acceptance{
		MinBets:    lc.MinBetsForApproval,
		MinROI:     lc.MinROIForApproval,
		MinHitRate: lc.MinHitRate,
	}, a.Publisher, a.Log)
}

// DegradationRule returns the configured auto-deprecation rule
func (a *App) DegradationRule() factor.DegradationRule {
	d := a.Config.Lifecycle.Degradation
	return factor.DegradationRule{Statistic: d.Statistic, MinSample: d.MinSample, Threshold: d.Threshold}
}

// CalibrationOptions returns the configured fitting options
func (a *App) CalibrationOptions() calibration.Options {
	c := a.Config.Calibration
	return calibration.Options{
		MinSamples:        c.MinSamples,
		MaxIterations:     c.MaxIterations,
		Bins:              c.Bins,
		StratifiedBase:    models.CalibrationMethod(strings.ToUpper(c.StratifiedBase)),
		MinStratumSamples: c.MinStratumSamples,
	}
}

// RaceSource returns the history file source when one is configured,
// otherwise the cached HTTP provider.
func (a *App) RaceSource() (datasource.RaceSource, error) {
	ds := a.Config.DataSource
	if ds.HistoryFile != "" {
		races, err := datasource.LoadHistory(ds.HistoryFile)
		if err != nil {
			return nil, err
		}
		a.Log.WithFields(logrus.Fields{"file": ds.HistoryFile, "races": len(races)}).Info("Serving races from history file")
		return datasource.NewHistorySource(races), nil
	}

	httpSource := datasource.NewHTTPSource(ds, a.Log)
	a.closers = append(a.closers, httpSource)
	if ds.CacheTTLSeconds <= 0 {
		return httpSource, nil
	}
	return datasource.NewCachedSource(httpSource, time.Duration(ds.CacheTTLSeconds)*time.Second), nil
}

// Close releases everything opened by the app, last opened first
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
