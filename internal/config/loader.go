package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FURLONG"

// Load reads and parses the configuration from file and environment variables.
// A .env file in the working directory is loaded first when present, then
// ${VAR} placeholders in the YAML are expanded.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	setDefaults(v)

	expanded := os.ExpandEnv(string(data))
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration, tolerating a missing file.
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	_ = godotenv.Load()

	v := newViper()
	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "furlong")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "furlong.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("data_source.base_url", "http://localhost:8081")
	v.SetDefault("data_source.requests_per_second", 5)
	v.SetDefault("data_source.burst", 5)
	v.SetDefault("data_source.timeout_seconds", 10)
	v.SetDefault("data_source.retry_max", 3)
	v.SetDefault("data_source.cache_ttl_seconds", 30)

	v.SetDefault("scoring.program_cache_ttl_minutes", 60)
	v.SetDefault("scoring.max_concurrent_races", 4)

	v.SetDefault("calibration.method", "PLATT")
	v.SetDefault("calibration.min_samples", 200)
	v.SetDefault("calibration.bins", 10)
	v.SetDefault("calibration.max_iterations", 100)
	v.SetDefault("calibration.stratified_base", "PLATT")
	v.SetDefault("calibration.min_stratum_samples", 50)

	v.SetDefault("strategy.name", "value")
	v.SetDefault("strategy.ev_threshold", 1.05)
	v.SetDefault("strategy.bet_types", []string{"WIN"})

	v.SetDefault("bankroll.initial_balance", 100000)
	v.SetDefault("bankroll.kelly_multiplier", 0.25)
	v.SetDefault("bankroll.max_bet_fraction", 0.05)
	v.SetDefault("bankroll.max_daily_fraction", 0.20)
	v.SetDefault("bankroll.drawdown_soft", 0.10)
	v.SetDefault("bankroll.drawdown_hard", 0.30)
	v.SetDefault("bankroll.throttle_scale", 0.5)
	v.SetDefault("bankroll.stake_unit", 100)
	v.SetDefault("bankroll.max_consecutive_losses", 20)
	v.SetDefault("bankroll.timezone", "UTC")

	v.SetDefault("safety.odds_drift_tolerance", 0.30)

	v.SetDefault("backtest.start_date", "2024-01-01")
	v.SetDefault("backtest.end_date", "2024-12-31")
	v.SetDefault("backtest.initial_bankroll", 100000)
	v.SetDefault("backtest.monte_carlo_iterations", 1000)
	v.SetDefault("backtest.monte_carlo_seed", 42)
	v.SetDefault("backtest.output_path", "output/backtest")

	v.SetDefault("walk_forward.training_days", 180)
	v.SetDefault("walk_forward.validation_days", 30)
	v.SetDefault("walk_forward.step_days", 30)
	v.SetDefault("walk_forward.min_samples", 50)

	v.SetDefault("lifecycle.min_bets_for_approval", 100)
	v.SetDefault("lifecycle.min_hit_rate", 0)
	v.SetDefault("lifecycle.degradation.statistic", "validation_score")
	v.SetDefault("lifecycle.degradation.min_sample", 50)
	v.SetDefault("lifecycle.degradation.threshold", 0.5)

	v.SetDefault("kill_switch.backend", "local")
	v.SetDefault("kill_switch.redis.key", "furlong:emergency_stop")

	v.SetDefault("scheduler.reconcile_cron", "*/5 * * * *")
	v.SetDefault("scheduler.daily_reset_cron", "0 0 * * *")
	v.SetDefault("scheduler.degradation_cron", "30 3 * * *")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("bot.poll_interval_seconds", 60)
	v.SetDefault("bot.executor_timeout_seconds", 10)
	v.SetDefault("bot.dry_run", true)
	v.SetDefault("bot.health_port", 8080)
}
