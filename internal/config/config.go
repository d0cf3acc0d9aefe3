// Package config provides configuration management for the furlong betting pipeline.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App           AppConfig           `mapstructure:"app" validate:"required"`
	Database      DatabaseConfig      `mapstructure:"database" validate:"required"`
	DataSource    DataSourceConfig    `mapstructure:"data_source" validate:"required"`
	Scoring       ScoringConfig       `mapstructure:"scoring" validate:"required"`
	Calibration   CalibrationConfig   `mapstructure:"calibration" validate:"required"`
	Strategy      StrategyConfig      `mapstructure:"strategy" validate:"required"`
	Bankroll      BankrollConfig      `mapstructure:"bankroll" validate:"required"`
	Safety        SafetyConfig        `mapstructure:"safety" validate:"required"`
	Backtest      BacktestConfig      `mapstructure:"backtest" validate:"required"`
	WalkForward   WalkForwardConfig   `mapstructure:"walk_forward" validate:"required"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle" validate:"required"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	KillSwitch    KillSwitchConfig    `mapstructure:"kill_switch" validate:"required"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler" validate:"required"`
	Metrics       MetricsConfig       `mapstructure:"metrics" validate:"required"`
	Bot           BotConfig           `mapstructure:"bot" validate:"required"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// DatabaseConfig selects and configures the persistence backend
type DatabaseConfig struct {
	Driver         string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	Host           string `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port           int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name           string `mapstructure:"name" validate:"required_if=Driver postgres"`
	User           string `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections int    `mapstructure:"max_connections" validate:"omitempty,gt=0"`
	SQLitePath     string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
}

// DataSourceConfig configures the external race-data source
type DataSourceConfig struct {
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"required,gt=0"`
	Burst             int     `mapstructure:"burst" validate:"required,gt=0"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" validate:"required,gt=0"`
	RetryMax          int     `mapstructure:"retry_max" validate:"gte=0"`
	CacheTTLSeconds   int     `mapstructure:"cache_ttl_seconds" validate:"gte=0"`
	HistoryFile       string  `mapstructure:"history_file"`
}

// ScoringConfig configures the factor scoring engine
type ScoringConfig struct {
	ProgramCacheTTLMinutes int `mapstructure:"program_cache_ttl_minutes" validate:"required,gt=0"`
	MaxConcurrentRaces     int `mapstructure:"max_concurrent_races" validate:"required,gt=0"`
}

// CalibrationConfig configures calibration model fitting
type CalibrationConfig struct {
	Method        string `mapstructure:"method" validate:"required,calibmethod"`
	MinSamples    int    `mapstructure:"min_samples" validate:"required,gt=0"`
	Bins          int    `mapstructure:"bins" validate:"required,gt=1"`
	MaxIterations int    `mapstructure:"max_iterations" validate:"required,gt=0"`

	StratifiedBase    string `mapstructure:"stratified_base" validate:"omitempty,oneof=PLATT ISOTONIC"`
	MinStratumSamples int    `mapstructure:"min_stratum_samples" validate:"gte=0"`
}

// StrategyConfig selects and parameterises the EV strategy
type StrategyConfig struct {
	Name        string   `mapstructure:"name" validate:"required,strategyname"`
	EVThreshold float64  `mapstructure:"ev_threshold" validate:"required,gt=0"`
	FixedStake  float64  `mapstructure:"fixed_stake" validate:"gte=0"`
	MinOdds     float64  `mapstructure:"min_odds" validate:"gte=0"`
	MaxOdds     float64  `mapstructure:"max_odds" validate:"gte=0"`
	BetTypes    []string `mapstructure:"bet_types" validate:"required,min=1,bettypes"`
}

// BankrollConfig represents stake sizing and risk limits
type BankrollConfig struct {
	InitialBalance       float64 `mapstructure:"initial_balance" validate:"required,gt=0"`
	KellyMultiplier      float64 `mapstructure:"kelly_multiplier" validate:"required,gt=0,lte=1"`
	MaxBetFraction       float64 `mapstructure:"max_bet_fraction" validate:"required,gt=0,lte=1"`
	MaxDailyFraction     float64 `mapstructure:"max_daily_fraction" validate:"required,gt=0,lte=1"`
	DrawdownSoft         float64 `mapstructure:"drawdown_soft" validate:"required,gt=0,lt=1"`
	DrawdownHard         float64 `mapstructure:"drawdown_hard" validate:"required,gt=0,lt=1"`
	ThrottleScale        float64 `mapstructure:"throttle_scale" validate:"required,gt=0,lte=1"`
	StakeUnit            float64 `mapstructure:"stake_unit" validate:"required,gt=0"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses" validate:"gte=0"`
	MaxDailyLoss         float64 `mapstructure:"max_daily_loss" validate:"gte=0"`
	Timezone             string  `mapstructure:"timezone" validate:"required"`
}

// SafetyConfig configures the pre-bet safety gate
type SafetyConfig struct {
	OddsDriftTolerance float64 `mapstructure:"odds_drift_tolerance" validate:"required,gt=0,lt=1"`
}

// BacktestConfig represents backtesting configuration
type BacktestConfig struct {
	StartDate            string  `mapstructure:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate              string  `mapstructure:"end_date" validate:"required,datetime=2006-01-02"`
	InitialBankroll      float64 `mapstructure:"initial_bankroll" validate:"required,gt=0"`
	MonteCarloIterations int     `mapstructure:"monte_carlo_iterations" validate:"required,gt=0"`
	MonteCarloSeed       int64   `mapstructure:"monte_carlo_seed"`
	OutputPath           string  `mapstructure:"output_path" validate:"required"`
	RiskFreeRate         float64 `mapstructure:"risk_free_rate" validate:"gte=0"`
}

// WalkForwardConfig represents walk-forward window sizing
type WalkForwardConfig struct {
	TrainingDays   int  `mapstructure:"training_days" validate:"required,gt=0"`
	ValidationDays int  `mapstructure:"validation_days" validate:"required,gt=0"`
	StepDays       int  `mapstructure:"step_days" validate:"required,gt=0"`
	Anchored       bool `mapstructure:"anchored"`
	MinSamples     int  `mapstructure:"min_samples" validate:"gte=0"`
}

// LifecycleConfig configures factor promotion and degradation
type LifecycleConfig struct {
	MinBetsForApproval int               `mapstructure:"min_bets_for_approval" validate:"gte=0"`
	MinROIForApproval  float64           `mapstructure:"min_roi_for_approval"`
	MinHitRate         float64           `mapstructure:"min_hit_rate" validate:"gte=0,lte=1"`
	Degradation        DegradationConfig `mapstructure:"degradation" validate:"required"`
}

// DegradationConfig defines when an approved factor is auto-deprecated
type DegradationConfig struct {
	Statistic string  `mapstructure:"statistic" validate:"required,oneof=roi hit_rate validation_score decay_rate"`
	MinSample int     `mapstructure:"min_sample" validate:"gte=0"`
	Threshold float64 `mapstructure:"threshold"`
}

// NotificationsConfig configures outbound event publishing
type NotificationsConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka event publisher
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

// KillSwitchConfig selects the emergency-stop backend
type KillSwitchConfig struct {
	Backend string      `mapstructure:"backend" validate:"required,oneof=local redis"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Key      string `mapstructure:"key"`
}

// SchedulerConfig holds cron expressions for background jobs
type SchedulerConfig struct {
	ReconcileCron   string `mapstructure:"reconcile_cron" validate:"required"`
	DailyResetCron  string `mapstructure:"daily_reset_cron" validate:"required"`
	DegradationCron string `mapstructure:"degradation_cron" validate:"required"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Path    string `mapstructure:"path" validate:"required"`
}

// BotConfig represents live-loop configuration
type BotConfig struct {
	PollIntervalSeconds    int  `mapstructure:"poll_interval_seconds" validate:"required,gt=0"`
	ExecutorTimeoutSeconds int  `mapstructure:"executor_timeout_seconds" validate:"required,gt=0"`
	DryRun                 bool `mapstructure:"dry_run"`
	HealthPort             int  `mapstructure:"health_port" validate:"omitempty,min=1,max=65535"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Location resolves the trading-day timezone, falling back to UTC.
func (b BankrollConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
