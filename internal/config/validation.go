package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("calibmethod", validateCalibrationMethod)
	_ = v.RegisterValidation("strategyname", validateStrategyName)
	_ = v.RegisterValidation("bettypes", validateBetTypes)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	err := cv.validator.Struct(cfg)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return validateCrossField(cfg)
}

func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validateCalibrationMethod(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case "PLATT", "ISOTONIC", "STRATIFIED":
		return true
	default:
		return false
	}
}

func validateStrategyName(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "value", "fixed_stake":
		return true
	default:
		return false
	}
}

func validateBetTypes(fl validator.FieldLevel) bool {
	types, ok := fl.Field().Interface().([]string)
	if !ok || len(types) == 0 {
		return false
	}
	for _, t := range types {
		if t != "WIN" && t != "PLACE" {
			return false
		}
	}
	return true
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	startDate, err := time.Parse("2006-01-02", cfg.Backtest.StartDate)
	if err != nil {
		return fmt.Errorf("invalid backtest start_date format: %w", err)
	}
	endDate, err := time.Parse("2006-01-02", cfg.Backtest.EndDate)
	if err != nil {
		return fmt.Errorf("invalid backtest end_date format: %w", err)
	}
	if !startDate.Before(endDate) {
		return fmt.Errorf("backtest start_date must be before end_date")
	}

	if cfg.Bankroll.DrawdownSoft >= cfg.Bankroll.DrawdownHard {
		return fmt.Errorf("bankroll drawdown_soft must be below drawdown_hard")
	}
	if cfg.Bankroll.MaxBetFraction > cfg.Bankroll.MaxDailyFraction {
		return fmt.Errorf("bankroll max_bet_fraction cannot exceed max_daily_fraction")
	}
	if _, err := time.LoadLocation(cfg.Bankroll.Timezone); err != nil {
		return fmt.Errorf("invalid bankroll timezone %q: %w", cfg.Bankroll.Timezone, err)
	}

	if cfg.Strategy.MaxOdds > 0 && cfg.Strategy.MinOdds > cfg.Strategy.MaxOdds {
		return fmt.Errorf("strategy min_odds cannot exceed max_odds")
	}
	if cfg.Strategy.Name == "fixed_stake" && cfg.Strategy.FixedStake <= 0 {
		return fmt.Errorf("fixed_stake strategy requires a positive fixed_stake")
	}

	if cfg.KillSwitch.Backend == "redis" && cfg.KillSwitch.Redis.Addr == "" {
		return fmt.Errorf("redis kill switch requires kill_switch.redis.addr")
	}

	if cfg.IsProduction() {
		if cfg.Database.Driver == "postgres" && cfg.Database.SSLMode == "disable" {
			return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
		}
		if cfg.Database.Driver == "sqlite" {
			return fmt.Errorf("production environment requires the postgres driver")
		}
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var b strings.Builder
	for _, fieldError := range validationErrors {
		field := fieldError.Namespace()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required", "required_if":
			fmt.Fprintf(&b, "- Field '%s' is required\n", field)
		case "url":
			fmt.Fprintf(&b, "- Field '%s' must be a valid URL, got '%v'\n", field, value)
		case "min", "max":
			fmt.Fprintf(&b, "- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			fmt.Fprintf(&b, "- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			fmt.Fprintf(&b, "- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			fmt.Fprintf(&b, "- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "calibmethod":
			fmt.Fprintf(&b, "- Field '%s' must be one of: PLATT, ISOTONIC, STRATIFIED\n", field)
		case "strategyname":
			fmt.Fprintf(&b, "- Field '%s' must be one of: value, fixed_stake\n", field)
		case "bettypes":
			fmt.Fprintf(&b, "- Field '%s' may only contain WIN and PLACE\n", field)
		case "oneof":
			fmt.Fprintf(&b, "- Field '%s' has invalid value '%v'\n", field, value)
		default:
			fmt.Fprintf(&b, "- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", b.String())
}
