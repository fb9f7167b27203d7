// Package config provides configuration management for the trio-odds service.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/odds"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	// Registration only fails for empty tags or nil functions
	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("market", validateMarket)
	_ = v.RegisterValidation("dbdriver", validateDriver)
	_ = v.RegisterValidation("racekey", validateRaceKey)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	if err := cv.validator.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
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

func validateMarket(fl validator.FieldLevel) bool {
	_, err := odds.ParseMarket(fl.Field().String())
	return err == nil
}

func validateDriver(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case DriverPostgres, DriverSQLite:
		return true
	default:
		return false
	}
}

func validateRaceKey(fl validator.FieldLevel) bool {
	return models.ValidateRaceKey(fl.Field().String()) == nil
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.Host == "" || cfg.Database.Name == "" || cfg.Database.User == "" {
			return fmt.Errorf("postgres driver requires database host, name and user")
		}
		if cfg.Database.Port == 0 {
			return fmt.Errorf("postgres driver requires database port")
		}
		if cfg.Database.MaxIdleConnections > cfg.Database.MaxConnections {
			return fmt.Errorf("max_idle_connections cannot exceed max_connections")
		}
	case DriverSQLite:
		if strings.TrimSpace(cfg.Database.SQLitePath) == "" {
			return fmt.Errorf("sqlite driver requires database sqlite_path")
		}
	}

	if cfg.IsProduction() {
		if cfg.Database.Driver == DriverPostgres && cfg.Database.SSLMode == "disable" {
			return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
		}
		if strings.HasPrefix(cfg.Bridge.BaseURL, "http://localhost") || strings.HasPrefix(cfg.Bridge.BaseURL, "http://127.0.0.1") {
			return fmt.Errorf("production environment cannot use a loopback odds bridge")
		}
	}

	if cfg.Scheduler.Enabled {
		if len(cfg.Scheduler.Watch) == 0 {
			return fmt.Errorf("scheduler is enabled but no race keys are watched")
		}
		if cfg.Scheduler.IntervalSeconds < 5 {
			return fmt.Errorf("scheduler interval_seconds must be at least 5")
		}
	}

	if cfg.Secrets.Enabled && (cfg.Secrets.Region == "" || cfg.Secrets.SecretName == "") {
		return fmt.Errorf("secrets overlay requires region and secret_name")
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var b strings.Builder
	for _, fieldError := range validationErrors {
		field := fieldError.Namespace()
		value := fieldError.Value()

		switch tag := fieldError.Tag(); tag {
		case "required":
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
		case "market":
			fmt.Fprintf(&b, "- Field '%s' must be one of: quinella, trio, trifecta\n", field)
		case "dbdriver":
			fmt.Fprintf(&b, "- Field '%s' must be one of: postgres, sqlite\n", field)
		case "racekey":
			fmt.Fprintf(&b, "- Field '%s' contains an invalid race key '%v'\n", field, value)
		case "oneof":
			fmt.Fprintf(&b, "- Field '%s' has invalid value '%v'\n", field, value)
		default:
			fmt.Fprintf(&b, "- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", b.String())
}
