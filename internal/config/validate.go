package config

import (
	"errors"
	"fmt"
)

// Validation range constants.
const (
	minTombstoneRetentionDays = 0
	minDeletePercent          = 1
	maxDeletePercent          = 100
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSafety(&cfg.Safety)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateSafety(s *SafetyConfig) []error {
	var errs []error

	if s.TombstoneRetentionDays < minTombstoneRetentionDays {
		errs = append(errs, fmt.Errorf("tombstone_retention_days: must be >= %d, got %d",
			minTombstoneRetentionDays, s.TombstoneRetentionDays))
	}

	if s.MaxDeletePercent < minDeletePercent || s.MaxDeletePercent > maxDeletePercent {
		errs = append(errs, fmt.Errorf("max_delete_percent: must be between %d and %d, got %d",
			minDeletePercent, maxDeletePercent, s.MaxDeletePercent))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	if !validLogLevels[l.LogLevel] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel)}
	}

	return nil
}
