package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "planner.max_group_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePlanner()...)
	errors = append(errors, c.validateReservation()...)
	errors = append(errors, c.validateResolution()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePlanner() []ValidationError {
	var errors []ValidationError

	if c.Planner.MaxGroupSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "planner.max_group_size",
			Value:   c.Planner.MaxGroupSize,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateReservation() []ValidationError {
	var errors []ValidationError

	if c.Reservation.StaleAfterMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "reservation.stale_after_minutes",
			Value:   c.Reservation.StaleAfterMinutes,
			Message: "must be at least 1",
		})
	}
	if c.Reservation.CleanupIntervalMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "reservation.cleanup_interval_minutes",
			Value:   c.Reservation.CleanupIntervalMinutes,
			Message: "must be non-negative (0 disables the sweep)",
		})
	}

	return errors
}

func (c *Config) validateResolution() []ValidationError {
	var errors []ValidationError

	if c.Resolution.SimilarityThreshold < 0 || c.Resolution.SimilarityThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "resolution.similarity_threshold",
			Value:   c.Resolution.SimilarityThreshold,
			Message: "must be between 0 and 1",
		})
	}

	return errors
}

func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.DebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
