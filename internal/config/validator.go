package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "fleet.max_parallel_issues")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
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

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidProviders returns the list of supported platform providers.
func ValidProviders() []string {
	return []string{"github"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateFleet()...)
	errors = append(errors, c.validateBudget()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateImplementation()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validatePlatform()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateFleet() []ValidationError {
	var errors []ValidationError
	if c.Fleet.MaxParallelIssues < 1 {
		errors = append(errors, ValidationError{
			Field:   "fleet.max_parallel_issues",
			Value:   c.Fleet.MaxParallelIssues,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateBudget() []ValidationError {
	var errors []ValidationError
	if c.Budget.TokenLimitPerItem < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.token_limit_per_item",
			Value:   c.Budget.TokenLimitPerItem,
			Message: "must be zero (no limit) or positive",
		})
	}
	if c.Budget.FleetTokenLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.fleet_token_limit",
			Value:   c.Budget.FleetTokenLimit,
			Message: "must be zero (no limit) or positive",
		})
	}
	return errors
}

func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError
	if c.Retry.MaxPhaseAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_phase_attempts",
			Value:   c.Retry.MaxPhaseAttempts,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateImplementation() []ValidationError {
	var errors []ValidationError
	if c.Implementation.MaxParallelTasks < 1 {
		errors = append(errors, ValidationError{
			Field:   "implementation.max_parallel_tasks",
			Value:   c.Implementation.MaxParallelTasks,
			Message: "must be at least 1",
		})
	}
	if c.Implementation.MaxTaskAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "implementation.max_task_attempts",
			Value:   c.Implementation.MaxTaskAttempts,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError
	if c.Agent.Command == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "must not be empty",
		})
	}
	if c.Agent.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.timeout_minutes",
			Value:   c.Agent.TimeoutMinutes,
			Message: "must be zero (no timeout) or positive",
		})
	}
	return errors
}

func (c *Config) validatePlatform() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidProviders(), c.Platform.Provider) {
		errors = append(errors, ValidationError{
			Field:   "platform.provider",
			Value:   c.Platform.Provider,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviders(), ", ")),
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	return errors
}
