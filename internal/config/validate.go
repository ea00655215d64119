package config

import (
	"errors"
	"fmt"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// validate checks all config values, joining every failure so the operator
// fixes them in one pass.
func validate(cfg *Config) error {
	var errs []error

	if cfg.GitHubToken == "" {
		errs = append(errs, &ValidationError{
			Field:   "github-token",
			Message: "must be set",
		})
	}
	if cfg.RepoOwner == "" {
		errs = append(errs, &ValidationError{
			Field:   "repo-owner",
			Message: "must be set",
		})
	}
	if cfg.RepoName == "" {
		errs = append(errs, &ValidationError{
			Field:   "repo-name",
			Message: "must be set",
		})
	}
	if cfg.ClaudeConfigsJSON == "" {
		errs = append(errs, &ValidationError{
			Field:   "claude-configs",
			Message: "must be a non-empty JSON array of credentials",
		})
	}

	if cfg.MaxEms < 1 {
		errs = append(errs, &ValidationError{
			Field:   "max-ems",
			Value:   cfg.MaxEms,
			Message: "must be at least 1",
		})
	}
	if cfg.MaxWorkersPerEM < 1 {
		errs = append(errs, &ValidationError{
			Field:   "max-workers-per-em",
			Value:   cfg.MaxWorkersPerEM,
			Message: "must be at least 1",
		})
	}
	if cfg.ReviewWaitMinutes < 0 {
		errs = append(errs, &ValidationError{
			Field:   "review-wait-minutes",
			Value:   cfg.ReviewWaitMinutes,
			Message: "must be non-negative",
		})
	}
	if cfg.DispatchStaggerMs < 0 {
		errs = append(errs, &ValidationError{
			Field:   "dispatch-stagger-ms",
			Value:   cfg.DispatchStaggerMs,
			Message: "must be non-negative",
		})
	}
	if cfg.StallTimeoutMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "stall-timeout-minutes",
			Value:   cfg.StallTimeoutMinutes,
			Message: "must be at least 1",
		})
	}
	if cfg.PRLabel == "" {
		errs = append(errs, &ValidationError{
			Field:   "pr-label",
			Message: "must not be empty",
		})
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "log-level",
			Value:   cfg.LogLevel,
			Message: "must be debug, info, warn, or error",
		})
	}

	return errors.Join(errs...)
}
