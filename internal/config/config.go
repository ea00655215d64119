// Package config resolves one reactor invocation's configuration from the
// hosting platform's inputs. Precedence: action inputs / CCO_* environment
// variables, then the optional .cco.yml repo file, then defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohsen1/cco/internal/events"
)

// Defaults for the tunable limits.
const (
	DefaultMaxEms              = 3
	DefaultMaxWorkersPerEM     = 3
	DefaultReviewWaitMinutes   = 5
	DefaultDispatchStaggerMs   = 2000
	DefaultStallTimeoutMinutes = 60
	DefaultPRLabel             = "cco"
	DefaultBaseBranch          = "main"
)

// FileName is the optional repo-level configuration file.
const FileName = ".cco.yml"

// Config is everything one reactor invocation needs.
type Config struct {
	// GitHubToken authenticates the VCS gateway.
	GitHubToken string

	// RepoOwner and RepoName bind the gateway to one repository.
	RepoOwner string
	RepoName  string

	// RepoPath is the local checkout the reactor operates in.
	RepoPath string

	// Trigger is the external event this invocation handles.
	Trigger events.Trigger

	// ClaudeConfigsJSON is the raw credential ring configuration.
	ClaudeConfigsJSON string

	// Limits.
	MaxEms              int
	MaxWorkersPerEM     int
	ReviewWaitMinutes   int
	DispatchStaggerMs   int
	StallTimeoutMinutes int
	PRLabel             string
	BaseBranch          string

	// EscalationWebhook receives failure escalations when non-empty.
	EscalationWebhook string

	// LogLevel is debug, info, warn, or error.
	LogLevel string
}

// Load resolves the full configuration. The repo file is read from
// repoPath when present; env always wins.
func Load() (*Config, error) {
	cfg := &Config{
		MaxEms:              DefaultMaxEms,
		MaxWorkersPerEM:     DefaultMaxWorkersPerEM,
		ReviewWaitMinutes:   DefaultReviewWaitMinutes,
		DispatchStaggerMs:   DefaultDispatchStaggerMs,
		StallTimeoutMinutes: DefaultStallTimeoutMinutes,
		PRLabel:             DefaultPRLabel,
		BaseBranch:          DefaultBaseBranch,
		LogLevel:            "info",
		RepoPath:            ".",
	}

	if ws := os.Getenv("GITHUB_WORKSPACE"); ws != "" {
		cfg.RepoPath = ws
	}

	if err := applyFile(cfg, filepath.Join(cfg.RepoPath, FileName)); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
