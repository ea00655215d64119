package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the shape of the optional .cco.yml repo file. It carries
// only tunables; secrets never live in the repository.
type fileConfig struct {
	MaxEms              *int    `yaml:"max_ems"`
	MaxWorkersPerEM     *int    `yaml:"max_workers_per_em"`
	ReviewWaitMinutes   *int    `yaml:"review_wait_minutes"`
	DispatchStaggerMs   *int    `yaml:"dispatch_stagger_ms"`
	StallTimeoutMinutes *int    `yaml:"stall_timeout_minutes"`
	PRLabel             *string `yaml:"pr_label"`
	BaseBranch          *string `yaml:"base_branch"`
	LogLevel            *string `yaml:"log_level"`
}

// applyFile overlays the repo file onto cfg when it exists. A missing file
// is not an error; a malformed one is.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.MaxEms != nil {
		cfg.MaxEms = *fc.MaxEms
	}
	if fc.MaxWorkersPerEM != nil {
		cfg.MaxWorkersPerEM = *fc.MaxWorkersPerEM
	}
	if fc.ReviewWaitMinutes != nil {
		cfg.ReviewWaitMinutes = *fc.ReviewWaitMinutes
	}
	if fc.DispatchStaggerMs != nil {
		cfg.DispatchStaggerMs = *fc.DispatchStaggerMs
	}
	if fc.StallTimeoutMinutes != nil {
		cfg.StallTimeoutMinutes = *fc.StallTimeoutMinutes
	}
	if fc.PRLabel != nil {
		cfg.PRLabel = *fc.PRLabel
	}
	if fc.BaseBranch != nil {
		cfg.BaseBranch = *fc.BaseBranch
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	return nil
}
