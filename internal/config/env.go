package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mohsen1/cco/internal/events"
)

// input resolves an action input by name: the hosting runner's INPUT_<NAME>
// form first, then the CCO_<NAME> override form.
func input(name string) string {
	upper := strings.ToUpper(name)
	if v := os.Getenv("INPUT_" + upper); v != "" {
		return v
	}
	if v := os.Getenv("CCO_" + strings.ReplaceAll(upper, "-", "_")); v != "" {
		return v
	}
	return ""
}

func inputInt(name string, dst *int) error {
	v := input(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("input %s: %w", name, err)
	}
	*dst = n
	return nil
}

// applyEnv overlays action inputs and CCO_* variables onto cfg.
func applyEnv(cfg *Config) error {
	if v := input("github-token"); v != "" {
		cfg.GitHubToken = v
	}
	if v := input("repo-owner"); v != "" {
		cfg.RepoOwner = v
	}
	if v := input("repo-name"); v != "" {
		cfg.RepoName = v
	}
	if v := input("claude-configs"); v != "" {
		cfg.ClaudeConfigsJSON = v
	}
	if v := input("pr-label"); v != "" {
		cfg.PRLabel = v
	}
	if v := input("base-branch"); v != "" {
		cfg.BaseBranch = v
	}
	if v := input("escalation-webhook"); v != "" {
		cfg.EscalationWebhook = v
	}
	if v := input("log-level"); v != "" {
		cfg.LogLevel = v
	}

	for name, dst := range map[string]*int{
		"max-ems":               &cfg.MaxEms,
		"max-workers-per-em":    &cfg.MaxWorkersPerEM,
		"review-wait-minutes":   &cfg.ReviewWaitMinutes,
		"dispatch-stagger-ms":   &cfg.DispatchStaggerMs,
		"stall-timeout-minutes": &cfg.StallTimeoutMinutes,
	} {
		if err := inputInt(name, dst); err != nil {
			return err
		}
	}

	return applyTriggerEnv(cfg)
}

// applyTriggerEnv decodes the event payload inputs.
func applyTriggerEnv(cfg *Config) error {
	trigger := events.Trigger{
		Kind:        events.TriggerKind(input("event-type")),
		Branch:      input("branch"),
		ReviewState: events.ReviewState(input("review-state")),
		ReviewBody:  input("review-body"),
		Token:       input("idempotency-token"),
		Resume:      input("resume") == "true",
	}

	for name, dst := range map[string]*int{
		"issue-number": &trigger.IssueNumber,
		"pr-number":    &trigger.PRNumber,
		"em-id":        &trigger.EMID,
		"worker-id":    &trigger.WorkerID,
	} {
		if err := inputInt(name, dst); err != nil {
			return err
		}
	}

	cfg.Trigger = trigger
	return nil
}
