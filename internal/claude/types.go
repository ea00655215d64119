package claude

import (
	"io"
	"time"
)

// ExecuteOptions configures one Claude CLI execution.
type ExecuteOptions struct {
	// Prompt is the instruction to send to Claude.
	Prompt string

	// WorkDir is the working directory for the claude command.
	WorkDir string

	// SessionID resumes an earlier session when non-empty.
	SessionID string

	// MaxTurns limits the number of conversation turns.
	MaxTurns int

	// AllowedTools restricts the agent's tool set.
	AllowedTools []string

	// Timeout is the maximum execution time.
	Timeout time.Duration

	// Env holds extra environment variables (credential material).
	Env map[string]string

	// Stderr receives the agent's stderr stream (nil discards into the
	// captured buffer only).
	Stderr io.Writer
}

// ExecuteResult is the raw outcome of one CLI invocation.
type ExecuteResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// TaskResult is the dispatcher's view of a completed task, including the
// telemetry harvested from the CLI's JSON envelope.
type TaskResult struct {
	Success      bool
	Output       string
	SessionID    string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Err          error
}

// resultEnvelope is the JSON document the CLI prints with
// --output-format json.
type resultEnvelope struct {
	Type      string `json:"type"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// DefaultAllowedTools is the tool set granted to coding workers.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}

// DefaultExecuteOptions returns options suitable for one coding task.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		MaxTurns:     30,
		AllowedTools: DefaultAllowedTools,
		Timeout:      20 * time.Minute,
	}
}
