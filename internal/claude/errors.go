package claude

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPrompt indicates Execute was called with an empty prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrEmptyWorkDir indicates Execute was called with an empty working
	// directory.
	ErrEmptyWorkDir = errors.New("working directory cannot be empty")

	// ErrTimeout indicates the execution exceeded its timeout.
	ErrTimeout = errors.New("claude execution timed out")
)

// ExecutionError wraps a non-zero CLI exit.
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("claude execution failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NonRetryableError marks a failure that retries cannot fix, such as bad
// credentials.
type NonRetryableError struct {
	Reason string
	Err    error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("claude: non-retryable failure (%s): %v", e.Reason, e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// rateLimitPatterns are the signatures the providers emit when throttling.
var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"rate-limit",
	"ratelimit",
	"429",
	"too many requests",
}

// nonRetryablePatterns mark auth failures that rotation or retries cannot
// fix.
var nonRetryablePatterns = []string{
	"invalid_api_key",
	"authentication",
	"permission denied",
}

// IsRateLimited reports whether the combined output matches a provider
// throttling signature.
func IsRateLimited(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// NonRetryableReason returns the matched sentinel when the output indicates
// a permanently failing credential or permission, or empty otherwise.
func NonRetryableReason(text string) string {
	lower := strings.ToLower(text)
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(lower, pattern) {
			return pattern
		}
	}
	return ""
}
