package claude

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(d *Dispatcher) *Dispatcher {
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func twoKeyRing(t *testing.T) *Ring {
	t.Helper()
	ring, err := NewRing([]Credential{{APIKey: "key-a"}, {APIKey: "key-b"}})
	require.NoError(t, err)
	return ring
}

func TestExecuteTaskSuccess(t *testing.T) {
	mock := &MockClient{
		ExecuteFunc: func(_ context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
			assert.Equal(t, "key-a", opts.Env["ANTHROPIC_API_KEY"])
			return &ExecuteResult{
				Stdout: `{"type":"result","result":"done","session_id":"sess-1","usage":{"input_tokens":120,"output_tokens":45}}`,
			}, nil
		},
	}

	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DefaultDispatchConfig, nil))

	res, err := d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, 120, res.InputTokens)
	assert.Equal(t, 45, res.OutputTokens)
}

func TestExecuteTaskPlainTextOutput(t *testing.T) {
	mock := &MockClient{
		ExecuteFunc: func(context.Context, ExecuteOptions) (*ExecuteResult, error) {
			return &ExecuteResult{Stdout: "no envelope here"}, nil
		},
	}
	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DefaultDispatchConfig, nil))

	res, err := d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "no envelope here", res.Output)
}

// Rate-limit rotation must switch credentials without consuming the retry
// budget.
func TestExecuteTaskRotatesOnRateLimit(t *testing.T) {
	ring := twoKeyRing(t)
	var keysSeen []string

	mock := &MockClient{
		ExecuteFunc: func(_ context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
			key := opts.Env["ANTHROPIC_API_KEY"]
			keysSeen = append(keysSeen, key)
			if key == "key-a" {
				return &ExecuteResult{Stderr: "HTTP 429 rate_limit"},
					errors.New("exit status 1")
			}
			return &ExecuteResult{Stdout: `{"result":"ok","session_id":"s"}`}, nil
		},
	}

	d := noSleep(NewDispatcher(mock, ring, DefaultDispatchConfig, nil))
	res, err := d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"key-a", "key-b"}, keysSeen)
	assert.Equal(t, 1, ring.Cursor(), "ring cursor points at the working credential")
}

// A single-credential ring rotating on rate limit must terminate within the
// retry budget rather than looping forever.
func TestExecuteTaskSingleCredentialRateLimitTerminates(t *testing.T) {
	ring, err := NewRing([]Credential{{APIKey: "only"}})
	require.NoError(t, err)

	var calls int
	mock := &MockClient{
		ExecuteFunc: func(context.Context, ExecuteOptions) (*ExecuteResult, error) {
			calls++
			return &ExecuteResult{Stderr: "too many requests"}, errors.New("exit status 1")
		},
	}

	d := noSleep(NewDispatcher(mock, ring, DispatchConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil))

	_, err = d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})
	require.Error(t, err)
	// Per attempt: initial call plus one full ring cycle; two attempts total.
	assert.LessOrEqual(t, calls, 4)
}

func TestExecuteTaskAuthFailureAbortsImmediately(t *testing.T) {
	var calls int
	mock := &MockClient{
		ExecuteFunc: func(context.Context, ExecuteOptions) (*ExecuteResult, error) {
			calls++
			return &ExecuteResult{Stderr: "invalid_api_key"}, errors.New("exit status 1")
		},
	}

	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DefaultDispatchConfig, nil))
	_, err := d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})

	require.Error(t, err)
	var nonRetryable *NonRetryableError
	assert.ErrorAs(t, err, &nonRetryable)
	assert.Equal(t, 1, calls, "auth failures must not retry or rotate")
}

func TestExecuteTaskRetriesOrdinaryFailures(t *testing.T) {
	var calls int
	mock := &MockClient{
		ExecuteFunc: func(context.Context, ExecuteOptions) (*ExecuteResult, error) {
			calls++
			if calls < 3 {
				return &ExecuteResult{Stderr: "transient network blip"}, errors.New("exit status 1")
			}
			return &ExecuteResult{Stdout: `{"result":"ok"}`}, nil
		},
	}

	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DefaultDispatchConfig, nil))
	res, err := d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
}

func TestExecuteTaskExhaustsRetries(t *testing.T) {
	mock := &MockClient{
		ExecuteFunc: func(context.Context, ExecuteOptions) (*ExecuteResult, error) {
			return &ExecuteResult{Stderr: "boom"}, errors.New("exit status 1")
		},
	}

	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DispatchConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil))

	_, err := d.ExecuteTask(context.Background(), ExecuteOptions{Prompt: "p", WorkDir: "/w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, mock.Calls, 3)
}

func TestResumeSession(t *testing.T) {
	mock := &MockClient{
		ExecuteFunc: func(_ context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
			assert.Equal(t, "sess-9", opts.SessionID)
			assert.Contains(t, opts.Prompt, "add error handling")
			return &ExecuteResult{Stdout: `{"result":"fixed","session_id":"sess-9"}`}, nil
		},
	}

	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DefaultDispatchConfig, nil))
	res, err := d.ResumeSession(context.Background(), "/w", "sess-9", "please add error handling")
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.Output)
}

func TestGenerateChangesSummary(t *testing.T) {
	mock := &MockClient{
		ExecuteFunc: func(_ context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
			assert.Contains(t, opts.Prompt, "src/server.go")
			return &ExecuteResult{Stdout: `{"result":"Added the /health endpoint."}`}, nil
		},
	}

	d := noSleep(NewDispatcher(mock, twoKeyRing(t), DefaultDispatchConfig, nil))
	summary, err := d.GenerateChangesSummary(context.Background(), "/w", "sess-1", []string{"src/server.go"})
	require.NoError(t, err)
	assert.Equal(t, "Added the /health endpoint.", summary)
}

func TestIsRateLimited(t *testing.T) {
	positives := []string{
		"Rate Limit exceeded",
		"error: rate_limit_error",
		"got HTTP 429",
		"Too Many Requests",
		"upstream rate-limit hit",
		"RateLimit reached",
	}
	for _, s := range positives {
		assert.True(t, IsRateLimited(s), "%q must match", s)
	}

	assert.False(t, IsRateLimited("connection reset by peer"))
}

func TestNonRetryableReason(t *testing.T) {
	assert.Equal(t, "invalid_api_key", NonRetryableReason("error: invalid_api_key"))
	assert.Equal(t, "authentication", NonRetryableReason("Authentication failed"))
	assert.Equal(t, "permission denied", NonRetryableReason("Permission Denied for model"))
	assert.Empty(t, NonRetryableReason("some other error"))
}
