package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohsen1/cco/internal/jsonutil"
)

// DispatchConfig bounds the retry envelope around one task.
type DispatchConfig struct {
	// MaxRetries is the ordinary-failure budget. Rate-limit rotations do
	// not consume it.
	MaxRetries int

	// InitialBackoff is the delay before the first ordinary retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
}

// DefaultDispatchConfig matches min(30s, 5s * 2^(attempt-1)).
var DefaultDispatchConfig = DispatchConfig{
	MaxRetries:     3,
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Dispatcher executes prompts with credential rotation and retries.
type Dispatcher struct {
	client Client
	ring   *Ring
	cfg    DispatchConfig
	logger *log.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher wires a dispatcher over a client and credential ring.
func NewDispatcher(client Client, ring *Ring, cfg DispatchConfig, logger *log.Logger) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg = DefaultDispatchConfig
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		client: client,
		ring:   ring,
		cfg:    cfg,
		logger: logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// ExecuteTask runs one prompt to completion. Rate-limit failures rotate the
// credential ring without consuming the retry budget, bounded to one full
// cycle of the ring per attempt. Auth failures abort immediately. Everything
// else retries with exponential backoff.
func (d *Dispatcher) ExecuteTask(ctx context.Context, opts ExecuteOptions) (*TaskResult, error) {
	start := time.Now()
	backoff := d.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		res, err := d.executeWithRotation(ctx, opts)
		if err == nil {
			task := d.harvest(res)
			task.Duration = time.Since(start)
			return task, nil
		}
		lastErr = err

		var nonRetryable *NonRetryableError
		if errors.As(err, &nonRetryable) {
			return &TaskResult{Err: err, Duration: time.Since(start)}, err
		}

		if attempt < d.cfg.MaxRetries {
			d.logger.Warn("claude task failed, retrying",
				"attempt", attempt, "backoff", backoff, "err", err)
			if serr := d.sleep(ctx, backoff); serr != nil {
				return &TaskResult{Err: serr, Duration: time.Since(start)}, serr
			}
			backoff *= 2
			if backoff > d.cfg.MaxBackoff {
				backoff = d.cfg.MaxBackoff
			}
		}
	}

	err := fmt.Errorf("claude task failed after %d attempts: %w", d.cfg.MaxRetries, lastErr)
	return &TaskResult{Err: err, Duration: time.Since(start)}, err
}

// executeWithRotation performs one logical attempt, rotating through the
// ring on rate limits. A full unsuccessful cycle of the ring counts as one
// ordinary failure.
func (d *Dispatcher) executeWithRotation(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
	cred := d.ring.Current()

	for rotations := 0; ; rotations++ {
		attempt := opts
		attempt.Env = mergeEnv(opts.Env, cred.Env())

		res, err := d.client.Execute(ctx, attempt)
		if err == nil {
			return res, nil
		}

		combined := errText(res, err)

		if reason := NonRetryableReason(combined); reason != "" {
			return res, &NonRetryableError{Reason: reason, Err: err}
		}

		if IsRateLimited(combined) && rotations < d.ring.Len() {
			cred = d.ring.RotateOnRateLimit()
			d.logger.Info("rate limited, rotating credential", "cursor", d.ring.Cursor())
			continue
		}

		return res, err
	}
}

// harvest extracts telemetry from the CLI's JSON envelope. Plain-text output
// degrades gracefully to a bare success with the raw stdout.
func (d *Dispatcher) harvest(res *ExecuteResult) *TaskResult {
	task := &TaskResult{Success: true, Output: res.Stdout}

	var envelope resultEnvelope
	if err := jsonutil.ExtractInto(res.Stdout, &envelope); err != nil {
		return task
	}

	if envelope.Result != "" {
		task.Output = envelope.Result
	}
	task.SessionID = envelope.SessionID
	task.InputTokens = envelope.Usage.InputTokens
	task.OutputTokens = envelope.Usage.OutputTokens
	if envelope.IsError {
		task.Success = false
	}
	return task
}

// RotateCredential advances the ring by hand. The reactor uses this when a
// response parsed fine at the transport level but had the wrong shape:
// malformed output is often model-specific, so the retry runs elsewhere.
func (d *Dispatcher) RotateCredential() {
	d.ring.RotateOnRateLimit()
	d.logger.Info("credential rotated", "cursor", d.ring.Cursor())
}

// ResumeSession continues an earlier session with feedback, used by the
// review loop.
func (d *Dispatcher) ResumeSession(ctx context.Context, workDir, sessionID, feedback string) (*TaskResult, error) {
	opts := DefaultExecuteOptions()
	opts.WorkDir = workDir
	opts.SessionID = sessionID
	opts.Prompt = feedback
	return d.ExecuteTask(ctx, opts)
}

// GenerateChangesSummary asks for a short description of the session's file
// changes, for use in PR bodies.
func (d *Dispatcher) GenerateChangesSummary(ctx context.Context, workDir, sessionID string, files []string) (string, error) {
	prompt := fmt.Sprintf(`Summarize the changes you just made in 2-4 sentences suitable for a pull request body.
Changed files:
%s

Return only the summary text, no preamble.`, strings.Join(files, "\n"))

	opts := ExecuteOptions{
		Prompt:    prompt,
		WorkDir:   workDir,
		SessionID: sessionID,
		MaxTurns:  1,
		Timeout:   2 * time.Minute,
	}
	res, err := d.ExecuteTask(ctx, opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func errText(res *ExecuteResult, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(err.Error())
	}
	if res != nil {
		b.WriteString("\n")
		b.WriteString(res.Stderr)
		b.WriteString("\n")
		b.WriteString(res.Stdout)
	}
	return b.String()
}
