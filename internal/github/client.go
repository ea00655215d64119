// Package github is the idempotent gateway to the version-control host.
// Every operation either tolerates repetition (create-if-absent, upsert by
// marker, minimal label diff) or reports a typed classification the reactor
// can act on. Transient failures retry with jittered exponential backoff;
// 4xx responses surface as terminal.
package github

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	gh "github.com/google/go-github/v68/github"
)

// RetryConfig controls the retry envelope around host API calls.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches the host's documented secondary-rate-limit
// guidance.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Client wraps the typed host API client with owner/repo binding and the
// retry envelope.
type Client struct {
	gh     *gh.Client
	owner  string
	repo   string
	retry  RetryConfig
	logger *log.Logger

	// sleep is swappable so tests can skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a gateway authenticated with the given token.
func NewClient(token, owner, repo string, logger *log.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("github token must not be empty")
	}
	if owner == "" || repo == "" {
		return nil, errors.New("owner and repo must not be empty")
	}
	return newClient(gh.NewClient(nil).WithAuthToken(token), owner, repo, logger), nil
}

// NewClientWithGitHub creates a gateway from an existing typed client.
// Used in tests to point at an httptest server.
func NewClientWithGitHub(ghClient *gh.Client, owner, repo string, logger *log.Logger) *Client {
	return newClient(ghClient, owner, repo, logger)
}

func newClient(ghClient *gh.Client, owner, repo string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		gh:     ghClient,
		owner:  owner,
		repo:   repo,
		retry:  DefaultRetryConfig,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Owner returns the bound repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the bound repository name.
func (c *Client) Repo() string { return c.repo }

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrNotFound marks a missing resource. Callers that treat absence as
// idempotent success check for it with errors.Is.
var ErrNotFound = errors.New("github: resource not found")

// PermanentError wraps a non-retryable host response.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("github: permanent failure (status %d): %v", e.StatusCode, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// retryable reports whether the error is worth another attempt, and the
// wait the host asked for when it said so explicitly.
func retryable(err error) (bool, time.Duration) {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return true, time.Until(rateErr.Rate.Reset.Time)
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil {
			return true, *abuseErr.RetryAfter
		}
		return true, 0
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests, 0
	}
	// Transport-level failures (connection reset, DNS) have no typed
	// response; retry them.
	return true, 0
}

// classify converts a final error into the gateway's taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		if code == http.StatusNotFound {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if code >= 400 && code < 500 {
			return &PermanentError{StatusCode: code, Err: err}
		}
	}
	return err
}

// withRetry runs op under the retry envelope. Transient failures back off
// exponentially with jitter; everything else is classified and returned.
func (c *Client) withRetry(ctx context.Context, label string, op func() error) error {
	backoff := c.retry.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		retry, hostWait := retryable(err)
		if !retry {
			return classify(err)
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		wait := jitter(backoff)
		if hostWait > wait {
			wait = hostWait
		}
		c.logger.Warn("github call failed, retrying",
			"op", label, "attempt", attempt, "wait", wait, "err", err)

		if err := c.sleep(ctx, wait); err != nil {
			return err
		}

		backoff *= 2
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}

	return fmt.Errorf("github: %s failed after %d attempts: %w", label, c.retry.MaxAttempts, lastErr)
}

// jitter spreads a backoff over [d/2, d] so that parallel reactor
// invocations do not hammer the host in lockstep.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
