package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookPayload is the JSON structure sent to webhook endpoints. EM and
// Worker are omitted for orchestration-level escalations.
type WebhookPayload struct {
	Severity string            `json:"severity"`
	Issue    int               `json:"issue"`
	EM       int               `json:"em,omitempty"`
	Worker   int               `json:"worker,omitempty"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
}

// Webhook posts escalations to an HTTP endpoint as JSON. Escalations fire
// exactly when something is already wrong, so delivery retries transient
// failures the same way the host gateway does: 5xx and transport errors
// back off and retry, 4xx is a misconfigured endpoint and fails at once.
type Webhook struct {
	url    string
	client *http.Client

	maxAttempts    int
	initialBackoff time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWebhook creates a Webhook escalator with a default HTTP client and
// retry envelope.
func NewWebhook(url string) *Webhook {
	return NewWebhookWithClient(url, &http.Client{Timeout: 10 * time.Second})
}

// NewWebhookWithClient creates a Webhook escalator with a custom HTTP
// client.
func NewWebhookWithClient(url string, client *http.Client) *Webhook {
	return &Webhook{
		url:            url,
		client:         client,
		maxAttempts:    3,
		initialBackoff: 500 * time.Millisecond,
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

// Escalate delivers the escalation, retrying transient failures.
func (w *Webhook) Escalate(ctx context.Context, e Escalation) error {
	body, err := json.Marshal(WebhookPayload{
		Severity: string(e.Severity),
		Issue:    e.Issue,
		EM:       e.EM,
		Worker:   e.Worker,
		Title:    e.Title,
		Message:  e.Message,
		Context:  e.Context,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	backoff := w.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		status, err := w.post(ctx, body)
		switch {
		case err == nil && status < 300:
			return nil
		case err == nil && status >= 400 && status < 500:
			// The endpoint rejected the payload; retrying the same bytes
			// cannot succeed.
			return fmt.Errorf("webhook returned %d", status)
		case err == nil:
			lastErr = fmt.Errorf("webhook returned %d", status)
		default:
			lastErr = err
		}

		if attempt < w.maxAttempts {
			if serr := w.sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// Name returns "webhook".
func (w *Webhook) Name() string { return "webhook" }
