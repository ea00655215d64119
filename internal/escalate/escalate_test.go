package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(w *Webhook) *Webhook {
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func TestTerminalEscalate(t *testing.T) {
	var buf strings.Builder
	term := NewTerminalWithWriter(&buf)

	err := term.Escalate(context.Background(), Escalation{
		Severity: SeverityBlocking,
		Issue:    42,
		EM:       1,
		Worker:   2,
		Title:    "orchestration failed",
		Message:  "EM PR closed without merging",
		Context:  map[string]string{"pr": "https://example.com/pr/7"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[blocking]")
	assert.Contains(t, out, "#42")
	assert.Contains(t, out, "em 1, worker 2")
	assert.Contains(t, out, "closed without merging")
	assert.Contains(t, out, "https://example.com/pr/7")
}

func TestTerminalOmitsRecordLineAtOrchestrationLevel(t *testing.T) {
	var buf strings.Builder
	err := NewTerminalWithWriter(&buf).Escalate(context.Background(), Escalation{
		Severity: SeverityWarning,
		Issue:    7,
		Title:    "x",
	})
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "record:")
}

func TestTerminalRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf strings.Builder
	err := NewTerminalWithWriter(&buf).Escalate(ctx, Escalation{Title: "x"})
	assert.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestWebhookEscalate(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := noSleep(NewWebhook(srv.URL)).Escalate(context.Background(), Escalation{
		Severity: SeverityWarning,
		Issue:    7,
		EM:       1,
		Worker:   2,
		Title:    "worker stalled",
	})
	require.NoError(t, err)
	assert.Equal(t, "warning", got.Severity)
	assert.Equal(t, 7, got.Issue)
	assert.Equal(t, 1, got.EM)
	assert.Equal(t, 2, got.Worker)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := noSleep(NewWebhook(srv.URL)).Escalate(context.Background(), Escalation{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := noSleep(NewWebhook(srv.URL)).Escalate(context.Background(), Escalation{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load(), "4xx is a misconfigured endpoint, not transient")
}

func TestWebhookGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := noSleep(NewWebhook(srv.URL)).Escalate(context.Background(), Escalation{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

type stubEscalator struct {
	name string
	err  error
	seen []Escalation
}

func (s *stubEscalator) Escalate(_ context.Context, e Escalation) error {
	s.seen = append(s.seen, e)
	return s.err
}

func (s *stubEscalator) Name() string { return s.name }

func TestMultiAttemptsEveryBackend(t *testing.T) {
	bad := &stubEscalator{name: "bad", err: errors.New("boom")}
	ok := &stubEscalator{name: "ok"}

	err := NewMulti(bad, ok).Escalate(context.Background(), Escalation{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom", "failures carry the backend name")
	assert.Len(t, bad.seen, 1)
	assert.Len(t, ok.seen, 1, "a failing backend must not stop the rest")
}

func TestMultiJoinsAllFailures(t *testing.T) {
	a := &stubEscalator{name: "a", err: errors.New("first")}
	b := &stubEscalator{name: "b", err: errors.New("second")}

	err := NewMulti(a, b).Escalate(context.Background(), Escalation{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: first")
	assert.Contains(t, err.Error(), "b: second")
}

func TestMultiEmptyIsNoop(t *testing.T) {
	assert.NoError(t, NewMulti().Escalate(context.Background(), Escalation{}))
}

func TestForConfig(t *testing.T) {
	assert.Equal(t, "terminal", ForConfig("").Name())
	assert.Equal(t, "multi", ForConfig("https://hooks.example.com").Name())
}
