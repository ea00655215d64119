package escalate

import (
	"context"
	"errors"
	"fmt"
)

// Multi delivers an escalation to several backends in registration order.
// The reactor is a short-lived process with at most a handful of backends,
// so sequential delivery keeps ordering deterministic (the terminal log
// line lands before the webhook fires) and needs no goroutine bookkeeping.
// Every backend is attempted; failures are collected and joined, each
// tagged with its backend name.
type Multi struct {
	escalators []Escalator
}

// NewMulti creates a Multi escalator that sends to all provided backends.
func NewMulti(escalators ...Escalator) *Multi {
	return &Multi{escalators: escalators}
}

// Escalate sends the escalation to every backend.
func (m *Multi) Escalate(ctx context.Context, e Escalation) error {
	var errs []error
	for _, esc := range m.escalators {
		if err := esc.Escalate(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", esc.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns "multi".
func (m *Multi) Name() string { return "multi" }

// ForConfig assembles the escalator chain: always the terminal log, plus a
// webhook when a URL is configured.
func ForConfig(webhookURL string) Escalator {
	if webhookURL == "" {
		return NewTerminal()
	}
	return NewMulti(NewTerminal(), NewWebhook(webhookURL))
}
