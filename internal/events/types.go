// Package events defines the two event surfaces of the orchestrator: the
// triggers it consumes from the hosting CI platform, and the internal
// progress events the reactor emits while handling one trigger.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Event records a single reactor decision or side effect.
type Event struct {
	// Time is when the event occurred (set by the bus on emit)
	Time time.Time `json:"time"`

	// Type identifies what happened
	Type EventType `json:"type"`

	// Issue is the issue number the orchestration is rooted at
	Issue int `json:"issue,omitempty"`

	// EM is the engineering-manager id (nil for orchestration-level events)
	EM *int `json:"em,omitempty"`

	// Worker is the worker id within the EM (nil if not worker-related)
	Worker *int `json:"worker,omitempty"`

	// PR is the pull request number (nil if not PR-related)
	PR *int `json:"pr,omitempty"`

	// Error contains the error message if this is a failure event
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category.
type EventType string

// Orchestration lifecycle events
const (
	OrchCreated   EventType = "orch.created"
	OrchAnalyzed  EventType = "orch.analyzed"
	OrchCompleted EventType = "orch.completed"
	OrchFailed    EventType = "orch.failed"
)

// EM lifecycle events
const (
	EMBrokenDown EventType = "em.broken_down"
	EMPROpened   EventType = "em.pr.opened"
	EMMerged     EventType = "em.merged"
	EMFailed     EventType = "em.failed"
)

// Worker lifecycle events
const (
	WorkerDispatched EventType = "worker.dispatched"
	WorkerPushed     EventType = "worker.pushed"
	WorkerSkipped    EventType = "worker.skipped"
	WorkerPROpened   EventType = "worker.pr.opened"
	WorkerMerged     EventType = "worker.merged"
	WorkerFailed     EventType = "worker.failed"
)

// Review events
const (
	ReviewApproved  EventType = "review.approved"
	ReviewChanges   EventType = "review.changes_requested"
	ReviewAddressed EventType = "review.addressed"
)

// Final PR events
const (
	FinalPROpened EventType = "final.pr.opened"
	FinalPRMerged EventType = "final.pr.merged"
)

// Watchdog events
const (
	StallDetected EventType = "stall.detected"
	StallResumed  EventType = "stall.resume_dispatched"
)

// State store events
const (
	StateSaved      EventType = "state.saved"
	StateSaveFailed EventType = "state.save_failed"
)

// New creates an event of the given type for an issue.
func New(eventType EventType, issue int) Event {
	return Event{Type: eventType, Issue: issue}
}

// WithEM returns a copy of the event with the EM id set.
func (e Event) WithEM(em int) Event {
	e.EM = &em
	return e
}

// WithWorker returns a copy of the event with the worker id set.
func (e Event) WithWorker(worker int) Event {
	e.Worker = &worker
	return e
}

// WithPR returns a copy of the event with the PR number set.
func (e Event) WithPR(pr int) Event {
	e.PR = &pr
	return e
}

// WithError returns a copy of the event with the error message set.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure reports whether this is a failure event type.
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed") || e.Type == StateSaveFailed || e.Type == ReviewChanges
}

// String renders the event for log lines.
func (e Event) String() string {
	parts := []string{fmt.Sprintf("[%s]", e.Type)}

	if e.Issue != 0 {
		parts = append(parts, fmt.Sprintf("issue=#%d", e.Issue))
	}
	if e.EM != nil {
		parts = append(parts, fmt.Sprintf("em=%d", *e.EM))
	}
	if e.Worker != nil {
		parts = append(parts, fmt.Sprintf("worker=%d", *e.Worker))
	}
	if e.PR != nil {
		parts = append(parts, fmt.Sprintf("pr=#%d", *e.PR))
	}

	return strings.Join(parts, " ")
}
