package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBuilders(t *testing.T) {
	e := New(WorkerDispatched, 42).WithEM(1).WithWorker(2).WithPR(101)

	assert.Equal(t, WorkerDispatched, e.Type)
	assert.Equal(t, 42, e.Issue)
	require.NotNil(t, e.EM)
	assert.Equal(t, 1, *e.EM)
	require.NotNil(t, e.Worker)
	assert.Equal(t, 2, *e.Worker)
	require.NotNil(t, e.PR)
	assert.Equal(t, 101, *e.PR)
}

func TestEventWithError(t *testing.T) {
	e := New(WorkerFailed, 1).WithError(errors.New("boom"))
	assert.Equal(t, "boom", e.Error)
	assert.True(t, e.IsFailure())

	ok := New(WorkerMerged, 1)
	assert.False(t, ok.IsFailure())
}

func TestEventString(t *testing.T) {
	e := New(WorkerPROpened, 42).WithEM(1).WithWorker(2).WithPR(7)
	s := e.String()
	assert.Contains(t, s, "[worker.pr.opened]")
	assert.Contains(t, s, "issue=#42")
	assert.Contains(t, s, "em=1")
	assert.Contains(t, s, "worker=2")
	assert.Contains(t, s, "pr=#7")
}

func TestBusEmitAndDrain(t *testing.T) {
	bus := NewBus()

	var seen []Event
	bus.Subscribe(func(e Event) { seen = append(seen, e) })

	bus.Emit(New(OrchCreated, 1))
	bus.Emit(New(OrchAnalyzed, 1))

	require.Len(t, seen, 2)
	assert.Equal(t, OrchCreated, seen[0].Type)
	assert.False(t, seen[0].Time.IsZero())

	all := bus.Events()
	require.Len(t, all, 2)
	assert.Equal(t, OrchAnalyzed, all[1].Type)
}

func TestTriggerValidate(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{"issue labeled ok", Trigger{Kind: TriggerIssueLabeled, IssueNumber: 1}, false},
		{"issue labeled missing issue", Trigger{Kind: TriggerIssueLabeled}, true},
		{"push ok", Trigger{Kind: TriggerPush, Branch: "cco/1-x-em1-w1"}, false},
		{"push missing branch", Trigger{Kind: TriggerPush}, true},
		{"pr opened ok", Trigger{Kind: TriggerPROpened, PRNumber: 5}, false},
		{"pr merged missing pr", Trigger{Kind: TriggerPRMerged}, true},
		{
			"review ok",
			Trigger{Kind: TriggerPRReview, PRNumber: 5, ReviewState: ReviewStateApproved},
			false,
		},
		{
			"review bad state",
			Trigger{Kind: TriggerPRReview, PRNumber: 5, ReviewState: "meh"},
			true,
		},
		{"schedule no payload", Trigger{Kind: TriggerSchedule}, false},
		{"unknown kind", Trigger{Kind: "nope"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIdempotencyTokenStable(t *testing.T) {
	a := Trigger{Kind: TriggerProgressCheck, IssueNumber: 42}
	b := Trigger{Kind: TriggerProgressCheck, IssueNumber: 42}
	assert.Equal(t, a.IdempotencyToken(), b.IdempotencyToken())

	// Different component ids produce different tokens.
	c := Trigger{Kind: TriggerProgressCheck, IssueNumber: 42, EMID: 1}
	assert.NotEqual(t, a.IdempotencyToken(), c.IdempotencyToken())
}

func TestIdempotencyTokenPassthrough(t *testing.T) {
	tr := Trigger{Kind: TriggerProgressCheck, IssueNumber: 1, Token: "carried"}
	assert.Equal(t, "carried", tr.IdempotencyToken())
}

func TestDispatchInputs(t *testing.T) {
	tr := Trigger{
		Kind:        TriggerProgressCheck,
		IssueNumber: 42,
		Resume:      true,
		EMID:        1,
		WorkerID:    2,
	}
	inputs := tr.DispatchInputs()

	assert.Equal(t, "progress_check", inputs["event_type"])
	assert.Equal(t, "42", inputs["issue_number"])
	assert.Equal(t, "true", inputs["resume"])
	assert.Equal(t, "1", inputs["em_id"])
	assert.Equal(t, "2", inputs["worker_id"])
	assert.NotEmpty(t, inputs["idempotency_token"])
	_, hasPR := inputs["pr_number"]
	assert.False(t, hasPR)
}
