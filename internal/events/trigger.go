package events

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// TriggerKind identifies an external event delivered by the hosting CI
// platform. Each reactor invocation handles exactly one trigger.
type TriggerKind string

const (
	TriggerIssueLabeled  TriggerKind = "issue_labeled"
	TriggerProgressCheck TriggerKind = "progress_check"
	TriggerPush          TriggerKind = "push"
	TriggerPROpened      TriggerKind = "pull_request_opened"
	TriggerPRMerged      TriggerKind = "pull_request_merged"
	TriggerPRReview      TriggerKind = "pull_request_review"
	TriggerSchedule      TriggerKind = "schedule"
	TriggerDispatch      TriggerKind = "workflow_dispatch"
)

// ReviewState is the review verdict carried by a pull_request_review trigger.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateCommented        ReviewState = "commented"
)

// Trigger is one external event with its payload fields. Unused fields are
// zero; Validate enforces the per-kind requirements.
type Trigger struct {
	Kind        TriggerKind
	IssueNumber int
	PRNumber    int
	Branch      string
	ReviewState ReviewState
	ReviewBody  string

	// Resume marks a watchdog-issued re-dispatch of a stalled record.
	Resume bool

	// EMID and WorkerID target a specific record on resume dispatches.
	EMID     int
	WorkerID int

	// SessionID carries the stalled record's agent session on resume
	// dispatches so the attempt continues instead of starting over.
	SessionID string

	// Token is the idempotency token carried by re-dispatched events.
	// Empty for platform-native triggers.
	Token string
}

// Validate checks that the trigger carries the fields its kind requires.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerIssueLabeled, TriggerProgressCheck:
		if t.IssueNumber <= 0 {
			return fmt.Errorf("trigger %s requires issue_number", t.Kind)
		}
	case TriggerPush:
		if t.Branch == "" {
			return fmt.Errorf("trigger %s requires branch", t.Kind)
		}
	case TriggerPROpened, TriggerPRMerged:
		if t.PRNumber <= 0 {
			return fmt.Errorf("trigger %s requires pr_number", t.Kind)
		}
	case TriggerPRReview:
		if t.PRNumber <= 0 {
			return fmt.Errorf("trigger %s requires pr_number", t.Kind)
		}
		switch t.ReviewState {
		case ReviewStateApproved, ReviewStateChangesRequested, ReviewStateCommented:
		default:
			return fmt.Errorf("trigger %s: unknown review_state %q", t.Kind, t.ReviewState)
		}
	case TriggerSchedule, TriggerDispatch:
		// No payload.
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// tokenNamespace seeds idempotency token derivation. Stable across versions
// so that redelivered events hash to the same token.
var tokenNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// IdempotencyToken derives the stable token for this trigger from its kind,
// issue, and component ids. Repeated deliveries of the same logical event
// produce the same token, letting the receiving workflow deduplicate.
func (t Trigger) IdempotencyToken() string {
	if t.Token != "" {
		return t.Token
	}
	key := fmt.Sprintf("%s/%d/%d/%d/%d", t.Kind, t.IssueNumber, t.PRNumber, t.EMID, t.WorkerID)
	return uuid.NewSHA1(tokenNamespace, []byte(key)).String()
}

// DispatchInputs renders the trigger as workflow-dispatch inputs. The
// hosting platform requires string values.
func (t Trigger) DispatchInputs() map[string]any {
	inputs := map[string]any{
		"event_type":        string(t.Kind),
		"idempotency_token": t.IdempotencyToken(),
	}
	if t.IssueNumber > 0 {
		inputs["issue_number"] = strconv.Itoa(t.IssueNumber)
	}
	if t.PRNumber > 0 {
		inputs["pr_number"] = strconv.Itoa(t.PRNumber)
	}
	if t.Branch != "" {
		inputs["branch"] = t.Branch
	}
	if t.ReviewState != "" {
		inputs["review_state"] = string(t.ReviewState)
	}
	if t.Resume {
		inputs["resume"] = "true"
	}
	if t.EMID > 0 {
		inputs["em_id"] = strconv.Itoa(t.EMID)
	}
	if t.WorkerID > 0 {
		inputs["worker_id"] = strconv.Itoa(t.WorkerID)
	}
	if t.SessionID != "" {
		inputs["session_id"] = t.SessionID
	}
	return inputs
}
