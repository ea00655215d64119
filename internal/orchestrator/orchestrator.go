// Package orchestrator is the event reactor at the heart of cco. Each
// reactor invocation handles exactly one external trigger: it loads the
// state document, performs at most one group of durable side effects,
// persists the advanced state, and exits. Cross-branch progress is driven
// by the next trigger from the hosting platform.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohsen1/cco/internal/branch"
	"github.com/mohsen1/cco/internal/claude"
	"github.com/mohsen1/cco/internal/escalate"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/git"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/labels"
	"github.com/mohsen1/cco/internal/state"
)

// Gateway is the slice of the VCS host gateway the reactor uses.
type Gateway interface {
	GetIssue(ctx context.Context, number int) (*github.Issue, error)

	CreateBranch(ctx context.Context, name, from string) error

	GetPullRequest(ctx context.Context, number int) (*github.PRInfo, error)
	FindPullRequest(ctx context.Context, head, base string) (*github.PRInfo, error)
	CreatePullRequest(ctx context.Context, params github.PRParams) (*github.PRInfo, error)
	MergePullRequest(ctx context.Context, number int) (github.MergeResult, error)
	UpdatePullRequestBranch(ctx context.Context, number int) bool

	UpdateIssueComment(ctx context.Context, issueNumber int, body string) error
	AddPullRequestComment(ctx context.Context, prNumber int, body string) error
	GetPullRequestReviews(ctx context.Context, prNumber int) ([]github.Review, error)
	GetReviewComments(ctx context.Context, prNumber int) ([]github.ReviewComment, error)
	ReplyToReviewComment(ctx context.Context, prNumber int, commentID int64, body string) error

	EnsureLabelsExist(ctx context.Context, vocabulary []labels.Label) error
	AddLabels(ctx context.Context, number int, names []string) error
	SetPhaseLabel(ctx context.Context, issueNumber int, phase string) error
	SetStatusLabel(ctx context.Context, prNumber int, status labels.Status) error

	FindWorkflowFile(ctx context.Context) (string, error)
	DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]any) error
}

// CodeAgent is the slice of the LLM dispatcher the reactor uses.
type CodeAgent interface {
	ExecuteTask(ctx context.Context, opts claude.ExecuteOptions) (*claude.TaskResult, error)
	ResumeSession(ctx context.Context, workDir, sessionID, feedback string) (*claude.TaskResult, error)
	GenerateChangesSummary(ctx context.Context, workDir, sessionID string, files []string) (string, error)
	RotateCredential()
}

// StateStore is the slice of the persistent store the reactor uses.
type StateStore interface {
	Load(ctx context.Context, workBranch string) (*state.OrchestrationState, error)
	Initialize(ctx context.Context, st *state.OrchestrationState) (*state.OrchestrationState, error)
	Save(ctx context.Context, st *state.OrchestrationState, message string) (*state.OrchestrationState, error)
	FindWorkBranchForIssue(ctx context.Context, issueNumber int) (string, error)
}

// RepoOps is the slice of local git the reactor uses.
type RepoOps interface {
	CreateBranch(ctx context.Context, name, from string, discard ...string) error
	Checkout(ctx context.Context, branchName string) error
	CommitAndPush(ctx context.Context, message string, opts git.CommitOptions) error
	ModifiedFiles(ctx context.Context) ([]string, error)
}

// Config holds the reactor's per-invocation tunables.
type Config struct {
	RepoOwner         string
	RepoName          string
	RepoPath          string
	MaxEms            int
	MaxWorkersPerEM   int
	ReviewWaitMinutes int
	DispatchStagger   time.Duration
	PRLabel           string
	BaseBranch        string
}

// Dependencies bundles the reactor's collaborators for injection.
type Dependencies struct {
	Gateway   Gateway
	Agent     CodeAgent
	Store     StateStore
	Git       RepoOps
	Bus       *events.Bus
	Escalator escalate.Escalator
	Logger    *log.Logger
}

// Reactor advances one orchestration by one step per trigger.
type Reactor struct {
	cfg       Config
	gateway   Gateway
	agent     CodeAgent
	store     StateStore
	git       RepoOps
	bus       *events.Bus
	escalator escalate.Escalator
	logger    *log.Logger

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// workflowFile caches the re-dispatch target for this invocation.
	workflowFile string
}

// New creates a reactor.
func New(cfg Config, deps Dependencies) *Reactor {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Reactor{
		cfg:       cfg,
		gateway:   deps.Gateway,
		agent:     deps.Agent,
		store:     deps.Store,
		git:       deps.Git,
		bus:       bus,
		escalator: deps.Escalator,
		logger:    logger,
		now:       time.Now,
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

// HandleEvent is the single entry point: one trigger in, at most one side
// effect group out. Soft failures are absorbed into the state document and
// the status comment; only configuration errors and state corruption
// propagate.
func (r *Reactor) HandleEvent(ctx context.Context, trigger events.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}

	r.logger.Info("handling event", "kind", trigger.Kind,
		"issue", trigger.IssueNumber, "pr", trigger.PRNumber, "branch", trigger.Branch)

	switch trigger.Kind {
	case events.TriggerIssueLabeled:
		return r.handleIssueLabeled(ctx, trigger)
	case events.TriggerProgressCheck, events.TriggerDispatch:
		return r.handleProgressCheck(ctx, trigger)
	case events.TriggerPush:
		return r.handlePush(ctx, trigger)
	case events.TriggerPROpened:
		return r.handlePROpened(ctx, trigger)
	case events.TriggerPRMerged:
		return r.handlePRMerged(ctx, trigger)
	case events.TriggerPRReview:
		return r.handlePRReview(ctx, trigger)
	case events.TriggerSchedule:
		// The CLI routes schedule ticks to the watchdog before the
		// reactor; reaching here is a no-op heartbeat.
		return nil
	default:
		return fmt.Errorf("unknown trigger kind %q", trigger.Kind)
	}
}

// loadForIssue resolves the issue's work branch and loads its state.
func (r *Reactor) loadForIssue(ctx context.Context, issueNumber int) (*state.OrchestrationState, error) {
	workBranch, err := r.store.FindWorkBranchForIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	if workBranch == "" {
		return nil, nil
	}
	st, err := r.store.Load(ctx, workBranch)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// loadForBranch resolves any component branch to its orchestration state.
func (r *Reactor) loadForBranch(ctx context.Context, branchName string) (*state.OrchestrationState, branch.Component, error) {
	c := branch.ParseComponent(branchName)
	if c.Type == "" {
		return nil, c, nil
	}
	st, err := r.loadForIssue(ctx, c.IssueNumber)
	return st, c, err
}

// saveQuiet persists state, degrading failures to a log line and a comment
// attempt. State-save failures never fail the reactor; the next event
// retries.
func (r *Reactor) saveQuiet(ctx context.Context, st *state.OrchestrationState, message string) *state.OrchestrationState {
	st.UpdatedAt = r.now().UTC()
	merged, err := r.store.Save(ctx, st, message)
	if err != nil {
		r.bus.Emit(events.New(events.StateSaveFailed, st.Issue.Number).WithError(err))
		r.logger.Error("state save failed, continuing", "err", err)
		r.updateStatusComment(ctx, st)
		return st
	}
	r.bus.Emit(events.New(events.StateSaved, st.Issue.Number))
	return merged
}

// failOrchestration transitions to the failed phase, records the error, and
// notifies humans. Terminal states are left untouched.
func (r *Reactor) failOrchestration(ctx context.Context, st *state.OrchestrationState, cause error) {
	if st.Phase.Terminal() {
		return
	}

	r.logger.Error("orchestration failed", "issue", st.Issue.Number, "err", cause)
	st.Phase = state.PhaseFailed
	st.RecordError(r.now(), cause.Error())
	st = r.saveQuiet(ctx, st, "record failure")

	if err := r.gateway.SetPhaseLabel(ctx, st.Issue.Number, string(state.PhaseFailed)); err != nil {
		r.logger.Warn("failed to set phase label", "err", err)
	}
	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.OrchFailed, st.Issue.Number).WithError(cause))

	if r.escalator != nil {
		_ = r.escalator.Escalate(ctx, escalate.Escalation{
			Severity: escalate.SeverityBlocking,
			Issue:    st.Issue.Number,
			Title:    "orchestration failed",
			Message:  cause.Error(),
			Context: map[string]string{
				"workBranch": st.WorkBranch,
				"run":        workflowRunURL(),
			},
		})
	}
}

// redispatch emits a follow-up trigger through the hosting platform,
// honoring the dispatch stagger.
func (r *Reactor) redispatch(ctx context.Context, trigger events.Trigger) {
	if r.workflowFile == "" {
		file, err := r.gateway.FindWorkflowFile(ctx)
		if err != nil {
			r.logger.Warn("cannot re-dispatch: no workflow file", "err", err)
			return
		}
		r.workflowFile = file
	}

	if r.cfg.DispatchStagger > 0 {
		if err := r.sleep(ctx, r.cfg.DispatchStagger); err != nil {
			return
		}
	}

	if err := r.gateway.DispatchWorkflow(ctx, r.workflowFile, r.cfg.BaseBranch, trigger.DispatchInputs()); err != nil {
		r.logger.Warn("workflow re-dispatch failed", "kind", trigger.Kind, "err", err)
	}
}
