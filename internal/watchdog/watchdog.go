// Package watchdog reconciles stuck orchestrations. Each schedule tick
// scans every managed issue for records that have sat in pending or
// in_progress beyond the stall timeout, then re-emits the dispatch event
// that resumes them. Recovery never corrupts progress: the state-merge
// rules absorb duplicate advances.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohsen1/cco/internal/escalate"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/labels"
	"github.com/mohsen1/cco/internal/state"
)

// Gateway is the slice of the VCS gateway the watchdog uses.
type Gateway interface {
	ListIssuesWithLabel(ctx context.Context, label string) ([]github.Issue, error)
	AddPullRequestComment(ctx context.Context, number int, body string) error
	AddLabels(ctx context.Context, number int, names []string) error
	SetStatusLabel(ctx context.Context, prNumber int, status labels.Status) error
	FindWorkflowFile(ctx context.Context) (string, error)
	DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]any) error
}

// StateStore is the slice of the state store the watchdog uses.
type StateStore interface {
	FindWorkBranchForIssue(ctx context.Context, issueNumber int) (string, error)
	Load(ctx context.Context, workBranch string) (*state.OrchestrationState, error)
}

// Config holds watchdog tunables.
type Config struct {
	// TriggerLabel enumerates the managed issues.
	TriggerLabel string

	// StallTimeout is how long a record may sit pending or in_progress
	// before it counts as stalled.
	StallTimeout time.Duration

	// BaseBranch is the ref re-dispatched workflows run on.
	BaseBranch string
}

// Watchdog scans for stalled records and re-dispatches them.
type Watchdog struct {
	gateway   Gateway
	store     StateStore
	escalator escalate.Escalator
	cfg       Config
	logger    *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a watchdog. escalator may be nil.
func New(cfg Config, gateway Gateway, store StateStore, escalator escalate.Escalator, logger *log.Logger) *Watchdog {
	if logger == nil {
		logger = log.Default()
	}
	return &Watchdog{
		gateway:   gateway,
		store:     store,
		escalator: escalator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Stall identifies one stalled record.
type Stall struct {
	Issue     int
	EMID      int
	WorkerID  int // 0 for EM-level stalls
	Branch    string
	Status    string
	SessionID string
	Age       time.Duration
}

// CheckStalled scans every managed orchestration and resumes stalled
// records. It returns the stalls it acted on.
func (w *Watchdog) CheckStalled(ctx context.Context) ([]Stall, error) {
	issues, err := w.gateway.ListIssuesWithLabel(ctx, w.cfg.TriggerLabel)
	if err != nil {
		return nil, fmt.Errorf("enumerate managed issues: %w", err)
	}

	var all []Stall
	for _, issue := range issues {
		stalls, err := w.checkIssue(ctx, issue.Number)
		if err != nil {
			w.logger.Warn("watchdog scan failed for issue", "issue", issue.Number, "err", err)
			continue
		}
		all = append(all, stalls...)
	}
	return all, nil
}

func (w *Watchdog) checkIssue(ctx context.Context, issueNumber int) ([]Stall, error) {
	workBranch, err := w.store.FindWorkBranchForIssue(ctx, issueNumber)
	if err != nil || workBranch == "" {
		return nil, err
	}

	st, err := w.store.Load(ctx, workBranch)
	if err != nil || st == nil {
		return nil, err
	}
	if st.Phase.Terminal() {
		return nil, nil
	}

	stalls := w.findStalls(st)
	if len(stalls) == 0 {
		return nil, nil
	}

	workflowFile, err := w.gateway.FindWorkflowFile(ctx)
	if err != nil {
		return nil, fmt.Errorf("find workflow for resume dispatch: %w", err)
	}

	for _, stall := range stalls {
		w.logger.Warn("stalled record detected",
			"issue", stall.Issue, "em", stall.EMID, "worker", stall.WorkerID,
			"status", stall.Status, "age", stall.Age.Round(time.Minute))

		if err := w.markStalled(ctx, st, stall); err != nil {
			w.logger.Warn("failed to mark stall", "err", err)
		}

		if w.escalator != nil {
			_ = w.escalator.Escalate(ctx, escalate.Escalation{
				Severity: escalate.SeverityWarning,
				Issue:    stall.Issue,
				EM:       stall.EMID,
				Worker:   stall.WorkerID,
				Title:    "record stalled",
				Message: fmt.Sprintf("stuck in %s for %s, re-dispatching with resume",
					stall.Status, stall.Age.Round(time.Minute)),
				Context: map[string]string{"branch": stall.Branch},
			})
		}

		trigger := events.Trigger{
			Kind:        events.TriggerProgressCheck,
			IssueNumber: stall.Issue,
			Resume:      true,
			EMID:        stall.EMID,
			WorkerID:    stall.WorkerID,
			SessionID:   stall.SessionID,
		}
		if err := w.gateway.DispatchWorkflow(ctx, workflowFile, w.cfg.BaseBranch, trigger.DispatchInputs()); err != nil {
			w.logger.Warn("resume dispatch failed", "issue", stall.Issue, "err", err)
		}
	}

	return stalls, nil
}

// findStalls returns every record stuck in pending or in_progress beyond
// the timeout.
func (w *Watchdog) findStalls(st *state.OrchestrationState) []Stall {
	cutoff := w.now().Add(-w.cfg.StallTimeout)
	var stalls []Stall

	for i := range st.EMs {
		em := &st.EMs[i]

		if em.Status == state.EMPending && em.UpdatedAt.Before(cutoff) {
			stalls = append(stalls, Stall{
				Issue:  st.Issue.Number,
				EMID:   em.ID,
				Branch: em.Branch,
				Status: string(em.Status),
				Age:    w.now().Sub(em.UpdatedAt),
			})
			continue
		}

		for j := range em.Workers {
			worker := &em.Workers[j]
			switch worker.Status {
			case state.WorkerPending, state.WorkerInProgress:
				if worker.UpdatedAt.Before(cutoff) {
					stalls = append(stalls, Stall{
						Issue:     st.Issue.Number,
						EMID:      em.ID,
						WorkerID:  worker.ID,
						Branch:    worker.Branch,
						Status:    string(worker.Status),
						SessionID: worker.SessionID,
						Age:       w.now().Sub(worker.UpdatedAt),
					})
				}
			}
		}
	}

	return stalls
}

// markStalled posts the stall comment on the issue and labels the stuck
// PR (or the issue when no PR exists yet).
func (w *Watchdog) markStalled(ctx context.Context, st *state.OrchestrationState, stall Stall) error {
	body := fmt.Sprintf(
		"Watchdog: EM %d worker %d has been `%s` on `%s` for %s; re-dispatching with resume.",
		stall.EMID, stall.WorkerID, stall.Status, stall.Branch, stall.Age.Round(time.Minute))
	if stall.WorkerID == 0 {
		body = fmt.Sprintf(
			"Watchdog: EM %d has been `%s` for %s; re-dispatching with resume.",
			stall.EMID, stall.Status, stall.Age.Round(time.Minute))
	}

	if err := w.gateway.AddPullRequestComment(ctx, st.Issue.Number, body); err != nil {
		return err
	}

	prNumber := 0
	if em := st.FindEM(stall.EMID); em != nil {
		if stall.WorkerID > 0 {
			if worker := em.FindWorker(stall.WorkerID); worker != nil {
				prNumber = worker.PRNumber
			}
		} else {
			prNumber = em.PRNumber
		}
	}

	if prNumber != 0 {
		return w.gateway.SetStatusLabel(ctx, prNumber, labels.StatusStalled)
	}
	return w.gateway.AddLabels(ctx, st.Issue.Number, []string{labels.StatusLabel(labels.StatusStalled)})
}
