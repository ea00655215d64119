package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohsen1/cco/internal/branch"
	"github.com/mohsen1/cco/internal/claude"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/git"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/labels"
	"github.com/mohsen1/cco/internal/state"
)

// executeWorker runs one leaf coding task inline: branch, agent, commit,
// push, PR. This is the bounded long-running work a reactor invocation is
// allowed to do.
func (r *Reactor) executeWorker(ctx context.Context, st *state.OrchestrationState, em *state.EMRecord, w *state.WorkerRecord) error {
	r.logger.Info("dispatching worker", "em", em.ID, "worker", w.ID, "branch", w.Branch)

	w.Status = state.WorkerInProgress
	w.UpdatedAt = r.now().UTC()
	st = r.saveQuiet(ctx, st, fmt.Sprintf("worker %d/%d started", em.ID, w.ID))
	em = st.FindEM(em.ID)
	w = em.FindWorker(w.ID)
	r.bus.Emit(events.New(events.WorkerDispatched, st.Issue.Number).WithEM(em.ID).WithWorker(w.ID))

	// Branch exists on the host (idempotent) and locally for the agent.
	if err := r.gateway.CreateBranch(ctx, w.Branch, em.Branch); err != nil {
		return r.workerFailed(ctx, st, em, w, fmt.Errorf("create worker branch: %w", err))
	}
	if err := r.git.CreateBranch(ctx, w.Branch, em.Branch, state.FilePath); err != nil {
		return r.workerFailed(ctx, st, em, w, fmt.Errorf("checkout worker branch: %w", err))
	}

	opts := claude.DefaultExecuteOptions()
	opts.Prompt = buildWorkerPrompt(st, em, w)
	opts.WorkDir = r.cfg.RepoPath
	if w.SessionID != "" {
		// Watchdog resume continues the original session.
		opts.SessionID = w.SessionID
	}

	res, err := r.agent.ExecuteTask(ctx, opts)
	if err != nil {
		return r.workerFailed(ctx, st, em, w, fmt.Errorf("agent execution: %w", err))
	}
	if res.SessionID != "" {
		w.SessionID = res.SessionID
	}

	files, err := r.git.ModifiedFiles(ctx)
	if err != nil {
		return r.workerFailed(ctx, st, em, w, fmt.Errorf("inspect working tree: %w", err))
	}
	files = withoutStateDocument(files)

	if len(files) == 0 {
		r.logger.Info("worker produced no changes, skipping", "em", em.ID, "worker", w.ID)
		w.Status = state.WorkerSkipped
		w.UpdatedAt = r.now().UTC()
		st = r.saveQuiet(ctx, st, fmt.Sprintf("worker %d/%d skipped", em.ID, w.ID))
		r.updateStatusComment(ctx, st)
		r.bus.Emit(events.New(events.WorkerSkipped, st.Issue.Number).WithEM(em.ID).WithWorker(w.ID))
		r.redispatch(ctx, events.Trigger{
			Kind:        events.TriggerProgressCheck,
			IssueNumber: st.Issue.Number,
		})
		return nil
	}

	commitMsg := fmt.Sprintf("cco: %s [issue #%d, em %d, worker %d]",
		firstLine(w.Task), st.Issue.Number, em.ID, w.ID)
	if err := r.git.CommitAndPush(ctx, commitMsg, git.CommitOptions{
		ExcludePaths: []string{state.FilePath},
	}); err != nil {
		return r.workerFailed(ctx, st, em, w, fmt.Errorf("commit and push: %w", err))
	}
	r.bus.Emit(events.New(events.WorkerPushed, st.Issue.Number).WithEM(em.ID).WithWorker(w.ID))

	summary, err := r.agent.GenerateChangesSummary(ctx, r.cfg.RepoPath, w.SessionID, files)
	if err != nil {
		r.logger.Warn("changes summary failed, using task text", "err", err)
		summary = firstLine(w.Task)
	}

	pr, err := r.gateway.CreatePullRequest(ctx, github.PRParams{
		Title:  fmt.Sprintf("[cco] %s (issue #%d, EM %d, worker %d)", firstLine(w.Task), st.Issue.Number, em.ID, w.ID),
		Body:   summary,
		Head:   w.Branch,
		Base:   em.Branch,
		Labels: workerPRLabels(st, em),
	})
	if err != nil {
		return r.workerFailed(ctx, st, em, w, fmt.Errorf("create worker PR: %w", err))
	}

	// The pull_request_opened event advances status to pr_created; the
	// number is recorded now so the state survives a lost event.
	w.PRNumber = pr.Number
	w.PRURL = pr.URL
	w.UpdatedAt = r.now().UTC()
	st = r.saveQuiet(ctx, st, fmt.Sprintf("worker %d/%d pushed", em.ID, w.ID))

	r.updateStatusComment(ctx, st)
	r.redispatch(ctx, events.Trigger{
		Kind:        events.TriggerProgressCheck,
		IssueNumber: st.Issue.Number,
	})
	return nil
}

// workerFailed records a terminal worker failure and fails the
// orchestration: a missing leaf means the issue cannot be fully resolved.
func (r *Reactor) workerFailed(ctx context.Context, st *state.OrchestrationState, em *state.EMRecord, w *state.WorkerRecord, cause error) error {
	r.logger.Error("worker failed", "em", em.ID, "worker", w.ID, "err", cause)

	w.Status = state.WorkerFailed
	w.Error = cause.Error()
	w.UpdatedAt = r.now().UTC()
	em.Status = state.EMFailed
	em.UpdatedAt = w.UpdatedAt

	r.bus.Emit(events.New(events.WorkerFailed, st.Issue.Number).
		WithEM(em.ID).WithWorker(w.ID).WithError(cause))
	r.failOrchestration(ctx, st, fmt.Errorf("worker %d/%d: %w", em.ID, w.ID, cause))
	return nil
}

// handlePush records a heartbeat for the pushed worker branch. The
// follow-up pull_request_opened event carries the real transition.
func (r *Reactor) handlePush(ctx context.Context, trigger events.Trigger) error {
	st, component, err := r.loadForBranch(ctx, trigger.Branch)
	if err != nil || st == nil {
		return err
	}
	if component.Type != branch.TypeWorker {
		return nil
	}

	em := st.FindEM(component.EMID)
	if em == nil {
		return nil
	}
	w := em.FindWorker(component.WorkerID)
	if w == nil {
		return nil
	}

	w.UpdatedAt = r.now().UTC()
	r.saveQuiet(ctx, st, fmt.Sprintf("worker %d/%d push heartbeat", em.ID, w.ID))
	return nil
}

func withoutStateDocument(files []string) []string {
	out := files[:0]
	for _, f := range files {
		if f != state.FilePath {
			out = append(out, f)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func workerPRLabels(st *state.OrchestrationState, em *state.EMRecord) []string {
	return []string{
		labels.Managed,
		st.Config.PRLabel,
		labels.TypeLabel(labels.TypeWorker),
		labels.EMLabel(em.ID),
	}
}

func emPRLabels(st *state.OrchestrationState, em *state.EMRecord) []string {
	return []string{
		labels.Managed,
		st.Config.PRLabel,
		labels.TypeLabel(labels.TypeEM),
		labels.EMLabel(em.ID),
	}
}

func emPRBody(st *state.OrchestrationState, em *state.EMRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consolidates EM %d work for #%d.\n\n## Workers\n\n", em.ID, st.Issue.Number)
	for i := range em.Workers {
		w := &em.Workers[i]
		fmt.Fprintf(&b, "- %s (%s", firstLine(w.Task), w.Status)
		if w.PRNumber != 0 {
			fmt.Fprintf(&b, ", #%d", w.PRNumber)
		}
		b.WriteString(")\n")
	}
	return b.String()
}
