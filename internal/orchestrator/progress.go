package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/mohsen1/cco/internal/branch"
	"github.com/mohsen1/cco/internal/claude"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/jsonutil"
	"github.com/mohsen1/cco/internal/labels"
	"github.com/mohsen1/cco/internal/state"
)

// handleProgressCheck advances the first EM that has work to do by exactly
// one step: break down into workers, dispatch the next pending worker, or
// open the EM consolidation PR.
func (r *Reactor) handleProgressCheck(ctx context.Context, trigger events.Trigger) error {
	st, err := r.loadForIssue(ctx, trigger.IssueNumber)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if st == nil {
		r.logger.Info("no orchestration for issue, ignoring", "issue", trigger.IssueNumber)
		return nil
	}
	if st.Phase.Terminal() {
		r.logger.Info("orchestration is terminal, refusing transition",
			"issue", st.Issue.Number, "phase", st.Phase)
		return nil
	}

	em := nextActionableEM(st, trigger)
	if em == nil {
		r.logger.Info("no actionable EM, waiting on external events", "issue", st.Issue.Number)
		return nil
	}

	switch em.Status {
	case state.EMPending:
		return r.breakDownEM(ctx, st, em)
	case state.EMWorkersRunning:
		if w := nextWorker(em, trigger); w != nil {
			return r.executeWorker(ctx, st, em, w)
		}
		if em.WorkersReadyForEMPR() && em.PRNumber == 0 {
			return r.openEMPR(ctx, st, em)
		}
		// Workers are out for review; the next review/merge event moves us.
		return nil
	case state.EMWorkersComplete:
		if em.PRNumber == 0 {
			return r.openEMPR(ctx, st, em)
		}
		return nil
	default:
		return nil
	}
}

// nextActionableEM picks the lowest-id EM that still has orchestrator-side
// work. A resume trigger pins the choice to its target EM.
func nextActionableEM(st *state.OrchestrationState, trigger events.Trigger) *state.EMRecord {
	if trigger.Resume && trigger.EMID > 0 {
		if em := st.FindEM(trigger.EMID); em != nil {
			return em
		}
	}
	for i := range st.EMs {
		em := &st.EMs[i]
		switch em.Status {
		case state.EMPending, state.EMWorkersRunning, state.EMWorkersComplete:
			return em
		}
	}
	return nil
}

// nextWorker picks the lowest-id pending worker, or the resume target.
func nextWorker(em *state.EMRecord, trigger events.Trigger) *state.WorkerRecord {
	if trigger.Resume && trigger.WorkerID > 0 {
		if w := em.FindWorker(trigger.WorkerID); w != nil && w.Status.Active() {
			return w
		}
	}
	for i := range em.Workers {
		if em.Workers[i].Status == state.WorkerPending {
			return &em.Workers[i]
		}
	}
	return nil
}

// breakDownEM runs the EM breakdown prompt, creates the EM branch, and
// seeds pending worker records.
func (r *Reactor) breakDownEM(ctx context.Context, st *state.OrchestrationState, em *state.EMRecord) error {
	prompt := buildBreakdownPrompt(st, em, r.cfg.MaxWorkersPerEM)

	var plans []workerPlan
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := r.agent.ExecuteTask(ctx, claude.ExecuteOptions{
			Prompt:   prompt,
			WorkDir:  r.cfg.RepoPath,
			MaxTurns: 1,
		})
		if err != nil {
			r.failOrchestration(ctx, st, fmt.Errorf("EM %d breakdown: %w", em.ID, err))
			return nil
		}
		if err := jsonutil.ExtractInto(res.Output, &plans); err != nil {
			lastErr = err
			r.agent.RotateCredential()
			continue
		}
		if len(plans) == 0 {
			lastErr = fmt.Errorf("breakdown returned no tasks")
			r.agent.RotateCredential()
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("EM %d breakdown: %w", em.ID, lastErr))
		return nil
	}

	if err := r.gateway.CreateBranch(ctx, em.Branch, st.WorkBranch); err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("create EM branch: %w", err))
		return nil
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].WorkerID < plans[j].WorkerID })
	if len(plans) > r.cfg.MaxWorkersPerEM {
		r.logger.Warn("breakdown produced too many tasks, clamping",
			"em", em.ID, "got", len(plans), "max", r.cfg.MaxWorkersPerEM)
		plans = plans[:r.cfg.MaxWorkersPerEM]
	}

	now := r.now().UTC()
	em.Workers = em.Workers[:0]
	for i, plan := range plans {
		id := i + 1
		task := plan.Task
		if plan.Description != "" {
			task = plan.Task + "\n\n" + plan.Description
		}
		em.Workers = append(em.Workers, state.WorkerRecord{
			ID:        id,
			Task:      task,
			Files:     plan.Files,
			Branch:    branch.WorkerBranch(em.Branch, id),
			Status:    state.WorkerPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	em.Status = state.EMWorkersRunning
	em.UpdatedAt = now

	if st.Phase.Rank() < state.PhaseWorkerExecution.Rank() {
		st.Phase = state.PhaseWorkerExecution
	}
	st = r.saveQuiet(ctx, st, fmt.Sprintf("record EM %d breakdown", em.ID))

	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.EMBrokenDown, st.Issue.Number).WithEM(em.ID))

	r.redispatch(ctx, events.Trigger{
		Kind:        events.TriggerProgressCheck,
		IssueNumber: st.Issue.Number,
	})
	return nil
}

// openEMPR opens the consolidation PR for an EM whose workers are done. An
// EM whose workers were all skipped has no commits to review and is itself
// skipped.
func (r *Reactor) openEMPR(ctx context.Context, st *state.OrchestrationState, em *state.EMRecord) error {
	allSkipped := true
	for i := range em.Workers {
		if em.Workers[i].Status != state.WorkerSkipped {
			allSkipped = false
			break
		}
	}
	if allSkipped {
		em.Status = state.EMSkipped
		em.UpdatedAt = r.now().UTC()
		st = r.saveQuiet(ctx, st, fmt.Sprintf("skip EM %d (no changes)", em.ID))
		r.updateStatusComment(ctx, st)
		return r.maybeOpenFinalPR(ctx, st)
	}

	pr, err := r.gateway.CreatePullRequest(ctx, github.PRParams{
		Title:  fmt.Sprintf("[cco] %s (issue #%d, EM %d)", em.Task, st.Issue.Number, em.ID),
		Body:   emPRBody(st, em),
		Head:   em.Branch,
		Base:   st.WorkBranch,
		Labels: emPRLabels(st, em),
	})
	if err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("create EM %d PR: %w", em.ID, err))
		return nil
	}

	em.PRNumber = pr.Number
	em.PRURL = pr.URL
	em.Status = state.EMPRCreated
	em.UpdatedAt = r.now().UTC()
	if st.Phase.Rank() < state.PhaseEMReview.Rank() {
		st.Phase = state.PhaseEMReview
	}
	st = r.saveQuiet(ctx, st, fmt.Sprintf("record EM %d PR", em.ID))

	if err := r.gateway.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		r.logger.Warn("failed to set status label", "pr", pr.Number, "err", err)
	}
	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.EMPROpened, st.Issue.Number).WithEM(em.ID).WithPR(pr.Number))
	return nil
}
