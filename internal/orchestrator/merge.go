package orchestrator

import (
	"context"
	"fmt"

	"github.com/mohsen1/cco/internal/branch"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/labels"
	"github.com/mohsen1/cco/internal/state"
)

// handlePRMerged advances the lattice after a PR lands: worker merges roll
// up into the EM PR, EM merges roll up into the final PR, and the final
// merge completes the orchestration.
func (r *Reactor) handlePRMerged(ctx context.Context, trigger events.Trigger) error {
	pr, err := r.gateway.GetPullRequest(ctx, trigger.PRNumber)
	if err != nil {
		return fmt.Errorf("fetch PR: %w", err)
	}

	st, component, err := r.loadForBranch(ctx, pr.Branch)
	if err != nil {
		return err
	}
	if st == nil || component.Type == "" {
		r.logger.Info("merged PR is not orchestrator-managed, ignoring",
			"pr", trigger.PRNumber, "branch", pr.Branch)
		return nil
	}
	if st.Phase.Terminal() {
		return nil
	}

	switch component.Type {
	case branch.TypeWorker:
		return r.workerMerged(ctx, st, component, trigger.PRNumber)
	case branch.TypeEM:
		return r.emMerged(ctx, st, component, trigger.PRNumber)
	case branch.TypeDirector:
		return r.finalMerged(ctx, st, trigger.PRNumber)
	}
	return nil
}

func (r *Reactor) workerMerged(ctx context.Context, st *state.OrchestrationState, component branch.Component, prNumber int) error {
	em := st.FindEM(component.EMID)
	if em == nil {
		return nil
	}
	w := em.FindWorker(component.WorkerID)
	if w == nil {
		return nil
	}

	if state.WorkerTransitionAllowed(w.Status, state.WorkerMerged) {
		w.Status = state.WorkerMerged
	}
	w.UpdatedAt = r.now().UTC()
	st = r.saveQuiet(ctx, st, fmt.Sprintf("worker %d/%d merged", em.ID, w.ID))
	em = st.FindEM(component.EMID)

	if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusMerged); err != nil {
		r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
	}
	r.bus.Emit(events.New(events.WorkerMerged, st.Issue.Number).
		WithEM(em.ID).WithWorker(component.WorkerID).WithPR(prNumber))

	if em.WorkersReadyForEMPR() && em.PRNumber == 0 {
		return r.openEMPR(ctx, st, em)
	}
	r.updateStatusComment(ctx, st)
	return nil
}

func (r *Reactor) emMerged(ctx context.Context, st *state.OrchestrationState, component branch.Component, prNumber int) error {
	em := st.FindEM(component.EMID)
	if em == nil {
		return nil
	}

	if em.Status.Rank() < state.EMMerged.Rank() {
		em.Status = state.EMMerged
	}
	em.UpdatedAt = r.now().UTC()
	if st.Phase.Rank() < state.PhaseEMMerging.Rank() {
		st.Phase = state.PhaseEMMerging
	}
	st = r.saveQuiet(ctx, st, fmt.Sprintf("EM %d merged", em.ID))

	if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusMerged); err != nil {
		r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
	}
	r.bus.Emit(events.New(events.EMMerged, st.Issue.Number).WithEM(em.ID).WithPR(prNumber))

	return r.maybeOpenFinalPR(ctx, st)
}

// maybeOpenFinalPR opens the work-branch PR once every EM has merged or
// been skipped. The final PR awaits external approval; it is never
// auto-merged.
func (r *Reactor) maybeOpenFinalPR(ctx context.Context, st *state.OrchestrationState) error {
	if !st.AllEMsMerged() {
		r.updateStatusComment(ctx, st)
		return nil
	}
	if st.FinalPR != nil {
		r.updateStatusComment(ctx, st)
		return nil
	}

	pr, err := r.gateway.CreatePullRequest(ctx, github.PRParams{
		Title: fmt.Sprintf("[cco] %s (#%d)", st.Issue.Title, st.Issue.Number),
		Body:  buildFinalPRBody(st),
		Head:  st.WorkBranch,
		Base:  st.BaseBranch,
		Labels: []string{
			labels.Managed,
			st.Config.PRLabel,
			labels.TypeLabel(labels.TypeDirector),
		},
	})
	if err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("create final PR: %w", err))
		return nil
	}

	st.FinalPR = &state.PRRef{Number: pr.Number, URL: pr.URL}
	st.Phase = state.PhaseFinalReview
	st = r.saveQuiet(ctx, st, "final PR opened")

	if err := r.gateway.SetPhaseLabel(ctx, st.Issue.Number, string(state.PhaseFinalReview)); err != nil {
		r.logger.Warn("failed to set phase label", "err", err)
	}
	if err := r.gateway.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		r.logger.Warn("failed to set status label", "pr", pr.Number, "err", err)
	}
	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.FinalPROpened, st.Issue.Number).WithPR(pr.Number))
	return nil
}

func (r *Reactor) finalMerged(ctx context.Context, st *state.OrchestrationState, prNumber int) error {
	if st.FinalPR == nil {
		st.FinalPR = &state.PRRef{Number: prNumber}
	}

	st.Phase = state.PhaseComplete
	st = r.saveQuiet(ctx, st, "orchestration complete")

	if err := r.gateway.SetPhaseLabel(ctx, st.Issue.Number, string(state.PhaseComplete)); err != nil {
		r.logger.Warn("failed to set phase label", "err", err)
	}
	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.FinalPRMerged, st.Issue.Number).WithPR(prNumber))
	r.bus.Emit(events.New(events.OrchCompleted, st.Issue.Number))
	return nil
}

// reactToMergeResult applies the gateway's merge classification after an
// approval-triggered merge attempt.
func (r *Reactor) reactToMergeResult(ctx context.Context, st *state.OrchestrationState, component branch.Component, prNumber int, result github.MergeResult) error {
	switch result.Classification {
	case github.MergeOK, github.MergeAlreadyMerged:
		// The host emits pull_request_merged; the transition happens there.
		return nil

	case github.MergeClosedNotMerged:
		// A closed-without-merge PR means a human rejected the work.
		if em := st.FindEM(component.EMID); em != nil && component.Type == branch.TypeEM {
			em.Status = state.EMFailed
			em.UpdatedAt = r.now().UTC()
		}
		r.failOrchestration(ctx, st, fmt.Errorf("PR #%d: %s", prNumber, result.Detail))
		return nil

	case github.MergeFailingStatus:
		// Blocked by status checks: stay approved, flag the PR, and let
		// the next review or merged event resolve it.
		if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusAwaitingReview); err != nil {
			r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
		}
		r.logger.Info("merge blocked by status checks, waiting", "pr", prNumber)
		return nil

	case github.MergeBaseModified, github.MergeHeadModified:
		// Ask the host to update the branch, then wait for re-review.
		if ok := r.gateway.UpdatePullRequestBranch(ctx, prNumber); !ok {
			r.logger.Warn("branch update refused after merge conflict", "pr", prNumber)
		}
		if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusAwaitingReview); err != nil {
			r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
		}
		return nil

	case github.MergeNotMergeable:
		// Conflict resolution is out of scope: flag and leave for a human.
		if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusChangesRequested); err != nil {
			r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
		}
		if err := r.gateway.AddPullRequestComment(ctx, prNumber,
			"This pull request is not mergeable and needs manual conflict resolution.\n"+result.Detail); err != nil {
			r.logger.Warn("failed to post conflict comment", "pr", prNumber, "err", err)
		}
		r.updateStatusComment(ctx, st)
		return nil
	}
	return nil
}
