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

// handlePROpened records a freshly opened PR against its component record.
func (r *Reactor) handlePROpened(ctx context.Context, trigger events.Trigger) error {
	pr, err := r.gateway.GetPullRequest(ctx, trigger.PRNumber)
	if err != nil {
		return fmt.Errorf("fetch PR: %w", err)
	}

	st, component, err := r.loadForBranch(ctx, pr.Branch)
	if err != nil {
		return err
	}
	if st == nil || component.Type == "" {
		r.logger.Info("PR branch is not orchestrator-managed, ignoring",
			"pr", trigger.PRNumber, "branch", pr.Branch)
		return nil
	}
	if st.Phase.Terminal() {
		return nil
	}

	switch component.Type {
	case branch.TypeWorker:
		em := st.FindEM(component.EMID)
		if em == nil {
			return nil
		}
		w := em.FindWorker(component.WorkerID)
		if w == nil {
			return nil
		}
		if w.PRNumber == 0 {
			w.PRNumber = pr.Number
			w.PRURL = pr.URL
		}
		if state.WorkerTransitionAllowed(w.Status, state.WorkerPRCreated) {
			w.Status = state.WorkerPRCreated
		}
		w.UpdatedAt = r.now().UTC()
		if st.Phase.Rank() < state.PhaseWorkerReview.Rank() {
			st.Phase = state.PhaseWorkerReview
		}
		st = r.saveQuiet(ctx, st, fmt.Sprintf("worker %d/%d PR opened", em.ID, w.ID))
		r.bus.Emit(events.New(events.WorkerPROpened, st.Issue.Number).
			WithEM(em.ID).WithWorker(w.ID).WithPR(pr.Number))

	case branch.TypeEM:
		em := st.FindEM(component.EMID)
		if em == nil {
			return nil
		}
		if em.PRNumber == 0 {
			em.PRNumber = pr.Number
			em.PRURL = pr.URL
		}
		if em.Status.Rank() < state.EMPRCreated.Rank() {
			em.Status = state.EMPRCreated
		}
		em.UpdatedAt = r.now().UTC()
		st = r.saveQuiet(ctx, st, fmt.Sprintf("EM %d PR opened", em.ID))

	case branch.TypeDirector:
		if st.FinalPR == nil {
			st.FinalPR = &state.PRRef{Number: pr.Number, URL: pr.URL}
			st = r.saveQuiet(ctx, st, "final PR opened")
		}
	}

	if err := r.gateway.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		r.logger.Warn("failed to set status label", "pr", pr.Number, "err", err)
	}
	r.updateStatusComment(ctx, st)
	return nil
}

// handlePRReview routes a review verdict to the record owning the PR. An
// approval attempts the merge; a change request runs the feedback loop on
// the PR's head branch.
func (r *Reactor) handlePRReview(ctx context.Context, trigger events.Trigger) error {
	if trigger.ReviewState == events.ReviewStateCommented {
		return nil
	}

	pr, err := r.gateway.GetPullRequest(ctx, trigger.PRNumber)
	if err != nil {
		return fmt.Errorf("fetch PR: %w", err)
	}

	st, component, err := r.loadForBranch(ctx, pr.Branch)
	if err != nil {
		return err
	}
	if st == nil || component.Type == "" {
		// A review on a branch we cannot parse is logged and ignored.
		r.logger.Info("review on unmanaged branch, ignoring",
			"pr", trigger.PRNumber, "branch", pr.Branch)
		return nil
	}
	if st.Phase.Terminal() {
		return nil
	}

	switch trigger.ReviewState {
	case events.ReviewStateApproved:
		return r.handleApproval(ctx, st, component, pr.Number)
	case events.ReviewStateChangesRequested:
		return r.handleChangesRequested(ctx, st, component, pr.Number, trigger.ReviewBody)
	}
	return nil
}

func (r *Reactor) handleApproval(ctx context.Context, st *state.OrchestrationState, component branch.Component, prNumber int) error {
	r.bus.Emit(events.New(events.ReviewApproved, st.Issue.Number).WithPR(prNumber))

	switch component.Type {
	case branch.TypeWorker:
		em := st.FindEM(component.EMID)
		if em == nil {
			return nil
		}
		w := em.FindWorker(component.WorkerID)
		if w == nil {
			return nil
		}
		if state.WorkerTransitionAllowed(w.Status, state.WorkerApproved) {
			w.Status = state.WorkerApproved
		}
		w.UpdatedAt = r.now().UTC()
	case branch.TypeEM:
		em := st.FindEM(component.EMID)
		if em == nil {
			return nil
		}
		if em.Status.Rank() < state.EMApproved.Rank() {
			em.Status = state.EMApproved
		}
		em.UpdatedAt = r.now().UTC()
	case branch.TypeDirector:
		// The final PR is never auto-merged; approval is recorded by the
		// host and the merge arrives as a pull_request_merged event.
		if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusApproved); err != nil {
			r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
		}
		return nil
	}

	st = r.saveQuiet(ctx, st, fmt.Sprintf("PR #%d approved", prNumber))
	if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusApproved); err != nil {
		r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
	}

	result, err := r.gateway.MergePullRequest(ctx, prNumber)
	if err != nil {
		r.logger.Warn("merge attempt errored, leaving for next event", "pr", prNumber, "err", err)
		return nil
	}
	return r.reactToMergeResult(ctx, st, component, prNumber, result)
}

// handleChangesRequested runs the feedback loop: check out
// the head branch, hand the review to the agent, push any fix, and reply on
// every inline comment.
func (r *Reactor) handleChangesRequested(ctx context.Context, st *state.OrchestrationState, component branch.Component, prNumber int, reviewBody string) error {
	r.bus.Emit(events.New(events.ReviewChanges, st.Issue.Number).WithPR(prNumber))

	var w *state.WorkerRecord
	var em *state.EMRecord
	branchName := ""

	switch component.Type {
	case branch.TypeWorker:
		em = st.FindEM(component.EMID)
		if em == nil {
			return nil
		}
		w = em.FindWorker(component.WorkerID)
		if w == nil {
			return nil
		}
		branchName = w.Branch
		if state.WorkerTransitionAllowed(w.Status, state.WorkerChangesRequested) {
			w.Status = state.WorkerChangesRequested
		}
		w.UpdatedAt = r.now().UTC()
	case branch.TypeEM:
		em = st.FindEM(component.EMID)
		if em == nil {
			return nil
		}
		branchName = em.Branch
		if em.Status.Rank() < state.EMChangesRequested.Rank() {
			em.Status = state.EMChangesRequested
		}
		em.UpdatedAt = r.now().UTC()
	case branch.TypeDirector:
		branchName = st.WorkBranch
	}

	st = r.saveQuiet(ctx, st, fmt.Sprintf("PR #%d changes requested", prNumber))
	// Re-resolve record pointers into the merged state.
	switch component.Type {
	case branch.TypeWorker:
		em = st.FindEM(component.EMID)
		w = em.FindWorker(component.WorkerID)
	case branch.TypeEM:
		em = st.FindEM(component.EMID)
	}
	if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusChangesRequested); err != nil {
		r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
	}

	comments, err := r.gateway.GetReviewComments(ctx, prNumber)
	if err != nil {
		r.logger.Warn("failed to list review comments", "pr", prNumber, "err", err)
	}
	comments = withoutAddressedReplies(comments)

	// Some delivery paths omit the review body; recover it from the PR's
	// newest changes-requested review.
	if strings.TrimSpace(reviewBody) == "" {
		if reviews, err := r.gateway.GetPullRequestReviews(ctx, prNumber); err == nil {
			for i := len(reviews) - 1; i >= 0; i-- {
				if reviews[i].State == "CHANGES_REQUESTED" {
					reviewBody = reviews[i].Body
					break
				}
			}
		}
	}

	if err := r.git.Checkout(ctx, branchName); err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("checkout %s for feedback: %w", branchName, err))
		return nil
	}

	prompt := buildFeedbackPrompt(reviewBody, comments)
	sessionID := ""
	if w != nil {
		sessionID = w.SessionID
	}

	var agentErr error
	if sessionID != "" {
		_, agentErr = r.agent.ResumeSession(ctx, r.cfg.RepoPath, sessionID, prompt)
	} else {
		opts := claudeFeedbackOptions(prompt, r.cfg.RepoPath)
		_, agentErr = r.agent.ExecuteTask(ctx, opts)
	}
	if agentErr != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("feedback loop on PR #%d: %w", prNumber, agentErr))
		return nil
	}

	files, err := r.git.ModifiedFiles(ctx)
	if err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("inspect working tree: %w", err))
		return nil
	}
	files = withoutStateDocument(files)

	if len(files) == 0 {
		// Nothing changed: acknowledge instead of pretending.
		if err := r.gateway.AddPullRequestComment(ctx, prNumber,
			"Reviewed the feedback; no code change was needed."); err != nil {
			r.logger.Warn("failed to post no-op comment", "pr", prNumber, "err", err)
		}
		return nil
	}

	commitMsg := fmt.Sprintf("cco: address review feedback [pr #%d]", prNumber)
	if err := r.git.CommitAndPush(ctx, commitMsg, git.CommitOptions{
		ExcludePaths: []string{state.FilePath},
	}); err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("push feedback fix: %w", err))
		return nil
	}

	for _, comment := range comments {
		if err := r.gateway.ReplyToReviewComment(ctx, prNumber, comment.ID,
			"Addressed in the latest commit."); err != nil {
			r.logger.Warn("failed to reply to review comment",
				"pr", prNumber, "comment", comment.ID, "err", err)
		}
	}

	if w != nil {
		w.ReviewsAddressed++
		if state.WorkerTransitionAllowed(w.Status, state.WorkerPRCreated) {
			w.Status = state.WorkerPRCreated
		}
		w.UpdatedAt = r.now().UTC()
	} else if em != nil && component.Type == branch.TypeEM {
		em.Status = state.EMPRCreated
		em.UpdatedAt = r.now().UTC()
	}

	st = r.saveQuiet(ctx, st, fmt.Sprintf("PR #%d feedback addressed", prNumber))
	if err := r.gateway.SetStatusLabel(ctx, prNumber, labels.StatusAwaitingReview); err != nil {
		r.logger.Warn("failed to set status label", "pr", prNumber, "err", err)
	}
	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.ReviewAddressed, st.Issue.Number).WithPR(prNumber))
	return nil
}

// withoutAddressedReplies drops the orchestrator's own earlier replies,
// identified by the hidden reply marker. On a second changes-requested
// cycle the comment listing contains them alongside the reviewer's; feeding
// them back into the prompt or replying to them again would compound every
// cycle.
func withoutAddressedReplies(comments []github.ReviewComment) []github.ReviewComment {
	out := make([]github.ReviewComment, 0, len(comments))
	for _, comment := range comments {
		if strings.Contains(comment.Body, github.ReplyMarker) {
			continue
		}
		out = append(out, comment)
	}
	return out
}

// claudeFeedbackOptions configures a fresh-session feedback run.
func claudeFeedbackOptions(prompt, workDir string) claude.ExecuteOptions {
	opts := claude.DefaultExecuteOptions()
	opts.Prompt = prompt
	opts.WorkDir = workDir
	return opts
}
