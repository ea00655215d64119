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

// handleIssueLabeled bootstraps a new orchestration: work branch, initial
// state, director analysis, EM skeletons, and the first progress check.
func (r *Reactor) handleIssueLabeled(ctx context.Context, trigger events.Trigger) error {
	existing, err := r.loadForIssue(ctx, trigger.IssueNumber)
	if err == nil && existing != nil {
		r.logger.Info("orchestration already exists, ignoring duplicate trigger",
			"issue", trigger.IssueNumber, "phase", existing.Phase)
		return nil
	}

	issue, err := r.gateway.GetIssue(ctx, trigger.IssueNumber)
	if err != nil {
		return fmt.Errorf("fetch issue: %w", err)
	}
	if issue.Title == "" {
		return fmt.Errorf("issue #%d has an empty title", issue.Number)
	}

	if err := r.gateway.EnsureLabelsExist(ctx, labels.All(r.cfg.MaxEms)); err != nil {
		r.logger.Warn("failed to ensure labels", "err", err)
	}
	if err := r.gateway.AddLabels(ctx, issue.Number, []string{labels.Managed}); err != nil {
		r.logger.Warn("failed to add managed label", "err", err)
	}

	st := state.NewState(state.IssueRef{
		Owner:  r.cfg.RepoOwner,
		Repo:   r.cfg.RepoName,
		Number: issue.Number,
		Title:  issue.Title,
		Body:   issue.Body,
	}, r.cfg.BaseBranch, state.Config{
		MaxEms:            r.cfg.MaxEms,
		MaxWorkersPerEM:   r.cfg.MaxWorkersPerEM,
		ReviewWaitMinutes: r.cfg.ReviewWaitMinutes,
		PRLabel:           r.cfg.PRLabel,
	}, r.now())

	st.Phase = state.PhaseAnalyzing
	st, err = r.store.Initialize(ctx, st)
	if err != nil {
		return fmt.Errorf("initialize state: %w", err)
	}
	r.bus.Emit(events.New(events.OrchCreated, issue.Number))

	if err := r.gateway.SetPhaseLabel(ctx, issue.Number, string(state.PhaseAnalyzing)); err != nil {
		r.logger.Warn("failed to set phase label", "err", err)
	}
	r.updateStatusComment(ctx, st)

	plans, err := r.runAnalysis(ctx, issue)
	if err != nil {
		r.failOrchestration(ctx, st, fmt.Errorf("director analysis: %w", err))
		return nil
	}

	st.EMs = r.plansToEMs(st, plans)
	st.Phase = state.PhaseEMAssignment
	st = r.saveQuiet(ctx, st, "record analysis")

	if err := r.gateway.SetPhaseLabel(ctx, issue.Number, string(state.PhaseEMAssignment)); err != nil {
		r.logger.Warn("failed to set phase label", "err", err)
	}
	r.updateStatusComment(ctx, st)
	r.bus.Emit(events.New(events.OrchAnalyzed, issue.Number))

	r.redispatch(ctx, events.Trigger{
		Kind:        events.TriggerProgressCheck,
		IssueNumber: issue.Number,
	})
	return nil
}

// runAnalysis executes the director prompt and harvests the EM plan.
// Malformed output gets one retry after credential rotation, then fails.
func (r *Reactor) runAnalysis(ctx context.Context, issue *github.Issue) ([]emPlan, error) {
	prompt := buildAnalysisPrompt(issue, r.cfg.MaxEms, r.cfg.MaxWorkersPerEM)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := r.agent.ExecuteTask(ctx, claude.ExecuteOptions{
			Prompt:   prompt,
			WorkDir:  r.cfg.RepoPath,
			MaxTurns: 1,
		})
		if err != nil {
			return nil, err
		}

		var plans []emPlan
		if err := jsonutil.ExtractInto(res.Output, &plans); err != nil {
			// The retry runs against the next credential in the ring:
			// malformed output is often model-specific.
			lastErr = err
			r.agent.RotateCredential()
			continue
		}
		if len(plans) == 0 {
			lastErr = fmt.Errorf("analysis returned no work areas")
			r.agent.RotateCredential()
			continue
		}
		return plans, nil
	}

	return nil, lastErr
}

// plansToEMs converts analysis output into pending EM records, clamped to
// maxEms and normalized to ascending 1-based ids.
func (r *Reactor) plansToEMs(st *state.OrchestrationState, plans []emPlan) []state.EMRecord {
	sort.Slice(plans, func(i, j int) bool { return plans[i].EMID < plans[j].EMID })
	if len(plans) > r.cfg.MaxEms {
		r.logger.Warn("analysis produced too many work areas, clamping",
			"got", len(plans), "max", r.cfg.MaxEms)
		plans = plans[:r.cfg.MaxEms]
	}

	now := r.now().UTC()
	ems := make([]state.EMRecord, 0, len(plans))
	for i, plan := range plans {
		id := i + 1
		ems = append(ems, state.EMRecord{
			ID:        id,
			Task:      plan.Task,
			FocusArea: plan.FocusArea,
			Branch:    branch.EMBranch(st.WorkBranch, id),
			Status:    state.EMPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return ems
}
