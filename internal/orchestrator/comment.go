package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mohsen1/cco/internal/state"
)

// updateStatusComment upserts the single progress comment on the source
// issue: phase, branch, per-EM table, and any failure detail with a link to
// the workflow run.
func (r *Reactor) updateStatusComment(ctx context.Context, st *state.OrchestrationState) {
	if err := r.gateway.UpdateIssueComment(ctx, st.Issue.Number, renderStatusComment(st)); err != nil {
		r.logger.Warn("failed to update status comment", "issue", st.Issue.Number, "err", err)
	}
}

func renderStatusComment(st *state.OrchestrationState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Orchestration status\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Phase | `%s` |\n", st.Phase)
	fmt.Fprintf(&b, "| Work branch | `%s` |\n", st.WorkBranch)
	if st.FinalPR != nil {
		fmt.Fprintf(&b, "| Final PR | #%d |\n", st.FinalPR.Number)
	}

	if len(st.EMs) > 0 {
		b.WriteString("\n### Work areas\n\n")
		b.WriteString("| EM | Task | Status | PR | Workers |\n|---|---|---|---|---|\n")
		for i := range st.EMs {
			em := &st.EMs[i]
			pr := "-"
			if em.PRNumber != 0 {
				pr = fmt.Sprintf("#%d", em.PRNumber)
			}
			fmt.Fprintf(&b, "| %d | %s | `%s` | %s | %s |\n",
				em.ID, firstLine(em.Task), em.Status, pr, workerSummary(em))
		}
	}

	if msg := st.LastError(); msg != "" {
		fmt.Fprintf(&b, "\n### Failure\n\n```\n%s\n```\n", msg)
		if run := workflowRunURL(); run != "" {
			fmt.Fprintf(&b, "\n[Workflow run](%s)\n", run)
		}
	}

	return b.String()
}

// workerSummary compresses one EM's workers into "2/3 merged" style text.
func workerSummary(em *state.EMRecord) string {
	if len(em.Workers) == 0 {
		return "-"
	}
	done := 0
	for i := range em.Workers {
		if em.Workers[i].Status.Done() {
			done++
		}
	}
	return fmt.Sprintf("%d/%d done", done, len(em.Workers))
}

// workflowRunURL links back to the hosting run when the standard runner
// variables are present.
func workflowRunURL() string {
	server := os.Getenv("GITHUB_SERVER_URL")
	repo := os.Getenv("GITHUB_REPOSITORY")
	runID := os.Getenv("GITHUB_RUN_ID")
	if server == "" || repo == "" || runID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/actions/runs/%s", server, repo, runID)
}
