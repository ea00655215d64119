package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/state"
)

// emPlan is the JSON shape the director analysis returns.
type emPlan struct {
	EMID             int    `json:"em_id"`
	Task             string `json:"task"`
	FocusArea        string `json:"focus_area"`
	EstimatedWorkers int    `json:"estimated_workers"`
}

// workerPlan is the JSON shape the EM breakdown returns.
type workerPlan struct {
	WorkerID    int      `json:"worker_id"`
	Task        string   `json:"task"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// buildAnalysisPrompt asks the director to slice the issue into EM tasks.
func buildAnalysisPrompt(issue *github.Issue, maxEms, maxWorkersPerEM int) string {
	return fmt.Sprintf(`You are the engineering director planning how to resolve a GitHub issue.

## Issue #%d: %s

%s

## Instructions

Split this issue into at most %d independent work areas, one per engineering
manager. Each area will later be broken into at most %d coding tasks, so size
areas accordingly. Areas must not overlap in the files they touch.

Respond with ONLY a JSON array, no prose:

[{"em_id": 1, "task": "one-line task", "focus_area": "subsystem or concern", "estimated_workers": 2}]
`, issue.Number, issue.Title, issue.Body, maxEms, maxWorkersPerEM)
}

// buildBreakdownPrompt asks one EM to slice its area into worker tasks.
func buildBreakdownPrompt(st *state.OrchestrationState, em *state.EMRecord, maxWorkers int) string {
	return fmt.Sprintf(`You are an engineering manager decomposing your slice of issue #%d (%s).

## Your area

Task: %s
Focus: %s

## Instructions

Split the area into at most %d independent coding tasks. Each task is handled
by one worker on its own branch, so tasks must not edit the same files.

Respond with ONLY a JSON array, no prose:

[{"worker_id": 1, "task": "one-line task", "description": "what to build and how to verify it", "files": ["paths/expected/to/change"]}]
`, st.Issue.Number, st.Issue.Title, em.Task, em.FocusArea, maxWorkers)
}

// buildWorkerPrompt is the fixed task prompt handed to a coding worker.
func buildWorkerPrompt(st *state.OrchestrationState, em *state.EMRecord, w *state.WorkerRecord) string {
	files := "any files the task requires"
	if len(w.Files) > 0 {
		files = strings.Join(w.Files, "\n")
	}

	return fmt.Sprintf(`You are implementing one coding task for issue #%d (%s).

## Task

%s

## Expected scope (advisory)

%s

## Instructions

1. Implement ONLY this task - nothing more, nothing less
2. Stay within the expected file scope where practical
3. Do not refactor unrelated code
4. Do not commit - the orchestrator commits for you
5. NEVER run tests in watch mode; run them once and exit
`, st.Issue.Number, st.Issue.Title, w.Task, files)
}

// buildFeedbackPrompt combines a review's general body and inline comments
// into one instruction for the feedback loop.
func buildFeedbackPrompt(reviewBody string, comments []github.ReviewComment) string {
	var b strings.Builder
	b.WriteString("A reviewer requested changes on your pull request.\n\n")

	if strings.TrimSpace(reviewBody) != "" {
		fmt.Fprintf(&b, "## Review summary\n\n%s\n\n", reviewBody)
	}

	if len(comments) > 0 {
		b.WriteString("## Inline comments\n\n")
		for _, comment := range comments {
			fmt.Fprintf(&b, "- %s:%d - %s\n", comment.Path, comment.Line, comment.Body)
		}
		b.WriteString("\n")
	}

	b.WriteString(`## Instructions

1. Address every comment above with the minimal necessary change
2. Do not commit - the orchestrator commits for you
3. If a comment needs no code change, explain why in your final message
`)
	return b.String()
}

// buildFinalPRBody templates the final PR description from the ordered EM
// tasks.
func buildFinalPRBody(st *state.OrchestrationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolves #%d.\n\n## Work areas\n\n", st.Issue.Number)
	for i := range st.EMs {
		em := &st.EMs[i]
		fmt.Fprintf(&b, "%d. %s", em.ID, em.Task)
		if em.PRNumber != 0 {
			fmt.Fprintf(&b, " (#%d)", em.PRNumber)
		}
		b.WriteString("\n")
	}
	if st.AnalysisSummary != "" {
		fmt.Fprintf(&b, "\n%s\n", st.AnalysisSummary)
	}
	return b.String()
}
