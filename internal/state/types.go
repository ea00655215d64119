// Package state defines the persistent orchestration state document and the
// store that reads, merges, and writes it on the work branch.
//
// One document exists per issue, at FilePath on the issue's work branch.
// EM and worker branches never carry it, so merging a code PR can never
// conflict on orchestration state.
package state

import (
	"time"
)

// Version is the current state document schema version.
const Version = 1

// FilePath is where the document lives inside the work branch.
const FilePath = ".orchestrator/state.json"

// Phase is the orchestration lifecycle position. Advances are monotonic
// except that failed is reachable from any non-terminal phase.
type Phase string

const (
	PhaseInitialized     Phase = "initialized"
	PhaseAnalyzing       Phase = "analyzing"
	PhaseEMAssignment    Phase = "em_assignment"
	PhaseWorkerExecution Phase = "worker_execution"
	PhaseWorkerReview    Phase = "worker_review"
	PhaseEMMerging       Phase = "em_merging"
	PhaseEMReview        Phase = "em_review"
	PhaseFinalMerge      Phase = "final_merge"
	PhaseFinalReview     Phase = "final_review"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

var phaseRank = map[Phase]int{
	PhaseInitialized:     0,
	PhaseAnalyzing:       1,
	PhaseEMAssignment:    2,
	PhaseWorkerExecution: 3,
	PhaseWorkerReview:    4,
	PhaseEMMerging:       5,
	PhaseEMReview:        6,
	PhaseFinalMerge:      7,
	PhaseFinalReview:     8,
	PhaseComplete:        9,
	PhaseFailed:          10,
}

// Rank returns the phase's position in the lifecycle ordering. Unknown
// phases rank lowest.
func (p Phase) Rank() int { return phaseRank[p] }

// Terminal reports whether the orchestration accepts no further transitions.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseFailed }

// WorkerStatus is a worker's lifecycle position.
type WorkerStatus string

const (
	WorkerPending          WorkerStatus = "pending"
	WorkerInProgress       WorkerStatus = "in_progress"
	WorkerPRCreated        WorkerStatus = "pr_created"
	WorkerChangesRequested WorkerStatus = "changes_requested"
	WorkerApproved         WorkerStatus = "approved"
	WorkerSkipped          WorkerStatus = "skipped"
	WorkerMerged           WorkerStatus = "merged"
	WorkerFailed           WorkerStatus = "failed"
)

var workerRank = map[WorkerStatus]int{
	WorkerPending:          0,
	WorkerInProgress:       1,
	WorkerPRCreated:        2,
	WorkerChangesRequested: 3,
	WorkerApproved:         4,
	WorkerSkipped:          5,
	WorkerMerged:           6,
	WorkerFailed:           7,
}

// Rank returns the status's position in the merge ordering.
func (s WorkerStatus) Rank() int { return workerRank[s] }

// Done reports whether the worker counts toward EM completion. A skipped
// worker changed nothing and so has nothing left to review or merge.
func (s WorkerStatus) Done() bool {
	return s == WorkerMerged || s == WorkerApproved || s == WorkerSkipped
}

// Active reports whether the worker still has work in flight.
func (s WorkerStatus) Active() bool {
	switch s {
	case WorkerPending, WorkerInProgress, WorkerPRCreated, WorkerChangesRequested:
		return true
	}
	return false
}

// WorkerTransitionAllowed reports whether a status move is legal. Moves are
// forward-only in the ordering, with the review-cycle exceptions: a review
// bounces pr_created and changes_requested both ways, addressing feedback
// returns approved work to pr_created, and failed is reachable from any
// other status.
func WorkerTransitionAllowed(from, to WorkerStatus) bool {
	if to == WorkerFailed {
		return from != WorkerFailed
	}
	if from == WorkerPRCreated && to == WorkerChangesRequested {
		return true
	}
	if (from == WorkerApproved || from == WorkerChangesRequested) && to == WorkerPRCreated {
		return true
	}
	return to.Rank() > from.Rank()
}

// EMStatus is an engineering manager's lifecycle position.
type EMStatus string

const (
	EMPending          EMStatus = "pending"
	EMWorkersRunning   EMStatus = "workers_running"
	EMWorkersComplete  EMStatus = "workers_complete"
	EMPRCreated        EMStatus = "pr_created"
	EMChangesRequested EMStatus = "changes_requested"
	EMApproved         EMStatus = "approved"
	EMSkipped          EMStatus = "skipped"
	EMMerged           EMStatus = "merged"
	EMFailed           EMStatus = "failed"
)

var emRank = map[EMStatus]int{
	EMPending:          0,
	EMWorkersRunning:   1,
	EMWorkersComplete:  2,
	EMPRCreated:        3,
	EMChangesRequested: 4,
	EMApproved:         5,
	EMSkipped:          6,
	EMMerged:           7,
	EMFailed:           8,
}

// Rank returns the status's position in the merge ordering.
func (s EMStatus) Rank() int { return emRank[s] }

// IssueRef captures the source issue. Immutable after capture.
type IssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// PRRef identifies a created pull request.
type PRRef struct {
	Number int    `json:"number"`
	URL    string `json:"url,omitempty"`
}

// ErrorEntry is one recorded failure. The (Timestamp, Message) pair keys the
// set-union merge of error histories.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// WorkerRecord tracks one leaf coding task.
type WorkerRecord struct {
	ID               int          `json:"id"`
	Task             string       `json:"task"`
	Files            []string     `json:"files,omitempty"`
	Branch           string       `json:"branch"`
	Status           WorkerStatus `json:"status"`
	PRNumber         int          `json:"prNumber,omitempty"`
	PRURL            string       `json:"prUrl,omitempty"`
	ReviewsAddressed int          `json:"reviewsAddressed"`
	SessionID        string       `json:"sessionId,omitempty"`
	Error            string       `json:"error,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// EMRecord tracks one engineering-manager slice and its workers.
type EMRecord struct {
	ID        int            `json:"id"`
	Task      string         `json:"task"`
	FocusArea string         `json:"focusArea,omitempty"`
	Branch    string         `json:"branch"`
	Status    EMStatus       `json:"status"`
	Workers   []WorkerRecord `json:"workers"`
	PRNumber  int            `json:"prNumber,omitempty"`
	PRURL     string         `json:"prUrl,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Config carries the per-orchestration limits captured at creation.
type Config struct {
	MaxEms            int    `json:"maxEms"`
	MaxWorkersPerEM   int    `json:"maxWorkersPerEm"`
	ReviewWaitMinutes int    `json:"reviewWaitMinutes"`
	PRLabel           string `json:"prLabel"`
}

// OrchestrationState is the root state document, one per issue.
type OrchestrationState struct {
	Version         int          `json:"version"`
	Issue           IssueRef     `json:"issue"`
	Repo            string       `json:"repo"`
	Phase           Phase        `json:"phase"`
	WorkBranch      string       `json:"workBranch"`
	BaseBranch      string       `json:"baseBranch"`
	EMs             []EMRecord   `json:"ems"`
	FinalPR         *PRRef       `json:"finalPr,omitempty"`
	Config          Config       `json:"config"`
	AnalysisSummary string       `json:"analysisSummary,omitempty"`
	Errors          []ErrorEntry `json:"errors,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// FindEM returns the EM record with the given id, or nil.
func (s *OrchestrationState) FindEM(id int) *EMRecord {
	for i := range s.EMs {
		if s.EMs[i].ID == id {
			return &s.EMs[i]
		}
	}
	return nil
}

// FindWorker returns the worker record with the given id, or nil.
func (em *EMRecord) FindWorker(id int) *WorkerRecord {
	for i := range em.Workers {
		if em.Workers[i].ID == id {
			return &em.Workers[i]
		}
	}
	return nil
}

// FindByPR locates the record carrying the PR number: either a worker, an
// EM, or the final PR. A worker PR returns the worker and its EM, an EM PR
// returns only the EM, the final PR returns only true, and an unknown
// number returns nil, nil, false.
func (s *OrchestrationState) FindByPR(prNumber int) (*EMRecord, *WorkerRecord, bool) {
	if s.FinalPR != nil && s.FinalPR.Number == prNumber {
		return nil, nil, true
	}
	for i := range s.EMs {
		em := &s.EMs[i]
		if em.PRNumber == prNumber {
			return em, nil, false
		}
		for j := range em.Workers {
			if em.Workers[j].PRNumber == prNumber {
				return em, &em.Workers[j], false
			}
		}
	}
	return nil, nil, false
}

// WorkersDone reports whether every worker has reached a completion status
// (merged, approved, or skipped).
func (em *EMRecord) WorkersDone() bool {
	for i := range em.Workers {
		if !em.Workers[i].Status.Done() {
			return false
		}
	}
	return len(em.Workers) > 0
}

// WorkersReadyForEMPR reports whether every worker is merged, approved, or
// skipped, making the EM consolidation PR safe to open.
func (em *EMRecord) WorkersReadyForEMPR() bool {
	return em.WorkersDone()
}

// HasActiveWorker reports whether any worker is still in flight.
func (em *EMRecord) HasActiveWorker() bool {
	for i := range em.Workers {
		if em.Workers[i].Status.Active() {
			return true
		}
	}
	return false
}

// AllEMsMerged reports whether every EM has merged (or was skipped).
func (s *OrchestrationState) AllEMsMerged() bool {
	if len(s.EMs) == 0 {
		return false
	}
	for i := range s.EMs {
		switch s.EMs[i].Status {
		case EMMerged, EMSkipped:
		default:
			return false
		}
	}
	return true
}

// RecordError appends an error entry and stamps UpdatedAt.
func (s *OrchestrationState) RecordError(now time.Time, message string) {
	s.Errors = append(s.Errors, ErrorEntry{Timestamp: now.UTC(), Message: message})
	s.UpdatedAt = now.UTC()
}

// LastError returns the most recent error message, or empty.
func (s *OrchestrationState) LastError() string {
	if len(s.Errors) == 0 {
		return ""
	}
	return s.Errors[len(s.Errors)-1].Message
}
