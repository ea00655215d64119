package state

import (
	"sort"
)

// Merge reconciles the in-memory state (ours) with a document another writer
// pushed first (theirs). The merge is field-wise deterministic rather than
// last-writer-wins: statuses take the further-advanced side, PR numbers are
// first-writer-wins, reviewsAddressed takes the maximum, and error histories
// union. Neither input is mutated.
func Merge(ours, theirs *OrchestrationState) *OrchestrationState {
	if theirs == nil {
		cp := ours.clone()
		return &cp
	}

	out := ours.clone()

	out.Phase = mergePhase(ours.Phase, theirs.Phase)
	out.EMs = mergeEMs(ours.EMs, theirs.EMs)
	out.Errors = mergeErrors(ours.Errors, theirs.Errors)

	// finalPr is first-writer-wins: theirs was durable before ours.
	if theirs.FinalPR != nil {
		fp := *theirs.FinalPR
		out.FinalPR = &fp
	}

	if theirs.AnalysisSummary != "" && out.AnalysisSummary == "" {
		out.AnalysisSummary = theirs.AnalysisSummary
	}

	if theirs.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = theirs.UpdatedAt
	}
	if !theirs.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || theirs.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = theirs.CreatedAt
	}

	return &out
}

// mergePhase takes the greater phase. One exception: a completed
// orchestration is never demoted to failed by a stale writer. Failed must
// win against live phases, or the failure transition could never persist:
// every save merges against the remote document written before the failure.
func mergePhase(a, b Phase) Phase {
	if a == PhaseFailed && b == PhaseComplete {
		return b
	}
	if b == PhaseFailed && a == PhaseComplete {
		return a
	}
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func mergeEMs(ours, theirs []EMRecord) []EMRecord {
	byID := make(map[int]EMRecord, len(ours))
	var order []int
	for _, em := range ours {
		byID[em.ID] = em.cloneEM()
		order = append(order, em.ID)
	}

	for _, them := range theirs {
		us, ok := byID[them.ID]
		if !ok {
			byID[them.ID] = them.cloneEM()
			order = append(order, them.ID)
			continue
		}
		byID[them.ID] = mergeEM(us, them)
	}

	sort.Ints(order)
	out := make([]EMRecord, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// mergeEM reconciles one EM slot. The further-advanced status wins, except
// that a terminal skipped/failed status cannot displace workers_running or
// workers_complete while any worker is still active.
func mergeEM(ours, theirs EMRecord) EMRecord {
	out := ours

	out.Workers = mergeWorkers(ours.Workers, theirs.Workers)

	candidate := out.Status
	if theirs.Status.Rank() > candidate.Rank() {
		candidate = theirs.Status
	}
	if candidate == EMSkipped || candidate == EMFailed {
		lower := out.Status
		if theirs.Status.Rank() < out.Status.Rank() {
			lower = theirs.Status
		}
		if lower == EMWorkersRunning || lower == EMWorkersComplete {
			active := false
			for i := range out.Workers {
				if out.Workers[i].Status.Active() {
					active = true
					break
				}
			}
			if active {
				candidate = lower
			}
		}
	}
	out.Status = candidate

	if out.PRNumber == 0 && theirs.PRNumber != 0 {
		out.PRNumber = theirs.PRNumber
		out.PRURL = theirs.PRURL
	}

	if theirs.Task != "" && out.Task == "" {
		out.Task = theirs.Task
	}
	if theirs.FocusArea != "" && out.FocusArea == "" {
		out.FocusArea = theirs.FocusArea
	}
	if theirs.Branch != "" && out.Branch == "" {
		out.Branch = theirs.Branch
	}

	if theirs.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = theirs.UpdatedAt
	}

	return out
}

func mergeWorkers(ours, theirs []WorkerRecord) []WorkerRecord {
	byID := make(map[int]WorkerRecord, len(ours))
	var order []int
	for _, w := range ours {
		byID[w.ID] = w.cloneWorker()
		order = append(order, w.ID)
	}

	for _, them := range theirs {
		us, ok := byID[them.ID]
		if !ok {
			byID[them.ID] = them.cloneWorker()
			order = append(order, them.ID)
			continue
		}
		byID[them.ID] = mergeWorker(us, them)
	}

	sort.Ints(order)
	out := make([]WorkerRecord, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func mergeWorker(ours, theirs WorkerRecord) WorkerRecord {
	out := ours

	// Inside the review cycle plain rank cannot order the sides: a
	// post-fix writer moves back to pr_created while the remote still says
	// changes_requested or approved. The side that has addressed more
	// reviews has the newer knowledge.
	if inReviewCycle(ours.Status) && inReviewCycle(theirs.Status) &&
		ours.ReviewsAddressed != theirs.ReviewsAddressed {
		if theirs.ReviewsAddressed > ours.ReviewsAddressed {
			out.Status = theirs.Status
		}
	} else if theirs.Status.Rank() > out.Status.Rank() {
		out.Status = theirs.Status
	}

	// prNumber is first-writer-wins: once set it never changes.
	if out.PRNumber == 0 && theirs.PRNumber != 0 {
		out.PRNumber = theirs.PRNumber
		out.PRURL = theirs.PRURL
	}

	if theirs.ReviewsAddressed > out.ReviewsAddressed {
		out.ReviewsAddressed = theirs.ReviewsAddressed
	}

	if out.SessionID == "" && theirs.SessionID != "" {
		out.SessionID = theirs.SessionID
	}
	if out.Error == "" && theirs.Error != "" {
		out.Error = theirs.Error
	}
	if theirs.Task != "" && out.Task == "" {
		out.Task = theirs.Task
	}
	if theirs.Branch != "" && out.Branch == "" {
		out.Branch = theirs.Branch
	}
	if len(out.Files) == 0 && len(theirs.Files) > 0 {
		out.Files = append([]string(nil), theirs.Files...)
	}

	if theirs.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = theirs.UpdatedAt
	}

	return out
}

// inReviewCycle reports whether the status is part of the
// pr_created / changes_requested / approved bounce.
func inReviewCycle(s WorkerStatus) bool {
	return s == WorkerPRCreated || s == WorkerChangesRequested || s == WorkerApproved
}

func mergeErrors(ours, theirs []ErrorEntry) []ErrorEntry {
	type key struct {
		ts  int64
		msg string
	}
	seen := make(map[key]bool, len(ours)+len(theirs))
	var out []ErrorEntry
	for _, list := range [][]ErrorEntry{ours, theirs} {
		for _, e := range list {
			k := key{e.Timestamp.UnixNano(), e.Message}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Message < out[j].Message
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *OrchestrationState) clone() OrchestrationState {
	out := *s
	out.EMs = make([]EMRecord, len(s.EMs))
	for i := range s.EMs {
		out.EMs[i] = s.EMs[i].cloneEM()
	}
	out.Errors = append([]ErrorEntry(nil), s.Errors...)
	if s.FinalPR != nil {
		fp := *s.FinalPR
		out.FinalPR = &fp
	}
	return out
}

func (em EMRecord) cloneEM() EMRecord {
	out := em
	out.Workers = make([]WorkerRecord, len(em.Workers))
	for i := range em.Workers {
		out.Workers[i] = em.Workers[i].cloneWorker()
	}
	return out
}

func (w WorkerRecord) cloneWorker() WorkerRecord {
	out := w
	out.Files = append([]string(nil), w.Files...)
	return out
}
