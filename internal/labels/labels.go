// Package labels defines the fixed label vocabulary the orchestrator applies
// to issues and pull requests, and pure helpers mapping between internal
// enums and label strings.
//
// All labels share the "cco-" prefix and partition into four families:
// phase labels on the source issue, status labels on PRs, type labels
// identifying the component level, and per-EM marker labels.
package labels

import (
	"fmt"
	"strconv"
	"strings"
)

// Managed marks every issue or PR the orchestrator owns.
const Managed = "cco-managed"

const (
	phasePrefix  = "cco-phase-"
	statusPrefix = "cco-status-"
	typePrefix   = "cco-type-"
	emPrefix     = "cco-em-"
)

// Status is the per-PR progress state surfaced as a status label.
type Status string

const (
	StatusInProgress       Status = "in-progress"
	StatusAwaitingReview   Status = "awaiting-review"
	StatusChangesRequested Status = "changes-requested"
	StatusApproved         Status = "approved"
	StatusMerged           Status = "merged"
	StatusFailed           Status = "failed"
	StatusStalled          Status = "stalled"
)

// ComponentType is the hierarchy level surfaced as a type label.
type ComponentType string

const (
	TypeDirector ComponentType = "director"
	TypeEM       ComponentType = "em"
	TypeWorker   ComponentType = "worker"
)

// Label couples a label name with the color and description used when the
// gateway creates it on the host.
type Label struct {
	Name        string
	Color       string
	Description string
}

// StatusLabel returns the label string for a status.
func StatusLabel(s Status) string { return statusPrefix + string(s) }

// PhaseLabel returns the label string for an orchestration phase name.
// Phase names use underscores internally; labels use hyphens.
func PhaseLabel(phase string) string {
	return phasePrefix + strings.ReplaceAll(phase, "_", "-")
}

// TypeLabel returns the label string for a component type.
func TypeLabel(t ComponentType) string { return typePrefix + string(t) }

// EMLabel returns the marker label for EM emID.
func EMLabel(emID int) string { return emPrefix + strconv.Itoa(emID) }

// ParseStatus extracts the status from a label set. The second return is
// false when no status label is present.
func ParseStatus(labelNames []string) (Status, bool) {
	for _, name := range labelNames {
		if rest, ok := strings.CutPrefix(name, statusPrefix); ok {
			return Status(rest), true
		}
	}
	return "", false
}

// ParsePhase extracts the phase name (underscore form) from a label set.
func ParsePhase(labelNames []string) (string, bool) {
	for _, name := range labelNames {
		if rest, ok := strings.CutPrefix(name, phasePrefix); ok {
			return strings.ReplaceAll(rest, "-", "_"), true
		}
	}
	return "", false
}

// ParseType extracts the component type from a label set.
func ParseType(labelNames []string) (ComponentType, bool) {
	for _, name := range labelNames {
		if rest, ok := strings.CutPrefix(name, typePrefix); ok {
			return ComponentType(rest), true
		}
	}
	return "", false
}

// ParseEMID extracts the EM id from a label set.
func ParseEMID(labelNames []string) (int, bool) {
	for _, name := range labelNames {
		if rest, ok := strings.CutPrefix(name, emPrefix); ok {
			if id, err := strconv.Atoi(rest); err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

// IsStatusLabel reports whether name belongs to the status family.
func IsStatusLabel(name string) bool { return strings.HasPrefix(name, statusPrefix) }

// IsPhaseLabel reports whether name belongs to the phase family.
func IsPhaseLabel(name string) bool { return strings.HasPrefix(name, phasePrefix) }

// statusColors keeps review-adjacent states visually close in the host UI.
var statusColors = map[Status]string{
	StatusInProgress:       "fbca04",
	StatusAwaitingReview:   "0e8a16",
	StatusChangesRequested: "d93f0b",
	StatusApproved:         "0e8a16",
	StatusMerged:           "6f42c1",
	StatusFailed:           "b60205",
	StatusStalled:          "e99695",
}

var phaseNames = []string{
	"initialized",
	"analyzing",
	"em_assignment",
	"worker_execution",
	"worker_review",
	"em_merging",
	"em_review",
	"final_merge",
	"final_review",
	"complete",
	"failed",
}

// All returns the complete vocabulary with colors and descriptions, suitable
// for the gateway's ensure-labels-exist pass. EM marker labels are generated
// up to maxEms.
func All(maxEms int) []Label {
	out := []Label{
		{Name: Managed, Color: "1d76db", Description: "Managed by the cco orchestrator"},
	}

	for _, phase := range phaseNames {
		out = append(out, Label{
			Name:        PhaseLabel(phase),
			Color:       "c5def5",
			Description: fmt.Sprintf("Orchestration phase: %s", phase),
		})
	}

	for _, s := range []Status{
		StatusInProgress, StatusAwaitingReview, StatusChangesRequested,
		StatusApproved, StatusMerged, StatusFailed, StatusStalled,
	} {
		out = append(out, Label{
			Name:        StatusLabel(s),
			Color:       statusColors[s],
			Description: fmt.Sprintf("PR status: %s", s),
		})
	}

	for _, t := range []ComponentType{TypeDirector, TypeEM, TypeWorker} {
		out = append(out, Label{
			Name:        TypeLabel(t),
			Color:       "bfdadc",
			Description: fmt.Sprintf("Component type: %s", t),
		})
	}

	for id := 1; id <= maxEms; id++ {
		out = append(out, Label{
			Name:        EMLabel(id),
			Color:       "d4c5f9",
			Description: fmt.Sprintf("Work owned by EM %d", id),
		})
	}

	return out
}
