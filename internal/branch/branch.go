// Package branch provides the deterministic mapping between orchestration
// components (director, engineering manager, worker) and git branch names.
//
// The namespace is hierarchical: the director's work branch is
// "cco/<issue>-<slug>", each EM branch appends "-em<id>", and each worker
// branch appends "-w<id>" to its EM branch. The mapping is injective and
// reversible via ParseComponent.
package branch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Prefix is the namespace shared by every orchestrator-managed branch.
const Prefix = "cco/"

// MaxSlugLen caps the slug portion of a work branch name.
const MaxSlugLen = 50

// ComponentType identifies which level of the hierarchy a branch belongs to.
type ComponentType string

const (
	TypeDirector ComponentType = "director"
	TypeEM       ComponentType = "em"
	TypeWorker   ComponentType = "worker"
)

// Component is the parsed identity of an orchestrator branch.
type Component struct {
	// Type is the hierarchy level, or empty when the branch is not
	// orchestrator-managed.
	Type ComponentType

	// IssueNumber is the issue the orchestration is rooted at.
	IssueNumber int

	// EMID is set for EM and worker branches (1-based).
	EMID int

	// WorkerID is set for worker branches (1-based within the EM).
	WorkerID int
}

var (
	reNonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	reHyphenRun = regexp.MustCompile(`-+`)

	// reBranch matches "cco/<issue>-<slug>" with optional "-em<n>" and
	// "-em<n>-w<m>" suffixes anchored at the tail.
	reBranch = regexp.MustCompile(`^cco/(\d+)-([a-z0-9-]*?)(?:-em(\d+)(?:-w(\d+))?)?$`)
)

// Slug normalizes an issue title into the branch-safe slug used in the work
// branch name: lowercased, non-alphanumerics collapsed to single hyphens,
// leading/trailing hyphens trimmed, truncated to MaxSlugLen. Slug is
// idempotent: Slug(Slug(s)) == Slug(s).
func Slug(title string) string {
	s := strings.ToLower(title)
	s = reNonAlnum.ReplaceAllString(s, "-")
	s = reHyphenRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLen {
		s = s[:MaxSlugLen]
		s = strings.TrimRight(s, "-")
	}
	return s
}

// WorkBranch returns the director-level work branch for an issue.
func WorkBranch(issueNumber int, title string) string {
	return fmt.Sprintf("%s%d-%s", Prefix, issueNumber, Slug(title))
}

// EMBranch returns the branch for EM emID rooted at workBranch.
func EMBranch(workBranch string, emID int) string {
	return fmt.Sprintf("%s-em%d", workBranch, emID)
}

// WorkerBranch returns the branch for worker workerID rooted at emBranch.
func WorkerBranch(emBranch string, workerID int) string {
	return fmt.Sprintf("%s-w%d", emBranch, workerID)
}

// ParseComponent decodes a branch name into its component identity. A branch
// outside the cco namespace, or one that does not match the encoding, yields
// a Component with an empty Type.
func ParseComponent(name string) Component {
	m := reBranch.FindStringSubmatch(name)
	if m == nil {
		return Component{}
	}

	issue, err := strconv.Atoi(m[1])
	if err != nil || m[2] == "" {
		return Component{}
	}

	c := Component{Type: TypeDirector, IssueNumber: issue}

	if m[3] != "" {
		emID, err := strconv.Atoi(m[3])
		if err != nil {
			return Component{}
		}
		c.Type = TypeEM
		c.EMID = emID
	}

	if m[4] != "" {
		workerID, err := strconv.Atoi(m[4])
		if err != nil {
			return Component{}
		}
		c.Type = TypeWorker
		c.WorkerID = workerID
	}

	return c
}

// BaseBranch returns the branch a component branch merges into: worker
// branches target their EM branch, EM branches target the work branch, and
// the work branch targets defaultBase. Non-orchestrator branches also fall
// back to defaultBase.
func BaseBranch(name, defaultBase string) string {
	c := ParseComponent(name)
	switch c.Type {
	case TypeWorker:
		return strings.TrimSuffix(name, fmt.Sprintf("-w%d", c.WorkerID))
	case TypeEM:
		return strings.TrimSuffix(name, fmt.Sprintf("-em%d", c.EMID))
	default:
		return defaultBase
	}
}
