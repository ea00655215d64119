package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"
)

// PRInfo holds the gateway's view of a pull request.
type PRInfo struct {
	Number       int
	URL          string
	Title        string
	Branch       string // head
	TargetBranch string // base
	State        string // open, closed
	Merged       bool
	Draft        bool
}

// PRParams describes a pull request to create.
type PRParams struct {
	Title  string
	Body   string
	Head   string
	Base   string
	Labels []string
}

// MergeClassification partitions merge failures the way the reactor needs
// to act on them.
type MergeClassification string

const (
	MergeOK              MergeClassification = "merged"
	MergeAlreadyMerged   MergeClassification = "already-merged"
	MergeClosedNotMerged MergeClassification = "closed-not-merged"
	MergeNotMergeable    MergeClassification = "not-mergeable"
	MergeBaseModified    MergeClassification = "base-modified"
	MergeHeadModified    MergeClassification = "head-modified"
	MergeFailingStatus   MergeClassification = "failing-status"
)

// MergeResult reports a merge attempt. All classifications are non-fatal;
// the caller decides how to proceed.
type MergeResult struct {
	// Merged reports whether this call merged the PR. A PR that was
	// already merged reports MergeAlreadyMerged with Merged false.
	Merged         bool
	SHA            string
	Classification MergeClassification
	Detail         string
}

func prInfoFrom(pr *gh.PullRequest) *PRInfo {
	return &PRInfo{
		Number:       pr.GetNumber(),
		URL:          pr.GetHTMLURL(),
		Title:        pr.GetTitle(),
		Branch:       pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		State:        pr.GetState(),
		Merged:       pr.GetMerged(),
		Draft:        pr.GetDraft(),
	}
}

// GetPullRequest fetches one PR by number.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PRInfo, error) {
	var pr *gh.PullRequest
	err := c.withRetry(ctx, "get pull request", func() error {
		var err error
		pr, _, err = c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return prInfoFrom(pr), nil
}

// FindPullRequest returns the PR with the given head and base, or nil when
// none exists. Open PRs are preferred; a closed one is still returned so
// merged workers resolve to their PR.
func (c *Client) FindPullRequest(ctx context.Context, head, base string) (*PRInfo, error) {
	var found *gh.PullRequest
	err := c.withRetry(ctx, "find pull request", func() error {
		prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
			Head:        c.owner + ":" + head,
			Base:        base,
			State:       "all",
			ListOptions: gh.ListOptions{PerPage: 10},
		})
		if err != nil {
			return err
		}
		for _, pr := range prs {
			if found == nil || (found.GetState() != "open" && pr.GetState() == "open") {
				found = pr
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}
	return prInfoFrom(found), nil
}

// CreatePullRequest opens a PR, returning the existing one when a PR for
// head→base already exists, open or closed (see FindPullRequest). Labels are
// applied after creation.
func (c *Client) CreatePullRequest(ctx context.Context, params PRParams) (*PRInfo, error) {
	existing, err := c.FindPullRequest(ctx, params.Head, params.Base)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var created *gh.PullRequest
	err = c.withRetry(ctx, "create pull request", func() error {
		var err error
		created, _, err = c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
			Title: gh.Ptr(params.Title),
			Body:  gh.Ptr(params.Body),
			Head:  gh.Ptr(params.Head),
			Base:  gh.Ptr(params.Base),
		})
		return err
	})
	if err != nil {
		// A concurrent invocation may have won the race.
		if isPRExists(err) {
			return c.FindPullRequest(ctx, params.Head, params.Base)
		}
		return nil, fmt.Errorf("create pull request %s -> %s: %w", params.Head, params.Base, err)
	}

	info := prInfoFrom(created)

	if len(params.Labels) > 0 {
		if err := c.AddLabels(ctx, info.Number, params.Labels); err != nil {
			c.logger.Warn("failed to label pull request", "pr", info.Number, "err", err)
		}
	}

	return info, nil
}

// MergePullRequest squash-merges the PR and classifies any refusal.
func (c *Client) MergePullRequest(ctx context.Context, number int) (MergeResult, error) {
	info, err := c.GetPullRequest(ctx, number)
	if err != nil {
		return MergeResult{}, err
	}
	if info.Merged {
		return MergeResult{Classification: MergeAlreadyMerged}, nil
	}
	if info.State == "closed" {
		return MergeResult{
			Classification: MergeClosedNotMerged,
			Detail:         fmt.Sprintf("pull request #%d was closed without merging", number),
		}, nil
	}

	var result *gh.PullRequestMergeResult
	err = c.withRetry(ctx, "merge pull request", func() error {
		var err error
		result, _, err = c.gh.PullRequests.Merge(ctx, c.owner, c.repo, number, "",
			&gh.PullRequestOptions{MergeMethod: "squash"})
		return err
	})
	if err != nil {
		return classifyMergeFailure(err), nil
	}

	return MergeResult{
		Merged:         result.GetMerged(),
		SHA:            result.GetSHA(),
		Classification: MergeOK,
	}, nil
}

func classifyMergeFailure(err error) MergeResult {
	msg := strings.ToLower(err.Error())
	detail := err.Error()

	var permErr *PermanentError
	status := 0
	if errors.As(err, &permErr) {
		status = permErr.StatusCode
	}

	switch {
	case strings.Contains(msg, "status check") || strings.Contains(msg, "required status"):
		return MergeResult{Classification: MergeFailingStatus, Detail: detail}
	case status == http.StatusConflict && strings.Contains(msg, "head"):
		return MergeResult{Classification: MergeHeadModified, Detail: detail}
	case status == http.StatusConflict:
		return MergeResult{Classification: MergeBaseModified, Detail: detail}
	default:
		return MergeResult{Classification: MergeNotMergeable, Detail: detail}
	}
}

// UpdatePullRequestBranch asks the host to merge base into the PR head.
// Best effort: the boolean reports whether the update was accepted.
func (c *Client) UpdatePullRequestBranch(ctx context.Context, number int) bool {
	err := c.withRetry(ctx, "update pull request branch", func() error {
		_, _, err := c.gh.PullRequests.UpdateBranch(ctx, c.owner, c.repo, number, nil)
		// 202 Accepted surfaces as AcceptedError; that is success here.
		var accepted *gh.AcceptedError
		if errors.As(err, &accepted) {
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("update branch refused", "pr", number, "err", err)
		return false
	}
	return true
}

func isPRExists(err error) bool {
	var permErr *PermanentError
	if errors.As(err, &permErr) && permErr.StatusCode == 422 {
		return strings.Contains(strings.ToLower(err.Error()), "already exists")
	}
	return false
}
