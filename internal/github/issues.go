package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v68/github"
)

// Issue is the gateway's view of a source issue.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []string
	State  string
}

// GetIssue fetches one issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue *gh.Issue
	err := c.withRetry(ctx, "get issue", func() error {
		var err error
		issue, _, err = c.gh.Issues.Get(ctx, c.owner, c.repo, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}

	labelNames := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labelNames = append(labelNames, l.GetName())
	}

	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		Labels: labelNames,
		State:  issue.GetState(),
	}, nil
}

// ListIssuesWithLabel returns open issues carrying the given label.
func (c *Client) ListIssuesWithLabel(ctx context.Context, label string) ([]Issue, error) {
	var out []Issue
	err := c.withRetry(ctx, "list issues by label", func() error {
		out = out[:0]
		opts := &gh.IssueListByRepoOptions{
			Labels:      []string{label},
			State:       "open",
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
			if err != nil {
				return err
			}
			for _, issue := range issues {
				// The list endpoint also returns PRs; skip them.
				if issue.IsPullRequest() {
					continue
				}
				labelNames := make([]string, 0, len(issue.Labels))
				for _, l := range issue.Labels {
					labelNames = append(labelNames, l.GetName())
				}
				out = append(out, Issue{
					Number: issue.GetNumber(),
					Title:  issue.GetTitle(),
					Body:   issue.GetBody(),
					Labels: labelNames,
					State:  issue.GetState(),
				})
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list issues with label %s: %w", label, err)
	}
	return out, nil
}
