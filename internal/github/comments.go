package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
)

// CommentMarker hides in the single upsertable status comment so repeated
// updates edit in place instead of stacking.
const CommentMarker = "<!-- cco-orchestrator-comment -->"

// ReplyMarker hides in automated review replies. Later feedback cycles use
// it to tell reviewer comments from the orchestrator's own replies, so a
// redelivered or repeated review never feeds bot text back into the prompt
// or replies to a reply.
const ReplyMarker = "<!-- cco-review-addressed -->"

// Review is one PR review verdict.
type Review struct {
	ID          int64
	State       string // APPROVED, CHANGES_REQUESTED, COMMENTED
	Body        string
	Author      string
	SubmittedAt time.Time
}

// ReviewComment is one inline review comment.
type ReviewComment struct {
	ID        int64
	Path      string
	Line      int
	Body      string
	Author    string
	CreatedAt time.Time
}

// UpdateIssueComment upserts the orchestrator's status comment on an issue,
// keyed by the hidden marker.
func (c *Client) UpdateIssueComment(ctx context.Context, issueNumber int, body string) error {
	if !strings.Contains(body, CommentMarker) {
		body = CommentMarker + "\n" + body
	}

	var existingID int64
	err := c.withRetry(ctx, "list issue comments", func() error {
		opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
		for {
			comments, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, issueNumber, opts)
			if err != nil {
				return err
			}
			for _, comment := range comments {
				if strings.Contains(comment.GetBody(), CommentMarker) {
					existingID = comment.GetID()
					return nil
				}
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return fmt.Errorf("find status comment: %w", err)
	}

	if existingID != 0 {
		return c.withRetry(ctx, "edit issue comment", func() error {
			_, _, err := c.gh.Issues.EditComment(ctx, c.owner, c.repo, existingID,
				&gh.IssueComment{Body: gh.Ptr(body)})
			return err
		})
	}

	return c.withRetry(ctx, "create issue comment", func() error {
		_, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, issueNumber,
			&gh.IssueComment{Body: gh.Ptr(body)})
		return err
	})
}

// AddPullRequestComment posts a general comment on a PR conversation.
func (c *Client) AddPullRequestComment(ctx context.Context, prNumber int, body string) error {
	return c.withRetry(ctx, "create pr comment", func() error {
		_, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, prNumber,
			&gh.IssueComment{Body: gh.Ptr(body)})
		return err
	})
}

// GetPullRequestReviews returns all reviews on a PR, oldest first.
func (c *Client) GetPullRequestReviews(ctx context.Context, prNumber int) ([]Review, error) {
	var all []Review
	err := c.withRetry(ctx, "list reviews", func() error {
		all = all[:0]
		opts := &gh.ListOptions{PerPage: 100}
		for {
			reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, c.owner, c.repo, prNumber, opts)
			if err != nil {
				return err
			}
			for _, r := range reviews {
				all = append(all, Review{
					ID:          r.GetID(),
					State:       r.GetState(),
					Body:        r.GetBody(),
					Author:      r.GetUser().GetLogin(),
					SubmittedAt: r.GetSubmittedAt().Time,
				})
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// GetReviewComments returns all inline review comments on a PR.
func (c *Client) GetReviewComments(ctx context.Context, prNumber int) ([]ReviewComment, error) {
	var all []ReviewComment
	err := c.withRetry(ctx, "list review comments", func() error {
		all = all[:0]
		opts := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
		for {
			comments, resp, err := c.gh.PullRequests.ListComments(ctx, c.owner, c.repo, prNumber, opts)
			if err != nil {
				return err
			}
			for _, rc := range comments {
				all = append(all, ReviewComment{
					ID:        rc.GetID(),
					Path:      rc.GetPath(),
					Line:      rc.GetLine(),
					Body:      rc.GetBody(),
					Author:    rc.GetUser().GetLogin(),
					CreatedAt: rc.GetCreatedAt().Time,
				})
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// ReplyToReviewComment posts a threaded reply to an inline review comment.
// The hidden reply marker is appended so redeliveries can be deduplicated.
func (c *Client) ReplyToReviewComment(ctx context.Context, prNumber int, commentID int64, body string) error {
	if !strings.Contains(body, ReplyMarker) {
		body = body + "\n\n" + ReplyMarker
	}
	return c.withRetry(ctx, "reply to review comment", func() error {
		_, _, err := c.gh.PullRequests.CreateCommentInReplyTo(ctx, c.owner, c.repo, prNumber, body, commentID)
		return err
	})
}
