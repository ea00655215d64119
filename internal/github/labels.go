package github

import (
	"context"
	"errors"
	"fmt"

	gh "github.com/google/go-github/v68/github"

	"github.com/mohsen1/cco/internal/labels"
)

// listLabels returns the current label names on an issue or PR.
func (c *Client) listLabels(ctx context.Context, number int) ([]string, error) {
	var names []string
	err := c.withRetry(ctx, "list labels", func() error {
		names = names[:0]
		opts := &gh.ListOptions{PerPage: 100}
		for {
			ls, resp, err := c.gh.Issues.ListLabelsByIssue(ctx, c.owner, c.repo, number, opts)
			if err != nil {
				return err
			}
			for _, l := range ls {
				names = append(names, l.GetName())
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	return names, err
}

// AddLabels applies labels to an issue or PR.
func (c *Client) AddLabels(ctx context.Context, number int, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return c.withRetry(ctx, "add labels", func() error {
		_, _, err := c.gh.Issues.AddLabelsToIssue(ctx, c.owner, c.repo, number, names)
		return err
	})
}

// RemoveLabel removes one label, tolerating its absence.
func (c *Client) RemoveLabel(ctx context.Context, number int, name string) error {
	err := c.withRetry(ctx, "remove label", func() error {
		_, err := c.gh.Issues.RemoveLabelForIssue(ctx, c.owner, c.repo, number, name)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// setExclusiveLabel swaps the target label in while removing every other
// label in the same family, issuing only the minimal add/remove set.
func (c *Client) setExclusiveLabel(ctx context.Context, number int, target string, inFamily func(string) bool) error {
	current, err := c.listLabels(ctx, number)
	if err != nil {
		return fmt.Errorf("diff labels: %w", err)
	}

	present := false
	for _, name := range current {
		if name == target {
			present = true
			continue
		}
		if inFamily(name) {
			if err := c.RemoveLabel(ctx, number, name); err != nil {
				return err
			}
		}
	}

	if present {
		return nil
	}
	return c.AddLabels(ctx, number, []string{target})
}

// SetPhaseLabel points the issue's phase label at the given phase name,
// removing any other phase label.
func (c *Client) SetPhaseLabel(ctx context.Context, issueNumber int, phase string) error {
	return c.setExclusiveLabel(ctx, issueNumber, labels.PhaseLabel(phase), labels.IsPhaseLabel)
}

// SetStatusLabel points the PR's status label at the given status, removing
// any other status label. Applying the same status twice is a no-op.
func (c *Client) SetStatusLabel(ctx context.Context, prNumber int, status labels.Status) error {
	return c.setExclusiveLabel(ctx, prNumber, labels.StatusLabel(status), labels.IsStatusLabel)
}

// EnsureLabelsExist creates any missing orchestrator labels with their
// colors and descriptions. Existing labels are left untouched.
func (c *Client) EnsureLabelsExist(ctx context.Context, vocabulary []labels.Label) error {
	existing := make(map[string]bool)
	err := c.withRetry(ctx, "list repo labels", func() error {
		opts := &gh.ListOptions{PerPage: 100}
		for {
			ls, resp, err := c.gh.Issues.ListLabels(ctx, c.owner, c.repo, opts)
			if err != nil {
				return err
			}
			for _, l := range ls {
				existing[l.GetName()] = true
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return fmt.Errorf("list repo labels: %w", err)
	}

	for _, label := range vocabulary {
		if existing[label.Name] {
			continue
		}
		label := label
		err := c.withRetry(ctx, "create label", func() error {
			_, _, err := c.gh.Issues.CreateLabel(ctx, c.owner, c.repo, &gh.Label{
				Name:        gh.Ptr(label.Name),
				Color:       gh.Ptr(label.Color),
				Description: gh.Ptr(label.Description),
			})
			return err
		})
		if err != nil {
			// A parallel invocation may have created it first.
			var permErr *PermanentError
			if errors.As(err, &permErr) && permErr.StatusCode == 422 {
				continue
			}
			return fmt.Errorf("create label %s: %w", label.Name, err)
		}
	}
	return nil
}
