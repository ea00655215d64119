package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v68/github"
)

// CreateBranch creates branch name on the host pointing at the head of
// from. An existing ref is treated as success.
func (c *Client) CreateBranch(ctx context.Context, name, from string) error {
	var baseSHA string
	err := c.withRetry(ctx, "get base ref", func() error {
		ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+from)
		if err != nil {
			return err
		}
		baseSHA = ref.GetObject().GetSHA()
		return nil
	})
	if err != nil {
		return fmt.Errorf("resolve base branch %s: %w", from, err)
	}

	err = c.withRetry(ctx, "create ref", func() error {
		_, _, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, &gh.Reference{
			Ref:    gh.Ptr("refs/heads/" + name),
			Object: &gh.GitObject{SHA: gh.Ptr(baseSHA)},
		})
		return err
	})
	if err != nil {
		if isRefExists(err) {
			return nil
		}
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// BranchExists reports whether the host has the branch.
func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	err := c.withRetry(ctx, "get ref", func() error {
		_, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+name)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteBranch removes the branch ref, tolerating absence.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	err := c.withRetry(ctx, "delete ref", func() error {
		_, err := c.gh.Git.DeleteRef(ctx, c.owner, c.repo, "heads/"+name)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

func isRefExists(err error) bool {
	var permErr *PermanentError
	if errors.As(err, &permErr) && permErr.StatusCode == 422 {
		return strings.Contains(strings.ToLower(err.Error()), "already exists")
	}
	return false
}
