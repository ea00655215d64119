// Package git shells out to the local git toolchain for the branch, commit,
// and rebase operations the reactor performs inside the checkout. Commands
// run through a swappable Runner so tests can fake the toolchain.
package git

import (
	"context"
	"fmt"
	"strings"
)

// Identity is the committer identity configured before the first commit.
type Identity struct {
	Name  string
	Email string
}

// DefaultIdentity is used when the caller does not configure one.
var DefaultIdentity = Identity{
	Name:  "cco-orchestrator",
	Email: "cco-orchestrator@users.noreply.github.com",
}

// Client provides git operations for the repository checkout the reactor
// runs in.
type Client struct {
	// RepoPath is the root directory of the git checkout.
	RepoPath string

	// Identity is the committer identity for orchestrator commits.
	Identity Identity

	runner Runner
}

// NewClient creates a git client for the given checkout path using the
// default runner.
func NewClient(repoPath string) *Client {
	return &Client{
		RepoPath: repoPath,
		Identity: DefaultIdentity,
		runner:   DefaultRunner(),
	}
}

// NewClientWithRunner creates a git client with an explicit runner.
// Intended for tests.
func NewClientWithRunner(repoPath string, runner Runner) *Client {
	return &Client{
		RepoPath: repoPath,
		Identity: DefaultIdentity,
		runner:   runner,
	}
}

func (c *Client) exec(ctx context.Context, args ...string) (string, error) {
	return c.runner.Exec(ctx, c.RepoPath, args...)
}

// RebaseResult reports the outcome of a rebase attempt.
type RebaseResult struct {
	// Success is true when the rebase completed cleanly.
	Success bool

	// HasConflicts is true when the rebase stopped on conflicts. The
	// rebase has already been aborted; resolution is the caller's problem.
	HasConflicts bool

	// ConflictFiles lists the conflicted paths when HasConflicts is set.
	ConflictFiles []string
}

// CommitOptions configures CommitAndPush.
type CommitOptions struct {
	// Files restricts staging to the listed paths. Empty stages everything.
	Files []string

	// ExcludePaths are unstaged before committing unless they appear in
	// Files. The state document is excluded this way on code branches.
	ExcludePaths []string

	// Amend folds the commit into the previous one.
	Amend bool
}

// Fetch updates origin refs for a single branch.
func (c *Client) Fetch(ctx context.Context, branch string) error {
	_, err := c.exec(ctx, "fetch", "origin", branch)
	return err
}

// CreateBranch creates or resets branch at origin/from and checks it out.
// Any dirty copy of the paths in discard is thrown away before switching so
// cross-branch leakage cannot occur.
func (c *Client) CreateBranch(ctx context.Context, name, from string, discard ...string) error {
	if err := c.Fetch(ctx, from); err != nil {
		return fmt.Errorf("fetch base %s: %w", from, err)
	}

	for _, path := range discard {
		// Ignore failure: the path may not exist on this branch.
		_, _ = c.exec(ctx, "checkout", "--", path)
	}

	if _, err := c.exec(ctx, "checkout", "-B", name, "origin/"+from); err != nil {
		return fmt.Errorf("create branch %s from %s: %w", name, from, err)
	}
	return nil
}

// Checkout switches to branch: local first, then after a fetch, then as a
// new tracking branch from origin.
func (c *Client) Checkout(ctx context.Context, branch string) error {
	if _, err := c.exec(ctx, "checkout", branch); err == nil {
		return nil
	}

	if err := c.Fetch(ctx, branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}

	if _, err := c.exec(ctx, "checkout", branch); err == nil {
		return nil
	}

	if _, err := c.exec(ctx, "checkout", "-b", branch, "origin/"+branch); err != nil {
		return fmt.Errorf("checkout %s from origin: %w", branch, err)
	}
	return nil
}

// ensureIdentity configures user.name/user.email if not already set.
func (c *Client) ensureIdentity(ctx context.Context) error {
	if _, err := c.exec(ctx, "config", "user.name"); err == nil {
		return nil
	}
	if _, err := c.exec(ctx, "config", "user.name", c.Identity.Name); err != nil {
		return err
	}
	_, err := c.exec(ctx, "config", "user.email", c.Identity.Email)
	return err
}

// CommitAndPush stages, commits, and pushes the current branch. Nothing is
// committed when the staged diff is empty. A rejected push is retried once
// with --force-with-lease after a fetch.
func (c *Client) CommitAndPush(ctx context.Context, message string, opts CommitOptions) error {
	if err := c.ensureIdentity(ctx); err != nil {
		return fmt.Errorf("configure identity: %w", err)
	}

	if len(opts.Files) > 0 {
		args := append([]string{"add", "--"}, opts.Files...)
		if _, err := c.exec(ctx, args...); err != nil {
			return fmt.Errorf("stage files: %w", err)
		}
	} else {
		if _, err := c.exec(ctx, "add", "-A"); err != nil {
			return fmt.Errorf("stage all: %w", err)
		}
	}

	for _, path := range opts.ExcludePaths {
		if containsPath(opts.Files, path) {
			continue
		}
		// Reset may fail when the path is untracked everywhere; tolerate.
		_, _ = c.exec(ctx, "reset", "--", path)
	}

	staged, err := c.exec(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return fmt.Errorf("inspect staged diff: %w", err)
	}
	if strings.TrimSpace(staged) == "" && !opts.Amend {
		return nil
	}

	commitArgs := []string{"commit", "-m", message, "--no-verify"}
	if opts.Amend {
		commitArgs = []string{"commit", "--amend", "--no-edit", "--no-verify"}
	}
	if _, err := c.exec(ctx, commitArgs...); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return c.Push(ctx)
}

// Push pushes the current branch, retrying once with --force-with-lease
// after a fetch when the remote rejects the update.
func (c *Client) Push(ctx context.Context) error {
	branch, err := c.CurrentBranch(ctx)
	if err != nil {
		return err
	}

	if _, err := c.exec(ctx, "push", "-u", "origin", branch); err == nil {
		return nil
	}

	if err := c.Fetch(ctx, branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	if _, err := c.exec(ctx, "push", "--force-with-lease", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// Rebase fetches target and rebases the current branch onto origin/<target>.
// On conflicts the rebase is aborted and the conflicted paths reported.
func (c *Client) Rebase(ctx context.Context, target string) (RebaseResult, error) {
	if err := c.Fetch(ctx, target); err != nil {
		return RebaseResult{}, fmt.Errorf("fetch %s: %w", target, err)
	}

	if _, err := c.exec(ctx, "rebase", "origin/"+target); err == nil {
		return RebaseResult{Success: true}, nil
	}

	conflicts, listErr := c.exec(ctx, "diff", "--name-only", "--diff-filter=U")
	_, _ = c.exec(ctx, "rebase", "--abort")
	if listErr != nil {
		return RebaseResult{HasConflicts: true}, nil
	}

	return RebaseResult{
		HasConflicts:  true,
		ConflictFiles: splitLines(conflicts),
	}, nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (c *Client) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.exec(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ModifiedFiles returns the paths with uncommitted modifications, including
// untracked files.
func (c *Client) ModifiedFiles(ctx context.Context) ([]string, error) {
	out, err := c.exec(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var files []string
	// Porcelain lines are "XY <path>"; X may be a space, so the line must
	// not be trimmed before the status columns are cut off.
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.exec(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentSHA returns the HEAD commit hash.
func (c *Client) CurrentSHA(ctx context.Context) (string, error) {
	out, err := c.exec(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DeleteBranch removes a branch locally and on origin, tolerating absence
// on either side.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	_, _ = c.exec(ctx, "branch", "-D", branch)
	_, _ = c.exec(ctx, "push", "origin", "--delete", branch)
	return nil
}

// Show returns the contents of path at ref without touching the working
// tree.
func (c *Client) Show(ctx context.Context, ref, path string) (string, error) {
	return c.exec(ctx, "show", ref+":"+path)
}

// ListRemoteBranches returns origin branches starting with prefix.
func (c *Client) ListRemoteBranches(ctx context.Context, prefix string) ([]string, error) {
	out, err := c.exec(ctx, "ls-remote", "--heads", "origin", prefix+"*")
	if err != nil {
		return nil, err
	}

	var branches []string
	for _, line := range splitLines(out) {
		// Lines are "<sha>\trefs/heads/<name>".
		if _, ref, ok := strings.Cut(line, "\t"); ok {
			branches = append(branches, strings.TrimPrefix(ref, "refs/heads/"))
		}
	}
	return branches, nil
}

// RemoteBranchExists checks whether origin has the branch.
func (c *Client) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	out, err := c.exec(ctx, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Stash saves uncommitted changes, returning true when something was
// stashed.
func (c *Client) Stash(ctx context.Context) (bool, error) {
	dirty, err := c.HasUncommittedChanges(ctx)
	if err != nil || !dirty {
		return false, err
	}
	if _, err := c.exec(ctx, "stash", "push", "--include-untracked"); err != nil {
		return false, err
	}
	return true, nil
}

// StashPop restores the most recent stash.
func (c *Client) StashPop(ctx context.Context) error {
	_, err := c.exec(ctx, "stash", "pop")
	return err
}

// DiscardPath throws away local modifications to path, tolerating paths
// that do not exist on the current branch.
func (c *Client) DiscardPath(ctx context.Context, path string) {
	_, _ = c.exec(ctx, "checkout", "--", path)
	_, _ = c.exec(ctx, "clean", "-f", "--", path)
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
