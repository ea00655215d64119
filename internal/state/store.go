package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohsen1/cco/internal/branch"
	"github.com/mohsen1/cco/internal/git"
)

// saveRetries bounds the pull-merge-push loop after a rejected push.
const saveRetries = 3

// Store persists the state document on the work branch through the
// pull-merge-push protocol. It is safe against concurrent writers on other
// reactor invocations: a rejected push re-fetches, re-merges, amends, and
// retries.
type Store struct {
	git    *git.Client
	logger *log.Logger
}

// NewStore creates a store operating on the given checkout.
func NewStore(gitClient *git.Client, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{git: gitClient, logger: logger}
}

// Load reads the state document from origin's copy of workBranch without
// switching branches. Returns os.ErrNotExist when no document exists.
func (s *Store) Load(ctx context.Context, workBranch string) (*OrchestrationState, error) {
	return s.LoadFromBranch(ctx, workBranch)
}

// LoadFromBranch reads the state document from origin/<branch>, falling back
// to the local ref when the remote copy is unavailable.
func (s *Store) LoadFromBranch(ctx context.Context, branchName string) (*OrchestrationState, error) {
	// Best effort: a stale origin ref still yields a mergeable document.
	_ = s.git.Fetch(ctx, branchName)

	raw, err := s.git.Show(ctx, "origin/"+branchName, FilePath)
	if err != nil {
		raw, err = s.git.Show(ctx, branchName, FilePath)
	}
	if err != nil {
		return nil, fmt.Errorf("state document not found on %s: %w", branchName, os.ErrNotExist)
	}

	return Parse([]byte(raw))
}

// Parse decodes and validates a state document.
func Parse(data []byte) (*OrchestrationState, error) {
	var st OrchestrationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state document: %w", err)
	}
	if st.Version != Version {
		return nil, fmt.Errorf("unsupported state version %d (want %d)", st.Version, Version)
	}
	if st.WorkBranch == "" {
		return nil, fmt.Errorf("state document missing workBranch")
	}
	return &st, nil
}

// Serialize renders the document as pretty-printed UTF-8 JSON with a
// trailing newline.
func Serialize(st *OrchestrationState) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize state document: %w", err)
	}
	return append(data, '\n'), nil
}

// Initialize creates the work branch from baseBranch and writes the first
// state document to it. The branch may already exist (idempotent resume); in
// that case the existing document, if any, is merged.
func (s *Store) Initialize(ctx context.Context, st *OrchestrationState) (*OrchestrationState, error) {
	exists, err := s.git.RemoteBranchExists(ctx, st.WorkBranch)
	if err != nil {
		return nil, fmt.Errorf("check work branch: %w", err)
	}

	if !exists {
		if err := s.git.CreateBranch(ctx, st.WorkBranch, st.BaseBranch, FilePath); err != nil {
			return nil, fmt.Errorf("create work branch: %w", err)
		}
	}

	return s.Save(ctx, st, "initialize orchestration state")
}

// Save writes the document to the work branch via pull-merge-push:
//
//  1. capture the current branch and stash unrelated modifications
//  2. checkout the work branch and rebase onto origin
//  3. merge any remote document with the in-memory state
//  4. write, commit, push
//  5. on push rejection retry up to three times (re-fetch, re-merge, amend)
//  6. restore the original branch and stash on every exit path
//
// The merged state actually persisted is returned.
func (s *Store) Save(ctx context.Context, st *OrchestrationState, message string) (*OrchestrationState, error) {
	originalBranch, err := s.git.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture current branch: %w", err)
	}

	stashed := false
	if originalBranch != st.WorkBranch {
		stashed, err = s.git.Stash(ctx)
		if err != nil {
			return nil, fmt.Errorf("stash before state save: %w", err)
		}
	}

	defer func() {
		if originalBranch != st.WorkBranch && originalBranch != "HEAD" {
			if err := s.git.Checkout(ctx, originalBranch); err != nil {
				s.logger.Error("failed to restore branch after state save",
					"branch", originalBranch, "err", err)
				return
			}
			if stashed {
				if err := s.git.StashPop(ctx); err != nil {
					s.logger.Error("failed to restore stash after state save", "err", err)
				}
			}
		}
	}()

	if err := s.git.Checkout(ctx, st.WorkBranch); err != nil {
		return nil, fmt.Errorf("checkout work branch: %w", err)
	}
	if res, err := s.git.Rebase(ctx, st.WorkBranch); err == nil && res.HasConflicts {
		// The only file that can conflict here is the state document, and
		// the merge below supersedes it.
		s.git.DiscardPath(ctx, FilePath)
	}

	merged := st
	if remote, err := s.LoadFromBranch(ctx, st.WorkBranch); err == nil {
		merged = Merge(st, remote)
	}

	commitMsg := fmt.Sprintf("cco: %s [issue #%d]", message, merged.Issue.Number)

	var lastErr error
	for attempt := 0; attempt <= saveRetries; attempt++ {
		amend := attempt > 0

		if err := s.write(merged); err != nil {
			return nil, err
		}

		err := s.git.CommitAndPush(ctx, commitMsg, git.CommitOptions{
			Files: []string{FilePath},
			Amend: amend,
		})
		if err == nil {
			return merged, nil
		}
		lastErr = err

		// A concurrent writer won the push race: re-read, re-merge, retry.
		if remote, loadErr := s.LoadFromBranch(ctx, st.WorkBranch); loadErr == nil {
			merged = Merge(merged, remote)
		}
	}

	return nil, fmt.Errorf("state save failed after %d retries: %w", saveRetries, lastErr)
}

func (s *Store) write(st *OrchestrationState) error {
	data, err := Serialize(st)
	if err != nil {
		return err
	}

	path := filepath.Join(s.git.RepoPath, FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state document: %w", err)
	}
	return nil
}

// FindWorkBranchForIssue locates the work branch for an issue by its
// deterministic prefix. Empty when no orchestration exists.
func (s *Store) FindWorkBranchForIssue(ctx context.Context, issueNumber int) (string, error) {
	prefix := fmt.Sprintf("%s%d-", branch.Prefix, issueNumber)
	branches, err := s.git.ListRemoteBranches(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list work branches: %w", err)
	}

	for _, b := range branches {
		// Only the director branch matches "cco/<n>-<slug>" with no
		// -em/-w suffix.
		if c := branch.ParseComponent(b); c.Type == branch.TypeDirector && c.IssueNumber == issueNumber {
			return b, nil
		}
	}
	return "", nil
}

// InProgress reports whether the issue has a live, non-terminal
// orchestration.
func (s *Store) InProgress(ctx context.Context, issueNumber int) (bool, error) {
	workBranch, err := s.FindWorkBranchForIssue(ctx, issueNumber)
	if err != nil || workBranch == "" {
		return false, err
	}

	st, err := s.Load(ctx, workBranch)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, err
	}

	return !st.Phase.Terminal(), nil
}

// NewState builds the initial document for an issue.
func NewState(issue IssueRef, baseBranch string, cfg Config, now time.Time) *OrchestrationState {
	now = now.UTC()
	return &OrchestrationState{
		Version:    Version,
		Issue:      issue,
		Repo:       issue.Owner + "/" + issue.Repo,
		Phase:      PhaseInitialized,
		WorkBranch: branch.WorkBranch(issue.Number, issue.Title),
		BaseBranch: baseBranch,
		Config:     cfg,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
