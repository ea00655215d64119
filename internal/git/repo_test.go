package git

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(f *fakeRunner) *Client {
	return NewClientWithRunner("/repo", f)
}

func TestCreateBranch(t *testing.T) {
	f := newFakeRunner()
	c := newTestClient(f)

	err := c.CreateBranch(context.Background(), "cco/1-x-em1", "cco/1-x", ".orchestrator/state.json")
	require.NoError(t, err)

	assert.True(t, f.calledWith("fetch origin cco/1-x"))
	assert.True(t, f.calledWith("checkout -- .orchestrator/state.json"))
	assert.True(t, f.calledWith("checkout -B cco/1-x-em1 origin/cco/1-x"))
}

func TestCreateBranchFetchFails(t *testing.T) {
	f := newFakeRunner()
	f.stub("fetch origin", "", errors.New("network down"))
	c := newTestClient(f)

	err := c.CreateBranch(context.Background(), "b", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch base")
}

func TestCheckoutFallsBackToRemote(t *testing.T) {
	f := newFakeRunner()
	f.stub("checkout feature", "", errors.New("unknown branch"))
	c := newTestClient(f)

	err := c.Checkout(context.Background(), "feature")
	require.NoError(t, err)
	assert.True(t, f.calledWith("fetch origin feature"))
	assert.True(t, f.calledWith("checkout -b feature origin/feature"))
}

func TestCommitAndPushSkipsEmptyDiff(t *testing.T) {
	f := newFakeRunner()
	f.stub("config user.name", "cco", nil)
	f.stub("diff --cached --name-only", "\n", nil)
	c := newTestClient(f)

	err := c.CommitAndPush(context.Background(), "msg", CommitOptions{})
	require.NoError(t, err)
	assert.False(t, f.calledWith("commit"))
	assert.False(t, f.calledWith("push"))
}

func TestCommitAndPushStagesAndPushes(t *testing.T) {
	f := newFakeRunner()
	f.stub("config user.name", "cco", nil)
	f.stub("diff --cached --name-only", "a.go\n", nil)
	f.stub("rev-parse --abbrev-ref HEAD", "cco/1-x-em1-w1\n", nil)
	c := newTestClient(f)

	err := c.CommitAndPush(context.Background(), "add endpoint", CommitOptions{})
	require.NoError(t, err)
	assert.True(t, f.calledWith("add -A"))
	assert.True(t, f.calledWith("commit -m add endpoint"))
	assert.True(t, f.calledWith("push -u origin cco/1-x-em1-w1"))
}

func TestCommitAndPushExcludesStateDocument(t *testing.T) {
	f := newFakeRunner()
	f.stub("config user.name", "cco", nil)
	f.stub("diff --cached --name-only", "a.go\n", nil)
	f.stub("rev-parse --abbrev-ref HEAD", "work\n", nil)
	c := newTestClient(f)

	err := c.CommitAndPush(context.Background(), "msg", CommitOptions{
		ExcludePaths: []string{".orchestrator/state.json"},
	})
	require.NoError(t, err)
	assert.True(t, f.calledWith("reset -- .orchestrator/state.json"))
}

func TestCommitAndPushKeepsExplicitlyListedStateDocument(t *testing.T) {
	f := newFakeRunner()
	f.stub("config user.name", "cco", nil)
	f.stub("diff --cached --name-only", ".orchestrator/state.json\n", nil)
	f.stub("rev-parse --abbrev-ref HEAD", "work\n", nil)
	c := newTestClient(f)

	err := c.CommitAndPush(context.Background(), "msg", CommitOptions{
		Files:        []string{".orchestrator/state.json"},
		ExcludePaths: []string{".orchestrator/state.json"},
	})
	require.NoError(t, err)
	assert.False(t, f.calledWith("reset -- .orchestrator/state.json"))
}

func TestPushRetriesWithForceWithLease(t *testing.T) {
	f := newFakeRunner()
	f.stub("rev-parse --abbrev-ref HEAD", "work\n", nil)
	f.stub("push -u origin work", "", errors.New("rejected: fetch first"))
	c := newTestClient(f)

	err := c.Push(context.Background())
	require.NoError(t, err)
	assert.True(t, f.calledWith("fetch origin work"))
	assert.True(t, f.calledWith("push --force-with-lease -u origin work"))
}

func TestRebaseSuccess(t *testing.T) {
	f := newFakeRunner()
	c := newTestClient(f)

	res, err := c.Rebase(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.HasConflicts)
}

func TestRebaseConflictAborts(t *testing.T) {
	f := newFakeRunner()
	f.stub("rebase origin/main", "", errors.New("merge conflict"))
	f.stub("diff --name-only --diff-filter=U", "src/a.go\nsrc/b.go\n", nil)
	c := newTestClient(f)

	res, err := c.Rebase(context.Background(), "main")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.HasConflicts)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, res.ConflictFiles)
	assert.True(t, f.calledWith("rebase --abort"))
}

func TestHasUncommittedChanges(t *testing.T) {
	f := newFakeRunner()
	f.stub("status --porcelain", " M a.go\n?? b.go\n", nil)
	c := newTestClient(f)

	dirty, err := c.HasUncommittedChanges(context.Background())
	require.NoError(t, err)
	assert.True(t, dirty)

	f2 := newFakeRunner()
	f2.stub("status --porcelain", "\n", nil)
	clean, err := newTestClient(f2).HasUncommittedChanges(context.Background())
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestModifiedFiles(t *testing.T) {
	f := newFakeRunner()
	f.stub("status --porcelain", " M src/a.go\n?? src/b.go\n", nil)
	c := newTestClient(f)

	files, err := c.ModifiedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, files)
}

func TestDeleteBranchToleratesAbsence(t *testing.T) {
	f := newFakeRunner()
	f.stub("branch -D gone", "", errors.New("not found"))
	f.stub("push origin --delete gone", "", errors.New("remote ref does not exist"))
	c := newTestClient(f)

	assert.NoError(t, c.DeleteBranch(context.Background(), "gone"))
}

func TestRemoteBranchExists(t *testing.T) {
	f := newFakeRunner()
	f.stub("ls-remote --heads origin present", "abc123\trefs/heads/present\n", nil)
	f.stub("ls-remote --heads origin absent", "", nil)
	c := newTestClient(f)

	ok, err := c.RemoteBranchExists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RemoteBranchExists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStashOnlyWhenDirty(t *testing.T) {
	f := newFakeRunner()
	f.stub("status --porcelain", "", nil)
	c := newTestClient(f)

	stashed, err := c.Stash(context.Background())
	require.NoError(t, err)
	assert.False(t, stashed)
	assert.False(t, f.calledWith("stash push"))

	f2 := newFakeRunner()
	f2.stub("status --porcelain", " M a.go\n", nil)
	stashed, err = newTestClient(f2).Stash(context.Background())
	require.NoError(t, err)
	assert.True(t, stashed)
	assert.True(t, f2.calledWith("stash push --include-untracked"))
}
