package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mohsen1/cco/internal/claude"
	"github.com/mohsen1/cco/internal/escalate"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/git"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/labels"
	"github.com/mohsen1/cco/internal/state"
)

// fakeGateway is an in-memory VCS host.
type fakeGateway struct {
	mu sync.Mutex

	issues map[int]*github.Issue
	prs    map[int]*github.PRInfo
	nextPR int

	mergeResults map[int]github.MergeResult

	labelsByNumber map[int][]string
	comments       map[int][]string
	reviewComments map[int][]github.ReviewComment
	replies        map[int][]string
	statusComments map[int]string
	dispatches     []map[string]any
	ensuredLabels  []labels.Label

	failCreatePR bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		issues:         make(map[int]*github.Issue),
		prs:            make(map[int]*github.PRInfo),
		nextPR:         100,
		mergeResults:   make(map[int]github.MergeResult),
		labelsByNumber: make(map[int][]string),
		comments:       make(map[int][]string),
		reviewComments: make(map[int][]github.ReviewComment),
		replies:        make(map[int][]string),
		statusComments: make(map[int]string),
	}
}

func (g *fakeGateway) GetIssue(_ context.Context, number int) (*github.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	issue, ok := g.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, github.ErrNotFound)
	}
	return issue, nil
}

func (g *fakeGateway) CreateBranch(_ context.Context, name, from string) error { return nil }

func (g *fakeGateway) GetPullRequest(_ context.Context, number int) (*github.PRInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pr, ok := g.prs[number]
	if !ok {
		return nil, fmt.Errorf("pr #%d: %w", number, github.ErrNotFound)
	}
	return pr, nil
}

func (g *fakeGateway) FindPullRequest(_ context.Context, head, base string) (*github.PRInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, pr := range g.prs {
		if pr.Branch == head && pr.TargetBranch == base {
			return pr, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) CreatePullRequest(_ context.Context, params github.PRParams) (*github.PRInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreatePR {
		return nil, fmt.Errorf("create pull request: host refused")
	}
	for _, pr := range g.prs {
		if pr.Branch == params.Head && pr.TargetBranch == params.Base {
			return pr, nil
		}
	}
	g.nextPR++
	pr := &github.PRInfo{
		Number:       g.nextPR,
		URL:          fmt.Sprintf("https://example.com/pr/%d", g.nextPR),
		Title:        params.Title,
		Branch:       params.Head,
		TargetBranch: params.Base,
		State:        "open",
	}
	g.prs[pr.Number] = pr
	g.labelsByNumber[pr.Number] = append(g.labelsByNumber[pr.Number], params.Labels...)
	return pr, nil
}

func (g *fakeGateway) MergePullRequest(_ context.Context, number int) (github.MergeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.mergeResults[number]; ok {
		return res, nil
	}
	return github.MergeResult{Merged: true, Classification: github.MergeOK}, nil
}

func (g *fakeGateway) UpdatePullRequestBranch(_ context.Context, number int) bool { return true }

func (g *fakeGateway) UpdateIssueComment(_ context.Context, issueNumber int, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusComments[issueNumber] = body
	return nil
}

func (g *fakeGateway) AddPullRequestComment(_ context.Context, prNumber int, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.comments[prNumber] = append(g.comments[prNumber], body)
	return nil
}

func (g *fakeGateway) GetPullRequestReviews(_ context.Context, prNumber int) ([]github.Review, error) {
	return nil, nil
}

func (g *fakeGateway) GetReviewComments(_ context.Context, prNumber int) ([]github.ReviewComment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reviewComments[prNumber], nil
}

func (g *fakeGateway) ReplyToReviewComment(_ context.Context, prNumber int, commentID int64, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[prNumber] = append(g.replies[prNumber], body)
	return nil
}

func (g *fakeGateway) EnsureLabelsExist(_ context.Context, vocabulary []labels.Label) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensuredLabels = vocabulary
	return nil
}

func (g *fakeGateway) AddLabels(_ context.Context, number int, names []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.labelsByNumber[number] = append(g.labelsByNumber[number], names...)
	return nil
}

func (g *fakeGateway) SetPhaseLabel(_ context.Context, issueNumber int, phase string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := []string{labels.PhaseLabel(phase)}
	for _, name := range g.labelsByNumber[issueNumber] {
		if !labels.IsPhaseLabel(name) {
			kept = append(kept, name)
		}
	}
	g.labelsByNumber[issueNumber] = kept
	return nil
}

func (g *fakeGateway) SetStatusLabel(_ context.Context, prNumber int, status labels.Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := []string{labels.StatusLabel(status)}
	for _, name := range g.labelsByNumber[prNumber] {
		if !labels.IsStatusLabel(name) {
			kept = append(kept, name)
		}
	}
	g.labelsByNumber[prNumber] = kept
	return nil
}

func (g *fakeGateway) FindWorkflowFile(context.Context) (string, error) { return "cco.yml", nil }

func (g *fakeGateway) DispatchWorkflow(_ context.Context, workflowFile, ref string, inputs map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dispatches = append(g.dispatches, inputs)
	return nil
}

func (g *fakeGateway) hasLabel(number int, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, l := range g.labelsByNumber[number] {
		if l == name {
			return true
		}
	}
	return false
}

func (g *fakeGateway) dispatchedKinds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var kinds []string
	for _, d := range g.dispatches {
		if k, ok := d["event_type"].(string); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// fakeStore keeps state documents in memory, applying the real merge.
type fakeStore struct {
	mu     sync.Mutex
	byWork map[string]*state.OrchestrationState

	failSaves bool
	saves     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byWork: make(map[string]*state.OrchestrationState)}
}

func (s *fakeStore) Load(_ context.Context, workBranch string) (*state.OrchestrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byWork[workBranch]
	if !ok {
		return nil, fmt.Errorf("state document not found on %s", workBranch)
	}
	return state.Merge(st, nil), nil
}

func (s *fakeStore) Initialize(_ context.Context, st *state.OrchestrationState) (*state.OrchestrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWork[st.WorkBranch] = state.Merge(st, s.byWork[st.WorkBranch])
	return state.Merge(s.byWork[st.WorkBranch], nil), nil
}

func (s *fakeStore) Save(_ context.Context, st *state.OrchestrationState, message string) (*state.OrchestrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaves {
		return nil, fmt.Errorf("push rejected")
	}
	s.byWork[st.WorkBranch] = state.Merge(st, s.byWork[st.WorkBranch])
	return state.Merge(s.byWork[st.WorkBranch], nil), nil
}

func (s *fakeStore) FindWorkBranchForIssue(_ context.Context, issueNumber int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for work, st := range s.byWork {
		if st.Issue.Number == issueNumber {
			return work, nil
		}
	}
	return "", nil
}

func (s *fakeStore) current(workBranch string) *state.OrchestrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byWork[workBranch]
}

// fakeAgent serves scripted outputs in call order.
type fakeAgent struct {
	mu        sync.Mutex
	outputs   []string
	err       error
	calls     []claude.ExecuteOptions
	resumes   []string
	rotations int
}

func (a *fakeAgent) next() string {
	if len(a.outputs) == 0 {
		return "{}"
	}
	out := a.outputs[0]
	if len(a.outputs) > 1 {
		a.outputs = a.outputs[1:]
	}
	return out
}

func (a *fakeAgent) ExecuteTask(_ context.Context, opts claude.ExecuteOptions) (*claude.TaskResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, opts)
	if a.err != nil {
		return nil, a.err
	}
	return &claude.TaskResult{Success: true, Output: a.next(), SessionID: "sess-1"}, nil
}

func (a *fakeAgent) ResumeSession(_ context.Context, workDir, sessionID, feedback string) (*claude.TaskResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resumes = append(a.resumes, sessionID)
	if a.err != nil {
		return nil, a.err
	}
	return &claude.TaskResult{Success: true, Output: a.next(), SessionID: sessionID}, nil
}

func (a *fakeAgent) GenerateChangesSummary(context.Context, string, string, []string) (string, error) {
	return "Summary of changes.", nil
}

func (a *fakeAgent) RotateCredential() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotations++
}

// fakeGit records local git operations.
type fakeGit struct {
	mu            sync.Mutex
	modifiedFiles []string
	branches      []string
	checkouts     []string
	commits       []string
}

func (g *fakeGit) CreateBranch(_ context.Context, name, from string, discard ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches = append(g.branches, name)
	return nil
}

func (g *fakeGit) Checkout(_ context.Context, branchName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, branchName)
	return nil
}

func (g *fakeGit) CommitAndPush(_ context.Context, message string, opts git.CommitOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits = append(g.commits, message)
	return nil
}

func (g *fakeGit) ModifiedFiles(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.modifiedFiles, nil
}

// fakeEscalator records escalations.
type fakeEscalator struct {
	mu   sync.Mutex
	seen []escalate.Escalation
}

func (e *fakeEscalator) Escalate(_ context.Context, esc escalate.Escalation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, esc)
	return nil
}

func (e *fakeEscalator) Name() string { return "fake" }

// harness bundles a reactor with its fakes.
type harness struct {
	reactor   *Reactor
	gateway   *fakeGateway
	store     *fakeStore
	agent     *fakeAgent
	git       *fakeGit
	escalator *fakeEscalator
	bus       *events.Bus
}

func newHarness() *harness {
	gateway := newFakeGateway()
	store := newFakeStore()
	agent := &fakeAgent{}
	gitOps := &fakeGit{}
	esc := &fakeEscalator{}
	bus := events.NewBus()

	r := New(Config{
		RepoOwner:       "acme",
		RepoName:        "widgets",
		RepoPath:        "/repo",
		MaxEms:          3,
		MaxWorkersPerEM: 3,
		PRLabel:         "cco",
		BaseBranch:      "main",
	}, Dependencies{
		Gateway:   gateway,
		Agent:     agent,
		Store:     store,
		Git:       gitOps,
		Bus:       bus,
		Escalator: esc,
		Logger:    log.New(io.Discard),
	})
	r.sleep = func(context.Context, time.Duration) error { return nil }

	return &harness{
		reactor:   r,
		gateway:   gateway,
		store:     store,
		agent:     agent,
		git:       gitOps,
		escalator: esc,
		bus:       bus,
	}
}
