package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"buildmedic/internal/build"
	"buildmedic/internal/checkpoint"
	"buildmedic/internal/config"
	"buildmedic/internal/patch"
	"buildmedic/internal/proposer"
)

type mockBuilds struct {
	attempts []*build.Attempt
	calls    int
}

func (m *mockBuilds) Run(ctx context.Context, iteration int, command string, timeout time.Duration) (*build.Attempt, error) {
	if m.calls >= len(m.attempts) {
		// Past the script the build stays broken the same way.
		m.calls++
		return m.attempts[len(m.attempts)-1], nil
	}
	a := m.attempts[m.calls]
	m.calls++
	return a, nil
}

type mockApplier struct {
	applied     [][]patch.Edit
	rollbacks   []string
	rollbackAll int
	pending     []string
	applyErr    error
}

func (m *mockApplier) Apply(edits []patch.Edit) (*patch.Result, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	m.applied = append(m.applied, edits)
	res := &patch.Result{}
	for _, e := range edits {
		res.Changed = append(res.Changed, e.Path)
		m.pending = append(m.pending, e.Path)
	}
	return res, nil
}

func (m *mockApplier) Rollback(path string) error {
	m.rollbacks = append(m.rollbacks, path)
	return nil
}

func (m *mockApplier) RollbackAll() error {
	m.rollbackAll++
	return nil
}

func (m *mockApplier) Pending() []string              { return m.pending }
func (m *mockApplier) NoteCleanIteration(retention int) {}

type mockCheckpoints struct {
	commits   []string
	commitErr error
	ensureErr error
	finished  bool
}

func (m *mockCheckpoints) EnsureBranch() error { return m.ensureErr }

func (m *mockCheckpoints) Commit(paths []string, message string) (string, error) {
	if m.commitErr != nil {
		return "", m.commitErr
	}
	if len(paths) == 0 {
		return "", nil
	}
	m.commits = append(m.commits, message)
	return "abc1234def", nil
}

func (m *mockCheckpoints) Finish() error  { m.finished = true; return nil }
func (m *mockCheckpoints) Branch() string { return "medic/autofix" }

type mockProposer struct {
	raw   string
	err   error
	calls int
}

func (m *mockProposer) Propose(ctx context.Context, req proposer.Request) (*proposer.Proposal, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &proposer.Proposal{Raw: m.raw, Backend: "mock"}, nil
}

func failing(output string) *build.Attempt {
	return &build.Attempt{ExitCode: 1, Output: output}
}

func passing() *build.Attempt {
	return &build.Attempt{ExitCode: 0, Output: "ok"}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Repo = "."
	cfg.Loop.RateLimit = "0s"
	return cfg
}

func newTestOrchestrator(cfg *config.Config, builds BuildRunner, applier PatchApplier, cp Checkpointer, prop proposer.Proposer) *Orchestrator {
	o := New(Options{
		Config:      cfg,
		RunID:       "run-test",
		Builds:      builds,
		Applier:     applier,
		Checkpoints: cp,
		Proposer:    prop,
	})
	o.sleep = func(time.Duration) {}
	return o
}

func TestRunSucceedsAfterFix(t *testing.T) {
	builds := &mockBuilds{attempts: []*build.Attempt{
		failing("main.go:4:2: undefined: frobnicate\nexit status 1"),
		passing(),
	}}
	applier := &mockApplier{}
	cp := &mockCheckpoints{}
	prop := &mockProposer{raw: "Fix the call.\n\n```go path=main.go\npackage main\n\nfunc main() {}\n```\n"}

	o := newTestOrchestrator(testConfig(), builds, applier, cp, prop)
	res := o.Run(context.Background(), "fix the build")

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s (err: %v)", res.Outcome, OutcomeSuccess, res.Err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("applied %d patches, want 1", len(applier.applied))
	}
	if got := applier.applied[0][0].Path; got != "main.go" {
		t.Errorf("patched %s, want main.go", got)
	}
	// One commit per applied edit plus the final pending-edits commit.
	if len(cp.commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(cp.commits))
	}
	if !strings.HasPrefix(cp.commits[0], "medic iteration 1:") {
		t.Errorf("first commit message = %q", cp.commits[0])
	}
	if !cp.finished {
		t.Error("checkpoint not finished after success")
	}
}

func TestRunExhaustsBudget(t *testing.T) {
	// Every iteration fails differently, so no target oscillates and the
	// loop runs out its full budget.
	builds := &mockBuilds{}
	for i := 0; i < 12; i++ {
		builds.attempts = append(builds.attempts, failing("random flake "+strings.Repeat("x", i+1)))
	}
	cfg := testConfig()
	cfg.Loop.MaxIterations = 10

	o := newTestOrchestrator(cfg, builds, &mockApplier{}, &mockCheckpoints{}, &mockProposer{raw: "no idea"})
	res := o.Run(context.Background(), "fix")

	if res.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeExhausted)
	}
	if res.Iterations != 10 {
		t.Errorf("iterations = %d, want 10", res.Iterations)
	}
	if builds.calls != 10 {
		t.Errorf("build ran %d times, want 10", builds.calls)
	}
}

func TestOscillatingTargetIsSkippedOnce(t *testing.T) {
	// The same diagnostic repeats forever; the proposal is a no-op-free
	// patch that never helps. After the window fills, the target must be
	// skipped exactly once and later identical failures left unactioned.
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "broken.go"), []byte("package broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	builds := &mockBuilds{attempts: []*build.Attempt{
		failing("broken.go:1:1: syntax error"),
	}}
	cfg := testConfig()
	cfg.Repo = repo
	cfg.Loop.MaxIterations = 10
	cfg.Loop.Window = 5
	applier := &mockApplier{}
	prop := &mockProposer{raw: "```go path=broken.go\npackage broken\n```\n"}

	o := newTestOrchestrator(cfg, builds, applier, &mockCheckpoints{}, prop)
	res := o.Run(context.Background(), "fix")

	if res.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeExhausted)
	}
	if len(res.Skips) != 1 {
		t.Fatalf("skips = %d, want 1", len(res.Skips))
	}
	if res.Skips[0].Target != "broken.go" {
		t.Errorf("skipped target = %s, want broken.go", res.Skips[0].Target)
	}
	if res.Skips[0].Iterations != 5 {
		t.Errorf("skip recorded at iteration %d, want 5", res.Skips[0].Iterations)
	}
	// Iterations 1-4 propose; 5 skips; 6-10 are unactioned.
	if prop.calls != 4 {
		t.Errorf("proposer called %d times, want 4", prop.calls)
	}
	if len(applier.rollbacks) != 1 || applier.rollbacks[0] != "broken.go" {
		t.Errorf("rollbacks = %v, want [broken.go]", applier.rollbacks)
	}
}

func TestStartupFailureSkipsWithoutProposing(t *testing.T) {
	attempt := failing("sh: makee: command not found")
	attempt.Startup = true
	builds := &mockBuilds{attempts: []*build.Attempt{attempt}}
	cfg := testConfig()
	cfg.Loop.MaxIterations = 3
	prop := &mockProposer{raw: "unused"}
	applier := &mockApplier{}

	o := newTestOrchestrator(cfg, builds, applier, &mockCheckpoints{}, prop)
	res := o.Run(context.Background(), "fix")

	if res.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeExhausted)
	}
	if prop.calls != 0 {
		t.Errorf("proposer called %d times for a startup failure, want 0", prop.calls)
	}
	if len(res.Skips) != 1 {
		t.Fatalf("skips = %d, want 1", len(res.Skips))
	}
	if res.Skips[0].Target != "<run>" {
		t.Errorf("skipped target = %s, want <run>", res.Skips[0].Target)
	}
}

func TestBackendUnavailableFallsBack(t *testing.T) {
	builds := &mockBuilds{attempts: []*build.Attempt{
		failing("main.go:2:1: error: boom"),
		passing(),
	}}
	prop := &mockProposer{err: proposer.ErrBackendUnavailable}
	applier := &mockApplier{}

	o := newTestOrchestrator(testConfig(), builds, applier, &mockCheckpoints{}, prop)
	res := o.Run(context.Background(), "fix")

	// The empty hints proposal carries no code blocks, so the iteration
	// just moves on; the run still terminates normally.
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s (err: %v)", res.Outcome, OutcomeSuccess, res.Err)
	}
	if prop.calls != 1 {
		t.Errorf("proposer called %d times, want 1", prop.calls)
	}
	if len(applier.applied) != 0 {
		t.Errorf("applied %d patches from an empty fallback, want 0", len(applier.applied))
	}
}

func TestCommitConflictAborts(t *testing.T) {
	builds := &mockBuilds{attempts: []*build.Attempt{
		failing("main.go:2:1: error: boom"),
	}}
	cp := &mockCheckpoints{commitErr: checkpoint.ErrMergeConflict}
	prop := &mockProposer{raw: "```go path=main.go\npackage main\n```\n"}

	o := newTestOrchestrator(testConfig(), builds, &mockApplier{}, cp, prop)
	res := o.Run(context.Background(), "fix")

	if res.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeAborted)
	}
	if !IsMergeConflict(res.Err) {
		t.Errorf("err = %v, want a merge conflict", res.Err)
	}
}

func TestEnsureBranchFailureAborts(t *testing.T) {
	cp := &mockCheckpoints{ensureErr: errors.New("git: not a repository")}
	o := newTestOrchestrator(testConfig(), &mockBuilds{attempts: []*build.Attempt{passing()}}, &mockApplier{}, cp, &mockProposer{})
	res := o.Run(context.Background(), "fix")

	if res.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeAborted)
	}
	if res.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", res.Iterations)
	}
}

func TestStopSignalSampledAtBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	builds := &mockBuilds{attempts: []*build.Attempt{passing()}}
	o := newTestOrchestrator(testConfig(), builds, &mockApplier{}, &mockCheckpoints{}, &mockProposer{})
	res := o.Run(ctx, "fix")

	if res.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeAborted)
	}
	if builds.calls != 0 {
		t.Errorf("build ran %d times after stop, want 0", builds.calls)
	}
}

func TestRateLimitDelaysSecondProposal(t *testing.T) {
	builds := &mockBuilds{attempts: []*build.Attempt{
		failing("a.go:1:1: error one"),
		failing("b.go:1:1: error two"),
		passing(),
	}}
	cfg := testConfig()
	cfg.Loop.RateLimit = "2s"
	prop := &mockProposer{raw: "```go path=a.go\npackage a\n```\n"}

	o := newTestOrchestrator(cfg, builds, &mockApplier{}, &mockCheckpoints{}, prop)

	clock := time.Unix(1000, 0)
	o.now = func() time.Time { return clock }
	var slept []time.Duration
	o.sleep = func(d time.Duration) { slept = append(slept, d) }

	res := o.Run(context.Background(), "fix")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s (err: %v)", res.Outcome, OutcomeSuccess, res.Err)
	}
	// First proposal goes out immediately; the second waits the full window
	// because the fake clock never advances.
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want one 2s wait", slept)
	}
}
