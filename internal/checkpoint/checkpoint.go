package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ErrMergeConflict is the fatal condition surfaced when trunk cannot be
// merged into the integration branch cleanly. Never retried.
var ErrMergeConflict = errors.New("merge conflict")

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Manager owns the working tree's checkpoint lifecycle: one integration
// branch, one commit per applied non-empty change.
type Manager struct {
	git      GitRunner
	repoDir  string
	branch   string
	trunk    string
	push     bool
	progress io.Writer // live progress output; nil = silent
}

// NewManager creates a checkpoint manager for the repo.
func NewManager(git GitRunner, repoDir, branch, trunk string, push bool) *Manager {
	return &Manager{git: git, repoDir: repoDir, branch: branch, trunk: trunk, push: push}
}

// SetProgress sets a writer for live progress output.
func (m *Manager) SetProgress(w io.Writer) {
	m.progress = w
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.progress != nil {
		fmt.Fprintf(m.progress, "  → "+format+"\n", args...)
	}
}

// Branch returns the integration branch name.
func (m *Manager) Branch() string {
	return m.branch
}

// EnsureBranch switches to the integration branch, creating it from the
// current head if absent. If the checkout starts on a diverged non-trunk
// branch, that branch is merged into trunk first; the integration branch is
// then brought up to date with trunk. Either merge failing is fatal.
func (m *Manager) EnsureBranch() error {
	// Best-effort fetch; offline repos are fine.
	m.git.Run(m.repoDir, "fetch", "origin")

	current, err := m.git.Run(m.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("resolve current branch: %w", err)
	}

	if current != m.trunk && current != m.branch {
		m.logf("on %s, folding into %s before checkpointing", current, m.trunk)
		if _, err := m.git.Run(m.repoDir, "checkout", m.trunk); err != nil {
			return fmt.Errorf("checkout %s: %w", m.trunk, err)
		}
		out, err := m.git.Run(m.repoDir, "merge", current, "--no-ff", "-m", fmt.Sprintf("Fold %s into %s before autofix", current, m.trunk))
		if mergeConflicted(out, err) {
			return fmt.Errorf("%w: merging %s into %s: %s", ErrMergeConflict, current, m.trunk, firstLine(out, err))
		}
		if err != nil {
			return fmt.Errorf("merge %s: %w", current, err)
		}
	}

	if _, err := m.git.Run(m.repoDir, "rev-parse", "--verify", m.branch); err != nil {
		m.logf("creating integration branch %s", m.branch)
		if _, err := m.git.Run(m.repoDir, "checkout", "-b", m.branch); err != nil {
			return fmt.Errorf("create branch %s: %w", m.branch, err)
		}
		return nil
	}

	if _, err := m.git.Run(m.repoDir, "checkout", m.branch); err != nil {
		return fmt.Errorf("checkout %s: %w", m.branch, err)
	}
	out, err := m.git.Run(m.repoDir, "merge", m.trunk)
	if mergeConflicted(out, err) {
		return fmt.Errorf("%w: merging %s into %s: %s", ErrMergeConflict, m.trunk, m.branch, firstLine(out, err))
	}
	if err != nil {
		return fmt.Errorf("merge %s into %s: %w", m.trunk, m.branch, err)
	}
	return nil
}

// Commit stages exactly the given paths and commits them. An empty path list
// or an empty staged diff is a no-op returning an empty commit id, so the
// tree never crosses an iteration boundary with staged-but-uncommitted
// changes.
func (m *Manager) Commit(paths []string, message string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}

	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := m.git.Run(m.repoDir, addArgs...); err != nil {
		return "", fmt.Errorf("stage paths: %w", err)
	}

	staged, err := m.git.Run(m.repoDir, "diff", "--cached", "--name-only")
	if err != nil {
		return "", fmt.Errorf("inspect staged changes: %w", err)
	}
	if strings.TrimSpace(staged) == "" {
		return "", nil
	}

	if _, err := m.git.Run(m.repoDir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	id, err := m.git.Run(m.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve commit id: %w", err)
	}
	return id, nil
}

// Finish switches back to trunk and attempts to publish the integration
// branch. A missing or unreachable remote is tolerated and logged, never
// fatal.
func (m *Manager) Finish() error {
	if _, err := m.git.Run(m.repoDir, "checkout", m.trunk); err != nil {
		return fmt.Errorf("checkout %s: %w", m.trunk, err)
	}
	if !m.push {
		return nil
	}
	if _, err := m.git.Run(m.repoDir, "push", "-u", "origin", m.branch); err != nil {
		m.logf("no remote or push failed, branch %s kept local: %v", m.branch, err)
	}
	return nil
}

// mergeConflicted detects a conflicted merge from git's output.
func mergeConflicted(out string, err error) bool {
	if err == nil {
		return false
	}
	combined := strings.ToLower(out + " " + err.Error())
	return strings.Contains(combined, "conflict")
}

func firstLine(out string, err error) string {
	s := out
	if s == "" && err != nil {
		s = err.Error()
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
