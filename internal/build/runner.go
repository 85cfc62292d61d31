package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// TimeoutMarker is the synthetic output recorded when a build exceeds its
// timeout. It is stable text so repeated timeouts fingerprint identically.
const TimeoutMarker = "=== medic: execution timed out ==="

// Attempt captures one build execution. Immutable once returned.
type Attempt struct {
	Iteration int
	Command   string
	ExitCode  int
	Output    string // combined stdout+stderr
	Duration  time.Duration
	StartedAt time.Time
	TimedOut  bool
	Startup   bool // the command could not even be launched
}

// Failed reports whether the attempt is a failed build.
func (a *Attempt) Failed() bool {
	return a.ExitCode != 0 || a.TimedOut || a.Startup
}

// Tail returns the last n lines of the attempt's output.
func (a *Attempt) Tail(n int) string {
	lines := strings.Split(a.Output, "\n")
	if len(lines) <= n {
		return a.Output
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (output string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var buf strings.Builder
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return buf.String(), exitErr.ExitCode(), nil
		}
		return buf.String(), -1, fmt.Errorf("exec: %w", err)
	}
	return buf.String(), 0, nil
}

// Runner executes the configured build command and records attempts.
type Runner struct {
	cmd     CommandRunner
	dir     string
	logFile string // rolling build log, overwritten each attempt; "" disables
}

// NewRunner creates a build Runner for the given working directory.
func NewRunner(cmd CommandRunner, dir string, logFile string) *Runner {
	return &Runner{cmd: cmd, dir: dir, logFile: logFile}
}

// Run executes the build command with the given timeout. A non-zero exit is a
// normal failed attempt, not an error; the error return is reserved for
// bookkeeping failures. A command that cannot be launched at all produces an
// attempt with Startup set, which callers must not route through fix attempts.
func (r *Runner) Run(ctx context.Context, iteration int, command string, timeout time.Duration) (*Attempt, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, exitCode, err := r.cmd.Run(runCtx, r.dir, command)

	attempt := &Attempt{
		Iteration: iteration,
		Command:   command,
		ExitCode:  exitCode,
		Output:    out,
		Duration:  time.Since(start),
		StartedAt: start,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		attempt.TimedOut = true
		attempt.Output = strings.TrimRight(out, "\n") + "\n" + TimeoutMarker + "\n"
		if attempt.ExitCode == 0 {
			attempt.ExitCode = -1
		}
	case err != nil:
		attempt.Startup = true
		attempt.Output = fmt.Sprintf("failed to start build command: %v", err)
		attempt.ExitCode = -1
	}

	r.writeLog(attempt)
	return attempt, nil
}

// writeLog overwrites the rolling build log with the latest attempt. Failure
// to write the log never fails the attempt.
func (r *Runner) writeLog(a *Attempt) {
	if r.logFile == "" {
		return
	}
	header := fmt.Sprintf("# iteration %d: %s (exit %d, %s)\n", a.Iteration, a.Command, a.ExitCode, a.Duration.Round(time.Millisecond))
	_ = os.WriteFile(r.logFile, []byte(header+a.Output), 0o644)
}
