package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"buildmedic/internal/build"
	"buildmedic/internal/checkpoint"
	"buildmedic/internal/config"
	"buildmedic/internal/failure"
	"buildmedic/internal/patch"
	"buildmedic/internal/proposer"
)

// Outcome is a terminal state of the repair loop.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeAborted   Outcome = "aborted"
)

// Iteration states, used as event labels.
const (
	stateBuilding   = "building"
	stateAnalyzing  = "analyzing"
	stateSkipped    = "skipped"
	stateProposing  = "proposing"
	stateApplying   = "applying"
	stateCommitting = "committing"
	stateStopped    = "stopped"
)

// BuildRunner runs one build attempt.
type BuildRunner interface {
	Run(ctx context.Context, iteration int, command string, timeout time.Duration) (*build.Attempt, error)
}

// PatchApplier applies proposal edits with rollback support.
type PatchApplier interface {
	Apply(edits []patch.Edit) (*patch.Result, error)
	Rollback(path string) error
	RollbackAll() error
	Pending() []string
	NoteCleanIteration(retention int)
}

// Checkpointer manages the integration branch and commits.
type Checkpointer interface {
	EnsureBranch() error
	Commit(paths []string, message string) (string, error)
	Finish() error
	Branch() string
}

// EventLog persists run events. Satisfied by *db.DB; may be left nil.
type EventLog interface {
	StartRun(runID, repo, task, buildCmd string) error
	FinishRun(runID, outcome string, iterations int) error
	LogIteration(runID string, iteration int, state, target, signature string, exitCode, durationMs int, detail string) error
	LogSkip(runID, target, signature string, iterations int) error
}

// Options wires an Orchestrator.
type Options struct {
	Config      *config.Config
	RunID       string
	Builds      BuildRunner
	Applier     PatchApplier
	Checkpoints Checkpointer
	Proposer    proposer.Proposer // already retry-wrapped
	Fallback    proposer.Proposer // heuristic path, never errors
	Events      EventLog          // optional
	Logger      *zap.SugaredLogger
	Progress    io.Writer                // live CLI output; nil = silent
	Approve     func([]patch.Edit) bool  // patch confirmation; nil = always
}

// Result summarizes a finished run.
type Result struct {
	Outcome    Outcome
	Iterations int
	Commits    []string
	Skips      []failure.SkipNotice
	Err        error // set for OutcomeAborted
}

// Orchestrator drives the build-repair state machine. It owns all mutable
// run state (failure windows, skip list, backups via the applier) and runs
// strictly sequentially: one build, one analysis, one proposal, one apply,
// one commit in flight at a time.
type Orchestrator struct {
	cfg         *config.Config
	runID       string
	builds      BuildRunner
	applier     PatchApplier
	checkpoints Checkpointer
	proposer    proposer.Proposer
	fallback    proposer.Proposer
	events      EventLog
	log         *zap.SugaredLogger
	progress    io.Writer
	approve     func([]patch.Edit) bool

	tracker *failure.Tracker
	guard   *failure.Guard

	lastProposal time.Time
	now          func() time.Time
	sleep        func(time.Duration)
}

// New creates an Orchestrator from options.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	approve := opts.Approve
	if approve == nil {
		approve = func([]patch.Edit) bool { return true }
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = proposer.NewHints("")
	}
	tracker := failure.NewTracker(opts.Config.Loop.Window)
	return &Orchestrator{
		cfg:         opts.Config,
		runID:       opts.RunID,
		builds:      opts.Builds,
		applier:     opts.Applier,
		checkpoints: opts.Checkpoints,
		proposer:    opts.Proposer,
		fallback:    fallback,
		events:      opts.Events,
		log:         logger,
		progress:    opts.Progress,
		approve:     approve,
		tracker:     tracker,
		guard:       failure.NewGuard(tracker),
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// logf prints a progress line if a progress writer is configured.
func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

func (o *Orchestrator) logEvent(iteration int, state, target string, sig failure.Signature, exitCode int, duration time.Duration, detail string) {
	if o.events == nil {
		return
	}
	_ = o.events.LogIteration(o.runID, iteration, state, target, string(sig), exitCode, int(duration.Milliseconds()), detail)
}

// Run drives the loop to a terminal state. The context is a stop signal
// sampled only at iteration boundaries: a cancelled context never interrupts
// a build or a backend call mid-flight, and the current iteration's
// bookkeeping completes before the loop exits.
func (o *Orchestrator) Run(ctx context.Context, task string) *Result {
	res := &Result{}
	defer o.finishEvents(res)

	if o.events != nil {
		_ = o.events.StartRun(o.runID, o.cfg.Repo, task, o.cfg.Build.Command)
	}

	if err := o.checkpoints.EnsureBranch(); err != nil {
		return o.abort(res, 0, fmt.Errorf("ensure integration branch: %w", err))
	}
	o.logf("checkpointing to branch %s", o.checkpoints.Branch())

	for iteration := 1; ; iteration++ {
		if iteration > o.cfg.Loop.MaxIterations {
			o.logf("iteration budget (%d) exhausted", o.cfg.Loop.MaxIterations)
			res.Outcome = OutcomeExhausted
			res.Iterations = o.cfg.Loop.MaxIterations
			return res
		}
		res.Iterations = iteration

		if err := ctx.Err(); err != nil {
			o.logf("stop requested, exiting before iteration %d", iteration)
			o.logEvent(iteration, stateStopped, "", "", 0, 0, err.Error())
			return o.abort(res, iteration-1, fmt.Errorf("run stopped: %w", err))
		}

		o.logf("iteration %d: running %q", iteration, o.cfg.Build.Command)
		attempt, err := o.builds.Run(context.Background(), iteration, o.cfg.Build.Command, o.cfg.BuildTimeout())
		if err != nil {
			return o.abort(res, iteration, fmt.Errorf("run build: %w", err))
		}
		o.logEvent(iteration, stateBuilding, "", "", attempt.ExitCode, attempt.Duration, "")

		if !attempt.Failed() {
			return o.succeed(res, iteration)
		}

		if done := o.handleFailure(res, iteration, attempt, task); done {
			return res
		}
	}
}

// handleFailure walks one failed attempt through Analyzing, ProposingFix,
// Applying, and Committing. It returns true when the run must terminate
// (res is then final).
func (o *Orchestrator) handleFailure(res *Result, iteration int, attempt *build.Attempt, task string) bool {
	sig := failure.Fingerprint(attempt.Output)
	target := failure.WholeRun
	if !attempt.Startup {
		target = failure.AttributeTarget(attempt.Output, o.cfg.Repo, o.cfg.Ignore)
	}
	o.logEvent(iteration, stateAnalyzing, target, sig, attempt.ExitCode, 0, "")

	if o.guard.Skipped(target) {
		o.logf("iteration %d: %s is skipped, failure unactioned", iteration, target)
		o.log.Debugw("unactioned failure on skipped target", "target", target, "signature", sig)
		return false
	}

	// A build command that cannot even start gets no fix attempts.
	if attempt.Startup {
		o.skip(res, iteration, target, sig, "build command could not start")
		return false
	}

	repeats := o.tracker.Record(target, sig)
	o.log.Debugw("recorded failure", "target", target, "repeats", repeats)

	if o.guard.Check(target) == failure.Oscillating {
		o.rollbackTarget(target)
		o.skip(res, iteration, target, sig, "oscillation: identical failure filled the window")
		return false
	}

	// ProposingFix: enforce the global inter-call delay, then ask the
	// backend; an unavailable backend degrades to the heuristic path.
	o.waitRateLimit()
	req := proposer.Request{
		Task:        task,
		FailureTail: attempt.Tail(o.cfg.Build.TailLines),
		Target:      fileTarget(target),
		Listing:     proposer.Listing(o.cfg.Repo, target, o.cfg.Ignore),
	}
	prop, err := o.proposer.Propose(context.Background(), req)
	o.lastProposal = o.now()
	if err != nil {
		if !errors.Is(err, proposer.ErrBackendUnavailable) {
			o.log.Warnw("proposer failed", "error", err)
		}
		o.logf("iteration %d: backend unavailable, falling back to hints search", iteration)
		o.logEvent(iteration, stateProposing, target, sig, 0, 0, "fallback: "+err.Error())
		prop, _ = o.fallback.Propose(context.Background(), req)
	} else {
		o.logEvent(iteration, stateProposing, target, sig, 0, 0, prop.Backend)
	}

	// Applying.
	edits, err := patch.Parse(prop.Raw, fileTarget(target))
	if err != nil {
		o.logf("iteration %d: proposal had no usable code blocks", iteration)
		o.logEvent(iteration, stateApplying, target, sig, 0, 0, "parse: "+err.Error())
		return false
	}
	if !o.approve(edits) {
		o.logf("iteration %d: patch declined", iteration)
		o.logEvent(iteration, stateApplying, target, sig, 0, 0, "declined")
		return false
	}
	applied, err := o.applier.Apply(edits)
	if err != nil {
		res.Err = o.fail(res, iteration, fmt.Errorf("apply proposal: %w", err))
		return true
	}
	for _, p := range applied.Skipped {
		o.log.Warnw("skipped unwritable file", "path", p)
	}
	if len(applied.Changed) == 0 {
		o.logf("iteration %d: proposal matched current content, no-op", iteration)
		o.logEvent(iteration, stateApplying, target, sig, 0, 0, "no-op")
		return false
	}
	o.logEvent(iteration, stateApplying, target, sig, 0, 0, fmt.Sprintf("changed %d file(s)", len(applied.Changed)))

	// Committing.
	summary := patch.Summarize(prop.Raw)
	msg := fmt.Sprintf("medic iteration %d: %s", iteration, summary)
	id, err := o.checkpoints.Commit(applied.Changed, msg)
	if err != nil {
		res.Err = o.fail(res, iteration, fmt.Errorf("checkpoint commit: %w", err))
		return true
	}
	if id != "" {
		res.Commits = append(res.Commits, id)
		o.logf("iteration %d: committed %s (%d file(s))", iteration, shortID(id), len(applied.Changed))
		o.logEvent(iteration, stateCommitting, target, sig, 0, 0, id)
		o.applier.NoteCleanIteration(o.cfg.Loop.BackupRetention)
	}
	return false
}

// succeed terminates the run after a clean build: pending edits are
// committed under a final message and the checkpoint is finished.
func (o *Orchestrator) succeed(res *Result, iteration int) *Result {
	o.logf("iteration %d: build succeeded", iteration)

	if pending := o.applier.Pending(); len(pending) > 0 {
		msg := fmt.Sprintf("medic: build fixed after %d iteration(s)", iteration)
		if id, err := o.checkpoints.Commit(pending, msg); err != nil {
			return o.abort(res, iteration, fmt.Errorf("final commit: %w", err))
		} else if id != "" {
			res.Commits = append(res.Commits, id)
		}
	}

	if err := o.checkpoints.Finish(); err != nil {
		return o.abort(res, iteration, fmt.Errorf("finish checkpoint: %w", err))
	}

	res.Outcome = OutcomeSuccess
	res.Iterations = iteration
	res.Skips = o.guard.SkipList()
	return res
}

// skip records an oscillation (or startup) skip for a target and resets its
// tracking so the loop keeps going without it.
func (o *Orchestrator) skip(res *Result, iteration int, target string, sig failure.Signature, reason string) {
	notice := o.guard.Skip(target, sig, iteration)
	res.Skips = append(res.Skips, notice)
	o.logf("iteration %d: skipping %s (%s)", iteration, target, reason)
	o.log.Warnw("target skipped", "target", target, "signature", sig, "iteration", iteration, "reason", reason)
	o.logEvent(iteration, stateSkipped, target, sig, 0, 0, reason)
	if o.events != nil {
		_ = o.events.LogSkip(o.runID, notice.Target, string(notice.Signature), notice.Iterations)
	}
}

// rollbackTarget undoes uncommitted edits for a target before it is skipped.
func (o *Orchestrator) rollbackTarget(target string) {
	var err error
	if target == failure.WholeRun {
		err = o.applier.RollbackAll()
	} else {
		err = o.applier.Rollback(target)
	}
	if err != nil {
		o.log.Warnw("rollback failed", "target", target, "error", err)
	}
}

// waitRateLimit sleeps out the remainder of the global minimum delay between
// proposal requests.
func (o *Orchestrator) waitRateLimit() {
	if o.lastProposal.IsZero() {
		return
	}
	remaining := o.cfg.RateLimit() - o.now().Sub(o.lastProposal)
	if remaining > 0 {
		o.sleep(remaining)
	}
}

func (o *Orchestrator) abort(res *Result, iterations int, err error) *Result {
	res.Outcome = OutcomeAborted
	res.Iterations = iterations
	res.Err = err
	res.Skips = o.guard.SkipList()
	o.log.Errorw("run aborted", "error", err)
	return res
}

// fail marks the result aborted from inside an iteration.
func (o *Orchestrator) fail(res *Result, iterations int, err error) error {
	res.Outcome = OutcomeAborted
	res.Iterations = iterations
	res.Skips = o.guard.SkipList()
	o.log.Errorw("run aborted", "error", err)
	return err
}

// finishEvents records the terminal outcome once the run returns.
func (o *Orchestrator) finishEvents(res *Result) {
	if o.events == nil || res.Outcome == "" {
		return
	}
	_ = o.events.FinishRun(o.runID, string(res.Outcome), res.Iterations)
}

// fileTarget converts the tracker's target key into a path for the proposer
// and parser; whole-run failures have no single file under repair.
func fileTarget(target string) string {
	if target == failure.WholeRun {
		return ""
	}
	return target
}

// IsMergeConflict reports whether an abort was caused by a VCS conflict.
func IsMergeConflict(err error) bool {
	return errors.Is(err, checkpoint.ErrMergeConflict)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
