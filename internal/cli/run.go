package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"buildmedic/internal/build"
	"buildmedic/internal/checkpoint"
	"buildmedic/internal/config"
	"buildmedic/internal/db"
	"buildmedic/internal/orchestrator"
	"buildmedic/internal/patch"
	"buildmedic/internal/proposer"
)

var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run the build-repair loop until the build passes or budgets run out",
	Long: `Runs the configured build command and, on failure, drives the repair
loop: attribute the failure to a file, ask the backend for a fix, apply it,
commit it to the autofix branch, and rebuild. Targets that keep failing the
same way are rolled back and skipped.

Exit code 0 means the build passed; 1 means the budget ran out or the run
aborted.`,
	RunE: runRepair,
}

func init() {
	runCmd.Flags().String("repo", "", "repository to repair (default from config)")
	runCmd.Flags().String("build-cmd", "", "build command to run (default from config)")
	runCmd.Flags().Int("max-iterations", 0, "iteration budget (default from config)")
	runCmd.Flags().String("rate-limit", "", "minimum delay between backend calls, e.g. 2s")
	runCmd.Flags().Bool("auto-approve", false, "apply proposed patches without confirmation")
	runCmd.Flags().Bool("no-push", false, "do not push the autofix branch on success")
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	}

	task := cfg.Task
	if len(args) > 0 {
		task = strings.Join(args, " ")
	}
	if task == "" {
		task = "make the build pass"
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	checkHealth(cmd, backend)

	runID := ulid.Make().String()
	events := openEvents()
	if events != nil {
		defer events.Close()
	}

	out := cmd.OutOrStdout()
	cp := checkpoint.NewManager(&checkpoint.ExecGit{}, cfg.Repo, cfg.Checkpoint.Branch, cfg.Checkpoint.Trunk, cfg.PushEnabled())
	cp.SetProgress(out)

	orch := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		RunID:       runID,
		Builds:      build.NewRunner(&build.ExecRunner{}, cfg.Repo, cfg.Build.LogFile),
		Applier:     patch.NewApplier(cfg.Repo),
		Checkpoints: cp,
		Proposer:    proposer.NewRetrying(backend, cfg.Backend.Retries, cfg.RetryDelay()),
		Fallback:    proposer.NewHints(cfg.HintsDir),
		Events:      eventLog(events),
		Logger:      log,
		Progress:    out,
		Approve:     approveFunc(cmd, cfg),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "medic run %s: %s\n", runID, task)
	res := orch.Run(ctx, task)
	printSummary(out, res)

	if res.Outcome != orchestrator.OutcomeSuccess {
		if res.Err != nil {
			return fmt.Errorf("run %s: %w", res.Outcome, res.Err)
		}
		return fmt.Errorf("run %s after %d iteration(s)", res.Outcome, res.Iterations)
	}
	return nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("repo"); v != "" {
		cfg.Repo = v
	}
	if v, _ := cmd.Flags().GetString("build-cmd"); v != "" {
		cfg.Build.Command = v
	}
	if v, _ := cmd.Flags().GetInt("max-iterations"); v > 0 {
		cfg.Loop.MaxIterations = v
	}
	if v, _ := cmd.Flags().GetString("rate-limit"); v != "" {
		cfg.Loop.RateLimit = v
	}
	if v, _ := cmd.Flags().GetBool("auto-approve"); v {
		cfg.Loop.AutoApprove = true
	}
	if v, _ := cmd.Flags().GetBool("no-push"); v {
		push := false
		cfg.Checkpoint.Push = &push
	}
}

func newBackend(cfg *config.Config) (proposer.Proposer, error) {
	switch cfg.Backend.Kind {
	case "ollama":
		return proposer.NewOllama(cfg.Backend.Endpoint, cfg.Backend.Model, cfg.RequestTimeout()), nil
	case "openai":
		key := os.Getenv(cfg.Backend.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("backend %q requires %s to be set", cfg.Backend.Kind, cfg.Backend.APIKeyEnv)
		}
		return proposer.NewOpenAI(cfg.Backend.Endpoint, cfg.Backend.Model, key, cfg.RequestTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// checkHealth pings the backend once at startup. An unreachable backend is
// reported but not fatal; the loop degrades to the hints fallback.
func checkHealth(cmd *cobra.Command, backend proposer.Proposer) {
	hc, ok := backend.(proposer.HealthChecker)
	if !ok {
		return
	}
	if err := hc.Health(cmd.Context()); err != nil {
		yellow := color.New(color.FgYellow).FprintfFunc()
		yellow(cmd.ErrOrStderr(), "warning: backend unreachable (%v); will fall back to hints\n", err)
	}
}

// openEvents opens the run-history database. History is best effort: a
// broken database never blocks a repair run.
func openEvents() *db.DB {
	path, err := db.DefaultDBPath()
	if err != nil {
		log.Warnw("run history disabled", "error", err)
		return nil
	}
	d, err := db.Open(path)
	if err != nil {
		log.Warnw("run history disabled", "error", err)
		return nil
	}
	return d
}

// eventLog avoids handing the orchestrator a typed-nil interface.
func eventLog(d *db.DB) orchestrator.EventLog {
	if d == nil {
		return nil
	}
	return d
}

// approveFunc returns the patch confirmation hook: nil (always approve)
// under auto-approve, an interactive y/N prompt otherwise.
func approveFunc(cmd *cobra.Command, cfg *config.Config) func([]patch.Edit) bool {
	if cfg.Loop.AutoApprove {
		return nil
	}
	reader := bufio.NewReader(cmd.InOrStdin())
	return func(edits []patch.Edit) bool {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "proposed patch touches %d file(s):\n", len(edits))
		for _, e := range edits {
			fmt.Fprintf(out, "  %s (%d bytes)\n", e.Path, len(e.Content))
		}
		fmt.Fprint(out, "apply? [y/N] ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func printSummary(out io.Writer, res *orchestrator.Result) {
	switch res.Outcome {
	case orchestrator.OutcomeSuccess:
		green := color.New(color.FgGreen, color.Bold).FprintfFunc()
		green(out, "✔ build passing after %d iteration(s), %d commit(s)\n", res.Iterations, len(res.Commits))
	case orchestrator.OutcomeExhausted:
		red := color.New(color.FgRed, color.Bold).FprintfFunc()
		red(out, "✘ budget exhausted after %d iteration(s), %d commit(s)\n", res.Iterations, len(res.Commits))
	default:
		red := color.New(color.FgRed, color.Bold).FprintfFunc()
		red(out, "✘ run aborted after %d iteration(s)\n", res.Iterations)
	}
	for _, s := range res.Skips {
		fmt.Fprintf(out, "  skipped %s at iteration %d (signature %s)\n", s.Target, s.Iterations, shortSig(string(s.Signature)))
	}
}

func shortSig(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
