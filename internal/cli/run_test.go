package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"buildmedic/internal/config"
	"buildmedic/internal/failure"
	"buildmedic/internal/orchestrator"
	"buildmedic/internal/patch"
)

func newFlaggedCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run", Run: func(*cobra.Command, []string) {}}
	cmd.Flags().String("repo", "", "")
	cmd.Flags().String("build-cmd", "", "")
	cmd.Flags().Int("max-iterations", 0, "")
	cmd.Flags().String("rate-limit", "", "")
	cmd.Flags().Bool("auto-approve", false, "")
	cmd.Flags().Bool("no-push", false, "")
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestApplyRunFlagsOverridesConfig(t *testing.T) {
	cfg := config.Default()
	cmd := newFlaggedCmd(t, "--repo", "/tmp/proj", "--build-cmd", "make test", "--max-iterations", "5", "--auto-approve", "--no-push")

	applyRunFlags(cmd, cfg)

	if cfg.Repo != "/tmp/proj" {
		t.Errorf("repo = %s", cfg.Repo)
	}
	if cfg.Build.Command != "make test" {
		t.Errorf("build command = %s", cfg.Build.Command)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Errorf("max iterations = %d", cfg.Loop.MaxIterations)
	}
	if !cfg.Loop.AutoApprove {
		t.Error("auto-approve not applied")
	}
	if cfg.PushEnabled() {
		t.Error("push still enabled after --no-push")
	}
}

func TestApplyRunFlagsLeavesDefaults(t *testing.T) {
	cfg := config.Default()
	want := cfg.Build.Command
	cmd := newFlaggedCmd(t)

	applyRunFlags(cmd, cfg)

	if cfg.Build.Command != want {
		t.Errorf("build command changed to %s without a flag", cfg.Build.Command)
	}
	if !cfg.PushEnabled() {
		t.Error("push disabled without --no-push")
	}
}

func TestNewBackendRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = "carrier-pigeon"
	if _, err := newBackend(cfg); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestNewBackendOpenAIRequiresKey(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = "openai"
	cfg.Backend.APIKeyEnv = "MEDIC_TEST_MISSING_KEY"
	if _, err := newBackend(cfg); err == nil {
		t.Fatal("expected error when API key env is unset")
	}
}

func TestApproveFuncReadsAnswer(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.AutoApprove = false

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("y\nn\n"))

	approve := approveFunc(cmd, cfg)
	edits := []patch.Edit{{Path: "main.go", Content: "package main\n"}}

	if !approve(edits) {
		t.Error("first answer was y, want approved")
	}
	if approve(edits) {
		t.Error("second answer was n, want declined")
	}
	if !strings.Contains(out.String(), "main.go") {
		t.Errorf("prompt did not list the file: %q", out.String())
	}
}

func TestApproveFuncNilUnderAutoApprove(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.AutoApprove = true
	if approveFunc(&cobra.Command{}, cfg) != nil {
		t.Error("auto-approve should disable the prompt")
	}
}

func TestPrintSummaryListsSkips(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &orchestrator.Result{
		Outcome:    orchestrator.OutcomeExhausted,
		Iterations: 10,
		Skips:      []failure.SkipNotice{{Target: "broken.go", Signature: "abcdef0123456789", Iterations: 5}},
	})
	if !strings.Contains(out.String(), "exhausted") {
		t.Errorf("summary = %q", out.String())
	}
	if !strings.Contains(out.String(), "broken.go") {
		t.Errorf("summary missing skip: %q", out.String())
	}
}
