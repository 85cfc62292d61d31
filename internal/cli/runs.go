package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"buildmedic/internal/db"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past repair runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent repair runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openHistory()
		if err != nil {
			return err
		}
		defer d.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := d.ListRuns(limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, runs)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tOUTCOME\tITERS\tREPO\tBUILD\tSTARTED")
		for _, r := range runs {
			outcome := r.Outcome
			if outcome == "" {
				outcome = "running"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				r.RunID, outcome, r.Iterations, r.Repo, r.BuildCmd, r.StartedAt)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the iteration trail of a run (latest if no ID given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openHistory()
		if err != nil {
			return err
		}
		defer d.Close()

		var runID string
		if len(args) == 1 {
			runID = args[0]
		} else {
			runID, err = d.LastRunID()
			if err != nil {
				return err
			}
		}

		iters, err := d.ListIterations(runID)
		if err != nil {
			return err
		}
		skips, err := d.ListSkips(runID)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, map[string]interface{}{
				"run_id":     runID,
				"iterations": iters,
				"skips":      skips,
			})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s\n", runID)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ITER\tSTATE\tTARGET\tEXIT\tDETAIL")
		for _, it := range iters {
			detail := it.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", it.Iteration, it.State, it.Target, it.ExitCode, detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, s := range skips {
			fmt.Fprintf(out, "skipped: %s at iteration %d\n", s.Target, s.Iterations)
		}
		return nil
	},
}

func openHistory() (*db.DB, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return db.Open(path)
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsListCmd.Flags().String("format", "text", "Output format: text or json")
	runsShowCmd.Flags().String("format", "text", "Output format: text or json")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
