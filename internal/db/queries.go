package db

import (
	"database/sql"
	"fmt"
)

// Run represents a row in the runs table.
type Run struct {
	RunID      string
	Repo       string
	Task       string
	BuildCmd   string
	Outcome    string
	Iterations int
	StartedAt  string
	FinishedAt string
}

// Iteration represents a row in the iterations table.
type Iteration struct {
	ID         int
	RunID      string
	Iteration  int
	State      string
	Target     string
	Signature  string
	ExitCode   int
	DurationMs int
	Detail     string
	Timestamp  string
}

// Skip represents a row in the skips table.
type Skip struct {
	ID         int
	RunID      string
	Target     string
	Signature  string
	Iterations int
	Timestamp  string
}

// StartRun inserts a new run row.
func (d *DB) StartRun(runID, repo, task, buildCmd string) error {
	_, err := d.conn.Exec(
		`INSERT INTO runs (run_id, repo, task, build_cmd) VALUES (?, ?, ?, ?)`,
		runID, repo, task, buildCmd,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the run's terminal outcome and iteration count.
func (d *DB) FinishRun(runID, outcome string, iterations int) error {
	_, err := d.conn.Exec(
		`UPDATE runs SET outcome = ?, iterations = ?, finished_at = datetime('now') WHERE run_id = ?`,
		outcome, iterations, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LogIteration inserts one iteration event.
func (d *DB) LogIteration(runID string, iteration int, state, target, signature string, exitCode, durationMs int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO iterations (run_id, iteration, state, target, signature, exit_code, duration_ms, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, iteration, state, target, signature, exitCode, durationMs, detail,
	)
	if err != nil {
		return fmt.Errorf("log iteration: %w", err)
	}
	return nil
}

// LogSkip records an oscillation skip.
func (d *DB) LogSkip(runID, target, signature string, iterations int) error {
	_, err := d.conn.Exec(
		`INSERT INTO skips (run_id, target, signature, iterations) VALUES (?, ?, ?, ?)`,
		runID, target, signature, iterations,
	)
	if err != nil {
		return fmt.Errorf("log skip: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT run_id, repo, task, build_cmd, outcome, iterations, started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Repo, &r.Task, &r.BuildCmd, &r.Outcome, &r.Iterations, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListIterations returns a run's iteration events in order.
func (d *DB) ListIterations(runID string) ([]Iteration, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, iteration, state, target, signature, exit_code, duration_ms, detail, timestamp
		 FROM iterations WHERE run_id = ? ORDER BY iteration, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		if err := rows.Scan(&it.ID, &it.RunID, &it.Iteration, &it.State, &it.Target, &it.Signature, &it.ExitCode, &it.DurationMs, &it.Detail, &it.Timestamp); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListSkips returns a run's skip events.
func (d *DB) ListSkips(runID string) ([]Skip, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, target, signature, iterations, timestamp
		 FROM skips WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list skips: %w", err)
	}
	defer rows.Close()

	var out []Skip
	for rows.Next() {
		var s Skip
		if err := rows.Scan(&s.ID, &s.RunID, &s.Target, &s.Signature, &s.Iterations, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastRunID returns the most recent run id, or empty when none exist.
func (d *DB) LastRunID() (string, error) {
	row := d.conn.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT 1`)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last run id: %w", err)
	}
	return id, nil
}
